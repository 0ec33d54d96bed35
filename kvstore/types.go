// Package kvstore implements the per-area replicated key-value store:
// version/originator-based conflict resolution, TTL-driven garbage
// collection, self-originated-key persistence, a peer state machine, a
// three-way full-sync protocol, and rate-limited flooding. It also holds
// the multi-area façade that demultiplexes onto one KvStoreDb per area.
package kvstore

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nodeplane/ribengine/transport"
)

// PeerStatus is the KvStoreDb peer state machine's state.
type PeerStatus int

const (
	PeerIdle PeerStatus = iota
	PeerSyncing
	PeerInitialized
)

func (s PeerStatus) String() string {
	switch s {
	case PeerIdle:
		return "IDLE"
	case PeerSyncing:
		return "SYNCING"
	case PeerInitialized:
		return "INITIALIZED"
	default:
		return "UNKNOWN"
	}
}

// peerEntry is one peer connection's FSM state and backoff schedule.
type peerEntry struct {
	id     transport.PeerId
	spec   transport.PeerSpec
	client transport.Client
	status PeerStatus

	backoff   *backoff.ExponentialBackOff
	inBackoff bool

	// pendingKeys are keys that changed locally while this peer was still
	// SYNCING; the full-sync finalize leg includes them so the peer doesn't
	// miss updates flooded past it mid-handshake.
	pendingKeys map[string]bool
}

// newPeerEntry constructs a peer entry starting IDLE with a backoff
// schedule: initial 8s, doubling, capped at 1h, retried forever.
func newPeerEntry(id transport.PeerId, spec transport.PeerSpec, client transport.Client) *peerEntry {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 8 * time.Second
	eb.MaxInterval = time.Hour
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	return &peerEntry{
		id:          id,
		spec:        spec,
		client:      client,
		status:      PeerIdle,
		backoff:     eb,
		pendingKeys: make(map[string]bool),
	}
}

// selfOriginatedEntry tracks one locally-owned key's refresh bookkeeping.
type selfOriginatedEntry struct {
	value      []byte
	version    uint64
	ttl        time.Duration
	ttlVersion uint64
	// unset marks a key whose (possibly replaced) value goes out in the next
	// throttled batch for the last time, after which refreshing stops.
	unset bool
}
