package kvstore

import (
	"context"
	"time"

	"github.com/nodeplane/ribengine/metrics"
	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
)

const rpcTimeout = 5 * time.Second

// maxParallelSyncLimit bounds the doubling of parallelSyncLimit: it starts
// at 2 and doubles on each successful sync up to this cap.
const maxParallelSyncLimit = 32

// AddPeer registers a new peer connection at IDLE (PEER_ADD event) and
// immediately calls ScanPeers, which promotes it to SYNCING subject to
// parallelSyncLimit.
func (db *KvStoreDb) AddPeer(id transport.PeerId, spec transport.PeerSpec, client transport.Client) {
	db.peers[id] = newPeerEntry(id, spec, client)
	db.ScanPeers()
}

// DeletePeer tears down a peer connection (PEER_DEL event). Removing the
// last un-synced peer can complete initial sync.
func (db *KvStoreDb) DeletePeer(id transport.PeerId) error {
	if _, ok := db.peers[id]; !ok {
		return ErrUnknownPeer
	}
	delete(db.peers, id)
	if len(db.peers) > 0 {
		db.checkInitialSync()
	}
	return nil
}

// PeerStatus reports a peer's current FSM state.
func (db *KvStoreDb) PeerStatus(id transport.PeerId) (PeerStatus, bool) {
	p, ok := db.peers[id]
	if !ok {
		return 0, false
	}
	return p.status, true
}

// ScanPeers starts a full sync for up to parallelSyncLimit IDLE peers that
// are not currently backing off. Call on a timer. An area with no peers at
// all counts as synced on its first scan.
func (db *KvStoreDb) ScanPeers() {
	if len(db.peers) == 0 {
		db.markInitialSyncDone()
		return
	}
	started := 0
	for _, p := range db.peers {
		if started >= db.parallelSyncLimit {
			return
		}
		if p.status == PeerIdle && !p.inBackoff {
			db.startSync(p)
			started++
		}
	}
}

func (db *KvStoreDb) startSync(p *peerEntry) {
	p.status = PeerSyncing
	p.inBackoff = false
	params := transport.KeyValParams{SenderId: db.nodeId, KnownKeyValHashes: db.digest()}
	go db.runSync(p, params)
}

// runSync issues the first leg of the three-way full sync off the reactor
// goroutine (it blocks on network I/O), then dispatches the response
// handling back onto the reactor.
func (db *KvStoreDb) runSync(p *peerEntry, params transport.KeyValParams) {
	ctx, cancel := context.WithTimeout(db.reactorCtx(), rpcTimeout)
	defer cancel()
	resp, err := p.client.GetKvStoreKeyVals(ctx, db.area, params)
	db.dispatch(func() error {
		db.handleSyncResult(p, resp, err)
		return nil
	})
}

func (db *KvStoreDb) handleSyncResult(p *peerEntry, resp wire.Publication, err error) {
	if _, ok := db.peers[p.id]; !ok {
		return // peer was deleted while the RPC was in flight
	}
	if err != nil {
		db.onPeerApiError(p)
		return
	}
	p.backoff.Reset()
	p.inBackoff = false

	_, reply := db.mergePublication(resp, false, db.nodeId)
	p.status = PeerInitialized
	if db.parallelSyncLimit < maxParallelSyncLimit {
		db.parallelSyncLimit *= 2
		if db.parallelSyncLimit > maxParallelSyncLimit {
			db.parallelSyncLimit = maxParallelSyncLimit
		}
	}
	db.log.Debug("peer sync completed", "peer", p.spec.NodeName, "area", db.area)

	db.finalizeFullSync(p, reply)
	db.checkInitialSync()
}

// finalizeFullSync sends the sync's third leg: the keys the peer's digest
// showed it was missing or holding stale, plus anything that changed
// locally while the handshake was in flight.
func (db *KvStoreDb) finalizeFullSync(p *peerEntry, reply *wire.Publication) {
	fin := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}, NodeIds: []string{db.nodeId}}
	if reply != nil {
		for k, v := range reply.KeyVals {
			fin.KeyVals[k] = v
		}
	}
	for key := range p.pendingKeys {
		if item := db.cache.Get(key); item != nil {
			fin.KeyVals[key] = item.Value()
		}
	}
	p.pendingKeys = make(map[string]bool)
	if len(fin.KeyVals) == 0 {
		return
	}
	db.sendSetKeyVals(p.id, p, fin)
}

// ReportInconsistency handles the INCONSISTENCY_DETECTED event: a peer that
// keeps returning conflicting versions is dropped to IDLE and re-synced,
// same as an API error.
func (db *KvStoreDb) ReportInconsistency(id transport.PeerId) error {
	p, ok := db.peers[id]
	if !ok {
		return ErrUnknownPeer
	}
	db.onPeerApiError(p)
	return nil
}

func (db *KvStoreDb) onPeerApiError(p *peerEntry) {
	metrics.PeerApiErrors.Add(1)
	p.status = PeerIdle
	p.inBackoff = true
	delay := p.backoff.NextBackOff()
	db.log.Warn("peer api error, backing off", "error", ErrPeerApiError, "peer", p.spec.NodeName, "area", db.area, "delay", delay)
	if db.env != nil {
		db.env.ScheduleTask(func() error {
			db.retrySync(p.id)
			return nil
		}, delay)
	}
}

func (db *KvStoreDb) retrySync(id transport.PeerId) {
	p, ok := db.peers[id]
	if !ok || p.status != PeerIdle || !p.inBackoff {
		return
	}
	db.startSync(p)
}

// checkInitialSync fires OnInitialSync exactly once, the first time every
// known peer has reached INITIALIZED.
func (db *KvStoreDb) checkInitialSync() {
	if db.initialSyncDone {
		return
	}
	for _, p := range db.peers {
		if p.status != PeerInitialized {
			return
		}
	}
	db.markInitialSyncDone()
}

func (db *KvStoreDb) markInitialSyncDone() {
	if db.initialSyncDone {
		return
	}
	db.initialSyncDone = true
	if db.onInitialSync != nil {
		db.onInitialSync()
	}
}

// sendSetKeyVals pushes pub to a single peer (the sync protocol's third leg,
// or an ordinary flood). Runs off-reactor; only the error-handling tail
// dispatches back.
func (db *KvStoreDb) sendSetKeyVals(id transport.PeerId, p *peerEntry, pub wire.Publication) {
	go func() {
		ctx, cancel := context.WithTimeout(db.reactorCtx(), rpcTimeout)
		defer cancel()
		err := p.client.SetKvStoreKeyVals(ctx, db.area, pub)
		if err == nil {
			return
		}
		db.dispatch(func() error {
			if cur, ok := db.peers[id]; ok && cur == p {
				db.onPeerApiError(p)
			}
			return nil
		})
	}()
}

func (db *KvStoreDb) reactorCtx() context.Context {
	if db.env != nil {
		return db.env.Context
	}
	return context.Background()
}

func (db *KvStoreDb) dispatch(fn func() error) {
	if db.env != nil {
		db.env.Dispatch(fn)
		return
	}
	_ = fn()
}

// HandleInboundSetKeyVals processes an unsolicited push from a peer (another
// node's flood, or the third leg of a sync this node initiated as the
// responder). senderId lets mergePublication build a reply when pub itself
// carries TobeUpdatedKeys.
func (db *KvStoreDb) HandleInboundSetKeyVals(pub wire.Publication, senderId string) *wire.Publication {
	_, reply := db.mergePublication(pub, false, senderId)
	return reply
}

// HandleInboundGetKeyVals answers an inbound sync request from a peer.
func (db *KvStoreDb) HandleInboundGetKeyVals(params transport.KeyValParams) wire.Publication {
	return db.handleGetKvStoreKeyVals(params)
}
