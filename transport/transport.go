// Package transport defines the abstract peer-RPC capability set the
// KvStoreDb is parameterized over. Connection setup, TLS, and framing are
// external collaborators; this package only names the calls the core
// issues.
package transport

import (
	"context"

	"github.com/google/uuid"
	"github.com/nodeplane/ribengine/wire"
)

// PeerId uniquely identifies a peer connection, independent of the peer's
// node name (a node may reconnect under a new PeerId after a restart).
type PeerId = uuid.UUID

// KeyValParams is the request-object for the getKvStoreKeyVals RPC: a small
// param struct rather than a long argument list.
type KeyValParams struct {
	KeyPrefixFilter   []string
	SenderId          string
	KnownKeyValHashes map[string]uint64
}

// DumpParams parametrizes dumpKvStoreKeys/dumpKvStoreHashes.
type DumpParams struct {
	KeyPrefixFilter []string
	Areas           []string
}

// Client is the capability set a KvStoreDb needs from a connected peer.
// Production code backs this with a compressed, framed RPC client; tests
// back it with an in-memory fake.
type Client interface {
	GetKvStoreKeyVals(ctx context.Context, area string, params KeyValParams) (wire.Publication, error)
	SetKvStoreKeyVals(ctx context.Context, area string, pub wire.Publication) error
	DumpKvStoreKeys(ctx context.Context, params DumpParams) ([]wire.Publication, error)
	DumpKvStoreHashes(ctx context.Context, params DumpParams) ([]wire.Publication, error)
}

// PeerSpec names a configured peer: how to find and authenticate it. The
// actual dial/auth mechanics live in the transport implementation; the core
// only needs enough to label and deduplicate peers.
type PeerSpec struct {
	NodeName string
	Area     string
	Address  string
}
