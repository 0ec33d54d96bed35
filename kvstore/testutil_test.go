package kvstore

import (
	"context"

	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
)

// fakeClient is an in-memory transport.Client backed by another KvStoreDb,
// so peer-sync tests can exercise the real merge/FSM logic without a
// network.
type fakeClient struct {
	peer *KvStoreDb

	getErr error
	setErr error
}

func (c *fakeClient) GetKvStoreKeyVals(_ context.Context, _ string, params transport.KeyValParams) (wire.Publication, error) {
	if c.getErr != nil {
		return wire.Publication{}, c.getErr
	}
	return c.peer.handleGetKvStoreKeyVals(params), nil
}

func (c *fakeClient) SetKvStoreKeyVals(_ context.Context, _ string, pub wire.Publication) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.peer.mergePublication(pub, false, "")
	return nil
}

func (c *fakeClient) DumpKvStoreKeys(context.Context, transport.DumpParams) ([]wire.Publication, error) {
	return []wire.Publication{c.peer.DumpAll()}, nil
}

func (c *fakeClient) DumpKvStoreHashes(context.Context, transport.DumpParams) ([]wire.Publication, error) {
	return []wire.Publication{c.peer.DumpHashes()}, nil
}

func val(version uint64, originator string, value []byte, ttlMs int64) wire.Value {
	v := wire.Value{Version: version, OriginatorId: originator, Value: value, Ttl: ttlMs}
	v.Hash = valueHash(originator, value)
	return v
}

// aPub builds a one-key Publication as if originated by nodeId, for
// seeding a KvStoreDb before wiring it to a peer.
func aPub(nodeId, key string) wire.Publication {
	return wire.Publication{KeyVals: map[string]wire.Value{
		key: val(1, nodeId, []byte(key), 60_000),
	}}
}
