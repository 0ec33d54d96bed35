package kvstore

import (
	"testing"
	"time"

	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDb(nodeId string) *KvStoreDb {
	return NewKvStoreDb("area1", nodeId, nil, nil)
}

func TestMergePublicationInsertsNewKey(t *testing.T) {
	db := newTestDb("node1")
	changed, reply := db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(1, "node2", []byte("a"), 60_000),
	}}, false, "")
	assert.Equal(t, 1, changed)
	assert.Nil(t, reply)

	got, ok := db.Get("k1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Version)
}

func TestMergePublicationHigherVersionWins(t *testing.T) {
	db := newTestDb("node1")
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(1, "node2", []byte("a"), 60_000),
	}}, false, "")

	changed, _ := db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(2, "node2", []byte("b"), 60_000),
	}}, false, "")
	assert.Equal(t, 1, changed)

	got, _ := db.Get("k1")
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, []byte("b"), got.Value)
}

func TestMergePublicationLowerVersionLoses(t *testing.T) {
	db := newTestDb("node1")
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(5, "node2", []byte("a"), 60_000),
	}}, false, "")

	changed, _ := db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(2, "node2", []byte("b"), 60_000),
	}}, false, "")
	assert.Equal(t, 0, changed)

	got, _ := db.Get("k1")
	assert.Equal(t, uint64(5), got.Version)
}

func TestMergePublicationEqualVersionOriginatorIdBreaksTie(t *testing.T) {
	db := newTestDb("node1")
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(1, "nodeA", []byte("a"), 60_000),
	}}, false, "")

	changed, _ := db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(1, "nodeZ", []byte("b"), 60_000),
	}}, false, "")
	assert.Equal(t, 1, changed)

	got, _ := db.Get("k1")
	assert.Equal(t, "nodeZ", got.OriginatorId)
}

func TestMergePublicationIsCommutative(t *testing.T) {
	a := val(3, "nodeA", []byte("x"), 60_000)
	b := val(3, "nodeB", []byte("y"), 60_000)

	db1 := newTestDb("n")
	db1.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k": a}}, false, "")
	db1.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k": b}}, false, "")

	db2 := newTestDb("n")
	db2.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k": b}}, false, "")
	db2.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k": a}}, false, "")

	v1, _ := db1.Get("k")
	v2, _ := db2.Get("k")
	assert.Equal(t, v1, v2)
	assert.Equal(t, "nodeB", v1.OriginatorId) // lexicographically greater originatorId at equal version
}

func TestMergePublicationTiePureTtlRefreshUpdatesTtlOnly(t *testing.T) {
	db := newTestDb("node1")
	v := val(1, "node2", []byte("a"), 60_000)
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k1": v}}, false, "")

	refreshed := v
	refreshed.TtlVersion = 1
	refreshed.Ttl = 30_000
	changed, _ := db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k1": refreshed}}, false, "")
	assert.Equal(t, 1, changed)

	got, _ := db.Get("k1")
	assert.Equal(t, uint64(1), got.TtlVersion)
	assert.Equal(t, int64(30_000), got.Ttl)
	assert.Equal(t, v.Value, got.Value) // content untouched by a ttl-only refresh
}

func TestMergePublicationStaleTtlVersionIgnored(t *testing.T) {
	db := newTestDb("node1")
	v := val(1, "node2", []byte("a"), 60_000)
	v.TtlVersion = 5
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k1": v}}, false, "")

	stale := v
	stale.TtlVersion = 1
	changed, _ := db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k1": stale}}, false, "")
	assert.Equal(t, 0, changed)
}

func TestMergePublicationRepliesWithRequestedKeys(t *testing.T) {
	db := newTestDb("node1")
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"have": val(1, "node1", []byte("x"), 60_000),
	}}, false, "")

	_, reply := db.mergePublication(wire.Publication{
		KeyVals:         map[string]wire.Value{},
		TobeUpdatedKeys: []string{"have", "missing"},
	}, false, "node2")

	require.NotNil(t, reply)
	assert.Contains(t, reply.KeyVals, "have")
	assert.NotContains(t, reply.KeyVals, "missing")
}

func TestHandleGetKvStoreKeyValsOmitsKnownHashes(t *testing.T) {
	db := newTestDb("node1")
	v := val(1, "node1", []byte("x"), 60_000)
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{"k1": v}}, false, "")

	resp := db.handleGetKvStoreKeyVals(transport.KeyValParams{
		KnownKeyValHashes: map[string]uint64{"k1": v.Hash},
	})
	assert.NotContains(t, resp.KeyVals, "k1")
}

func TestHandleGetKvStoreKeyValsRequestsUnknownDigestEntries(t *testing.T) {
	db := newTestDb("node1")
	resp := db.handleGetKvStoreKeyVals(transport.KeyValParams{
		KnownKeyValHashes: map[string]uint64{"theirs": 0xdead},
	})
	assert.Contains(t, resp.TobeUpdatedKeys, "theirs")
}

func TestHandleGetKvStoreKeyValsRespectsPrefixFilter(t *testing.T) {
	db := newTestDb("node1")
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"prefix/a": val(1, "node1", []byte("x"), 60_000),
		"other/b":  val(1, "node1", []byte("y"), 60_000),
	}}, false, "")

	resp := db.handleGetKvStoreKeyVals(transport.KeyValParams{KeyPrefixFilter: []string{"prefix/"}})
	assert.Contains(t, resp.KeyVals, "prefix/a")
	assert.NotContains(t, resp.KeyVals, "other/b")
}

func TestTickTtlExpiresAndPublishes(t *testing.T) {
	db := newTestDb("node1")
	var published []wire.Publication
	db.OnUpdate(func(p wire.Publication) { published = append(published, p) })

	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"short": val(1, "node1", []byte("x"), 20),
	}}, false, "")

	time.Sleep(80 * time.Millisecond)
	expired := db.TickTtl()
	require.Equal(t, []string{"short"}, expired)

	_, ok := db.Get("short")
	assert.False(t, ok)

	var sawExpiry bool
	for _, p := range published {
		if len(p.ExpiredKeys) == 1 && p.ExpiredKeys[0] == "short" {
			sawExpiry = true
		}
	}
	assert.True(t, sawExpiry)
}

func TestDumpHashesOmitsValueBytes(t *testing.T) {
	db := newTestDb("node1")
	db.mergePublication(wire.Publication{KeyVals: map[string]wire.Value{
		"k1": val(1, "node1", []byte("secret"), 60_000),
	}}, false, "")

	dump := db.DumpHashes()
	v, ok := dump.KeyVals["k1"]
	require.True(t, ok)
	assert.Nil(t, v.Value)
	assert.NotZero(t, v.Hash)
}
