package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeplane/ribengine/config"
	"github.com/nodeplane/ribengine/prefix"
	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
)

// fakeClient is an inert transport.Client: it answers sync requests with an
// empty publication so a peer dial in tests doesn't need a real network.
type fakeClient struct{}

func (fakeClient) GetKvStoreKeyVals(context.Context, string, transport.KeyValParams) (wire.Publication, error) {
	return wire.Publication{}, nil
}
func (fakeClient) SetKvStoreKeyVals(context.Context, string, wire.Publication) error { return nil }
func (fakeClient) DumpKvStoreKeys(context.Context, transport.DumpParams) ([]wire.Publication, error) {
	return nil, nil
}
func (fakeClient) DumpKvStoreHashes(context.Context, transport.DumpParams) ([]wire.Publication, error) {
	return nil, nil
}

func fakeDialer(spec transport.PeerSpec) (transport.Client, error) {
	return fakeClient{}, nil
}

func erroringDialer(spec transport.PeerSpec) (transport.Client, error) {
	return nil, errors.New("dial refused")
}

func oneAreaConfig() *config.NodeConfig {
	return &config.NodeConfig{
		Id: "node1",
		Areas: []config.AreaConfig{
			{
				Name: "area1",
				Peers: []config.PeerConfig{
					{NodeName: "node2", Address: "10.0.0.2:9999"},
				},
				FloodRate:  10,
				FloodBurst: 5,
			},
		},
		Prefixes: []config.StaticPrefix{
			{Area: "area1", Prefix: "10.1.0.0/24", PathPreference: 100},
		},
	}
}

func TestNewBuildsAreaAndPrefixState(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, fakeDialer, nil)
	require.NoError(t, err)

	ls, ok := d.LinkState("area1")
	assert.True(t, ok)
	assert.Equal(t, "area1", ls.Area())

	ps, ok := d.PrefixState("area1")
	assert.True(t, ok)
	assert.Empty(t, ps.AllPrefixes(), "static prefixes go to the solver, not the advertised-prefix store")
}

func TestStaticPrefixAppearsInRib(t *testing.T) {
	cfg := &config.NodeConfig{
		Id:    "node1",
		Areas: []config.AreaConfig{{Name: "area1"}},
		Prefixes: []config.StaticPrefix{
			{Area: "area1", Prefix: "10.1.0.0/24", NextHop: "10.0.0.2"},
		},
	}
	d, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))
	require.NoError(t, d.Run())

	// Nothing is computed until this node exists in some area's LSDB.
	require.NoError(t, d.IngestAdjacencyDatabase("area1", wire.AdjacencyDatabase{
		ThisNodeName: "node1",
		Area:         "area1",
		Adjacencies: []wire.Adjacency{
			{OtherNodeName: "node2", IfName: "eth0", OtherIfName: "eth0", Metric: 10},
		},
	}))
	d.Recompute()

	route, ok := d.CurrentRib().UnicastRoutes["10.1.0.0/24"]
	require.True(t, ok, "configured static prefix must land in the RIB")
	assert.True(t, route.LocalPrefixConsidered)
	require.Len(t, route.NextHops, 1)
	assert.Equal(t, "10.0.0.2", route.NextHops[0].Addr.String())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := oneAreaConfig()
	cfg.Id = "Not Valid"
	_, err := New(cfg, nil, fakeDialer, nil)
	assert.Error(t, err)
}

func TestNewRejectsStaticPrefixWithUnknownArea(t *testing.T) {
	cfg := oneAreaConfig()
	cfg.Prefixes[0].Area = "nope"
	_, err := New(cfg, nil, fakeDialer, nil)
	assert.Error(t, err)
}

func TestRunDialsConfiguredPeers(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, fakeDialer, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))

	require.NoError(t, d.Run())
}

func TestRunPropagatesDialError(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, erroringDialer, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))

	err = d.Run()
	assert.Error(t, err)
}

func TestRunWithNoDialerFailsWhenPeersConfigured(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, nil, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))

	err = d.Run()
	assert.Error(t, err)
}

func TestIngestAdjacencyDatabaseRecomputesRib(t *testing.T) {
	cfg := &config.NodeConfig{
		Id:    "node1",
		Areas: []config.AreaConfig{{Name: "area1"}},
		Prefixes: []config.StaticPrefix{
			{Area: "area1", Prefix: "10.1.0.0/24"},
		},
	}
	d, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))
	require.NoError(t, d.Run())

	err = d.IngestAdjacencyDatabase("area1", wire.AdjacencyDatabase{
		ThisNodeName: "node1",
		Area:         "area1",
		Adjacencies: []wire.Adjacency{
			{OtherNodeName: "node2", IfName: "eth0", OtherIfName: "eth0", Metric: 10},
		},
	})
	require.NoError(t, err)

	delta := d.Recompute()
	assert.True(t, delta.Empty(), "recompute with no new topology change since the last ingest should be a no-op")
}

func TestIngestAdjacencyDatabaseUnknownAreaReturnsError(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, fakeDialer, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))

	err = d.IngestAdjacencyDatabase("no-such-area", wire.AdjacencyDatabase{})
	assert.Error(t, err)
}

func TestAdvertisePrefixUnknownAreaReturnsError(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, fakeDialer, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))

	err = d.AdvertisePrefix("no-such-area", &prefix.Entry{})
	assert.Error(t, err)
}

func TestCountersReflectsConfiguredAreas(t *testing.T) {
	d, err := New(oneAreaConfig(), nil, fakeDialer, nil)
	require.NoError(t, err)
	defer d.Stop(errors.New("test done"))
	require.NoError(t, d.Run())

	counters := d.Counters()
	assert.Contains(t, counters, "area1.kv.peers")
}
