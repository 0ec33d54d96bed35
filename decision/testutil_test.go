package decision

import (
	"net/netip"
	"testing"

	"github.com/nodeplane/ribengine/prefix"
	"github.com/nodeplane/ribengine/topology"
	"github.com/nodeplane/ribengine/wire"
)

// linkAdj builds a pair of reciprocal wire.Adjacency records for a
// bidirectional link between a and b with the given metric, symmetric on
// both sides.
func linkAdj(a, b string, metric uint32) (wire.Adjacency, wire.Adjacency) {
	return wire.Adjacency{
			OtherNodeName: b,
			IfName:        "eth-" + b,
			OtherIfName:   "eth-" + a,
			Metric:        metric,
		}, wire.Adjacency{
			OtherNodeName: a,
			IfName:        "eth-" + a,
			OtherIfName:   "eth-" + b,
			Metric:        metric,
		}
}

// buildLinkState ingests a simple symmetric topology described as
// (node, neighbor, metric) triples, each triple appearing from both
// directions exactly once.
func buildLinkState(t *testing.T, area string, edges [][3]any) *topology.LinkState {
	t.Helper()
	return buildLinkStateLabels(t, area, edges, nil)
}

// buildLinkStateLabels is buildLinkState with per-node segment labels.
func buildLinkStateLabels(t *testing.T, area string, edges [][3]any, labels map[string]int32) *topology.LinkState {
	t.Helper()
	ls := topology.NewLinkState(area, nil)
	adjByNode := map[string][]wire.Adjacency{}
	for _, e := range edges {
		a, b, metric := e[0].(string), e[1].(string), uint32(e[2].(int))
		fwd, rev := linkAdj(a, b, metric)
		adjByNode[a] = append(adjByNode[a], fwd)
		adjByNode[b] = append(adjByNode[b], rev)
	}
	for node, adjs := range adjByNode {
		_, err := ls.UpdateAdjacencyDatabase(wire.AdjacencyDatabase{
			ThisNodeName: node,
			Area:         area,
			NodeLabel:    labels[node],
			Adjacencies:  adjs,
		})
		if err != nil {
			t.Fatalf("UpdateAdjacencyDatabase(%s): %v", node, err)
		}
	}
	return ls
}

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%s): %v", s, err)
	}
	return p
}

func entry(node, area string, p netip.Prefix, pathPref, sourcePref int32) *prefix.Entry {
	return &prefix.Entry{
		Prefix:           p,
		OriginatorId:     node,
		Area:             area,
		ForwardingAlgo:   prefix.SpEcmp,
		ForwardingType:   prefix.ForwardingIP,
		PathPreference:   pathPref,
		SourcePreference: sourcePref,
		Weight:           1,
	}
}
