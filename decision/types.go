// Package decision implements the route decision core: best-origin
// selection across areas, per-area forwarding path computation, and RIB
// construction, plus the installed-RIB diff store.
package decision

import (
	"net/netip"

	"github.com/nodeplane/ribengine/prefix"
)

// NodeArea identifies one node's presence within one area — the unit
// best-route selection operates over, since the same node may originate the
// same prefix from more than one area.
type NodeArea struct {
	Node string
	Area string
}

// MplsAction is the label operation a NextHop applies.
type MplsAction int

const (
	MplsActionNone MplsAction = iota
	MplsActionPush
	MplsActionSwap
	MplsActionPhp
	MplsActionPopAndLookup
)

// NextHop is one installable forwarding path: the outgoing neighbor, its
// local interface/address, the path cost, a relative ECMP/UCMP weight, and
// an optional label operation.
type NextHop struct {
	Node       string
	Iface      string
	Addr       netip.Addr
	Metric     uint64
	Weight     int64
	Area       string
	MplsAction MplsAction
	MplsLabel  int32
	// MplsPushLabels is the label stack a PUSH action applies, outermost
	// first — the node labels along a KSP2 path beyond the first hop.
	MplsPushLabels []int32
}

// RibUnicastEntry is one installed prefix route.
type RibUnicastEntry struct {
	Prefix         netip.Prefix
	NextHops       []NextHop
	ForwardingAlgo prefix.ForwardingAlgorithm
	ForwardingType prefix.ForwardingType
	// DrainMetric is 1 when the selected best origin is hard- or
	// soft-drained, so downstream redistribution can see that this path
	// passes through a drained node.
	DrainMetric int32
	// BestArea is the area the winning next-hops were computed in (the
	// area with the shortest cross-area metric).
	BestArea string
	// ShortestMetric is the IGP distance to the best origin within BestArea.
	ShortestMetric uint64
	// LocalPrefixConsidered is true when this node was itself among the
	// raw advertisers for this prefix, before drain/distance filtering.
	LocalPrefixConsidered bool
}

// RibMplsEntry is one installed MPLS label route: node-segment or
// adjacency-label.
type RibMplsEntry struct {
	Label    int32
	NextHops []NextHop
}

// RouteDb is one BuildRib call's full output.
type RouteDb struct {
	UnicastRoutes map[string]*RibUnicastEntry // keyed by prefix.String()
	MplsRoutes    map[int32]*RibMplsEntry
}

func newRouteDb() *RouteDb {
	return &RouteDb{
		UnicastRoutes: make(map[string]*RibUnicastEntry),
		MplsRoutes:    make(map[int32]*RibMplsEntry),
	}
}
