package decision

import (
	"log/slog"
	"net/netip"
	"sort"
	"time"

	"github.com/nodeplane/ribengine/metrics"
	"github.com/nodeplane/ribengine/prefix"
	"github.com/nodeplane/ribengine/topology"
)

// SpfSolver is the route decision engine: given every area's LinkState and
// PrefixState, it builds a RouteDb of unicast and MPLS routes for
// myNodeName.
type SpfSolver struct {
	myNodeName string
	log        *slog.Logger

	// staticUnicastRoutes are routes installed outside prefix advertisement
	// (configuration, or an external agent pushing pre-resolved routes).
	// BuildRib merges them wherever no advertised prefix produces a route
	// for the same prefix; advertised prefixes win.
	staticUnicastRoutes map[string]*RibUnicastEntry

	// EnableBestRouteSelection: when false, every non-drained origin is
	// treated as best (no distance/preference based selection).
	EnableBestRouteSelection bool
	EnableNodeSegmentLabels  bool
	EnableAdjacencyLabels    bool
}

// NewSpfSolver constructs a solver for myNodeName with best-route selection
// and both label kinds enabled by default.
func NewSpfSolver(myNodeName string, log *slog.Logger) *SpfSolver {
	if log == nil {
		log = slog.Default()
	}
	return &SpfSolver{
		myNodeName:               myNodeName,
		log:                      log,
		staticUnicastRoutes:      make(map[string]*RibUnicastEntry),
		EnableBestRouteSelection: true,
		EnableNodeSegmentLabels:  true,
		EnableAdjacencyLabels:    true,
	}
}

// UpdateStaticUnicastRoute records or replaces a static route.
func (s *SpfSolver) UpdateStaticUnicastRoute(entry *RibUnicastEntry) {
	s.staticUnicastRoutes[entry.Prefix.String()] = entry
}

// DeleteStaticUnicastRoute removes a previously recorded static route.
func (s *SpfSolver) DeleteStaticUnicastRoute(p netip.Prefix) {
	delete(s.staticUnicastRoutes, p.String())
}

// BuildRib computes the full RouteDb for this node across every area:
// unicast routes first, reusing each area's cached SPF result for
// node-segment and adjacency-label MPLS routes afterward.
func (s *SpfSolver) BuildRib(areaLinkStates map[string]*topology.LinkState, areaPrefixStates map[string]*prefix.State) *RouteDb {
	for area, ls := range areaLinkStates {
		if ls.Area() != area {
			panic(newInvalidArgument("BuildRib", "areaLinkStates key %q does not match LinkState.Area() %q", area, ls.Area()))
		}
	}

	start := time.Now()
	db := newRouteDb()

	// Until this node shows up in some area's LSDB there is nothing to
	// compute paths from.
	known := false
	for _, ls := range areaLinkStates {
		if ls.HasNode(s.myNodeName) {
			known = true
			break
		}
	}
	if !known {
		return db
	}

	allPrefixes := map[string]struct{}{}
	for _, ps := range areaPrefixStates {
		for _, p := range ps.AllPrefixes() {
			allPrefixes[p.String()] = struct{}{}
		}
	}

	for pfxStr := range allPrefixes {
		entries := map[NodeArea]*prefix.Entry{}
		for area, ps := range areaPrefixStates {
			for _, p := range ps.AllPrefixes() {
				if p.String() != pfxStr {
					continue
				}
				for _, e := range ps.Origins(p) {
					entries[NodeArea{Node: e.OriginatorId, Area: area}] = e
				}
			}
		}
		if len(entries) == 0 {
			continue
		}
		entry := s.createRouteForPrefix(entries, areaLinkStates)
		if entry != nil {
			db.UnicastRoutes[entry.Prefix.String()] = entry
		}
	}

	for pfxStr, entry := range s.staticUnicastRoutes {
		if _, ok := db.UnicastRoutes[pfxStr]; ok {
			continue // an advertised prefix wins over a static route
		}
		db.UnicastRoutes[pfxStr] = entry
	}

	if s.EnableNodeSegmentLabels {
		s.addNodeSegmentRoutes(db, areaLinkStates)
	}
	if s.EnableAdjacencyLabels {
		s.addAdjacencyLabelRoutes(db, areaLinkStates)
	}

	metrics.RibBuildLatency.Add(float64(time.Since(start).Microseconds()))
	return db
}

// createRouteForPrefix selects the best origin(s) for one prefix, computes
// per-area next hops toward them, merges across areas by shortest IGP
// metric, and enforces the minNexthop threshold.
func (s *SpfSolver) createRouteForPrefix(entries map[NodeArea]*prefix.Entry, areaLinkStates map[string]*topology.LinkState) *RibUnicastEntry {
	var firstEntry *prefix.Entry
	localPrefixConsidered := false
	for na, e := range entries {
		firstEntry = e
		if na.Node == s.myNodeName {
			localPrefixConsidered = true
		}
	}

	sel, ok := selectBestRoutes(s.myNodeName, entries, areaLinkStates)
	if !ok {
		s.log.Debug("dropping prefix", "prefix", firstEntry.Prefix, "err", ErrNotReachable)
		metrics.CountDropped(metrics.ReasonNotReachable)
		return nil
	}

	for _, na := range sel.AllNodeAreas {
		if na.Node == s.myNodeName {
			// We're one of the best origins for this prefix: don't program a
			// route to ourselves.
			return nil
		}
	}

	byArea := map[string][]string{}
	weights := map[string]int64{}
	for _, na := range sel.AllNodeAreas {
		byArea[na.Area] = append(byArea[na.Area], na.Node)
		weights[na.Node] = entries[na].Weight
	}

	algo := firstEntry.ForwardingAlgo
	if best0, ok := entries[sel.BestNodeArea]; ok {
		algo = best0.ForwardingAlgo
	}

	areaNames := make([]string, 0, len(byArea))
	for area := range byArea {
		areaNames = append(areaNames, area)
	}
	sort.Strings(areaNames)

	// SPF-derived next hops only survive the cross-area merge when their
	// area's distance matches the minimum; KSP2 paths from every area are
	// installed unconditionally.
	var spfBest []areaNextHops
	var spfDist uint64
	haveSpf := false
	var ksp2All []areaNextHops
	var bestArea string
	var bestDist uint64
	haveBest := false

	for _, area := range areaNames {
		nodes := byArea[area]
		ls := areaLinkStates[area]
		if ls == nil {
			continue
		}
		fwdType, fwdAlgo := areaForwarding(entries, sel.AllNodeAreas, area)
		anh := computeAreaNextHops(s.myNodeName, area, ls, fwdAlgo, fwdType, nodes, weights, s.log)
		if !anh.ok {
			continue
		}
		if anh.ksp2 {
			ksp2All = append(ksp2All, anh)
		} else {
			switch {
			case !haveSpf || anh.distance < spfDist:
				spfBest = []areaNextHops{anh}
				spfDist = anh.distance
				haveSpf = true
			case anh.distance == spfDist:
				spfBest = append(spfBest, anh)
			}
		}
		if !haveBest || anh.distance < bestDist {
			bestArea = area
			bestDist = anh.distance
			haveBest = true
		}
	}
	if !haveBest {
		s.log.Debug("dropping prefix", "prefix", firstEntry.Prefix, "err", ErrNotReachable)
		metrics.CountDropped(metrics.ReasonNotReachable)
		return nil
	}

	var nextHops []NextHop
	for _, anh := range spfBest {
		nextHops = append(nextHops, anh.nextHops...)
	}
	for _, anh := range ksp2All {
		nextHops = append(nextHops, anh.nextHops...)
	}

	if threshold := minNexthopThreshold(sel.AllNodeAreas, entries); threshold > 0 && int32(len(nextHops)) < threshold {
		s.log.Debug("dropping prefix", "prefix", firstEntry.Prefix, "have", len(nextHops), "want", threshold)
		metrics.CountDropped(metrics.ReasonMinNexthopNotMet)
		return nil
	}

	drainMetric := int32(0)
	if sel.IsBestNodeDrained {
		drainMetric = 1
	}

	return &RibUnicastEntry{
		Prefix:                firstEntry.Prefix,
		NextHops:              nextHops,
		ForwardingAlgo:        algo,
		ForwardingType:        firstEntry.ForwardingType,
		DrainMetric:           drainMetric,
		BestArea:              bestArea,
		ShortestMetric:        bestDist,
		LocalPrefixConsidered: localPrefixConsidered,
	}
}

// areaForwarding derives one area's forwarding rules from its selected
// origins' entries, taking the strongest requested type and algorithm when
// origins disagree.
func areaForwarding(entries map[NodeArea]*prefix.Entry, nodeAreas []NodeArea, area string) (prefix.ForwardingType, prefix.ForwardingAlgorithm) {
	var ft prefix.ForwardingType
	var fa prefix.ForwardingAlgorithm
	for _, na := range nodeAreas {
		if na.Area != area {
			continue
		}
		e, ok := entries[na]
		if !ok {
			continue
		}
		if e.ForwardingType > ft {
			ft = e.ForwardingType
		}
		if e.ForwardingAlgo > fa {
			fa = e.ForwardingAlgo
		}
	}
	return ft, fa
}

// minNexthopThreshold is the maximum minNexthop requested by any selected
// origin.
func minNexthopThreshold(nodeAreas []NodeArea, entries map[NodeArea]*prefix.Entry) int32 {
	var max int32
	for _, na := range nodeAreas {
		if e, ok := entries[na]; ok && e.MinNexthop > max {
			max = e.MinNexthop
		}
	}
	return max
}
