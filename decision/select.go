package decision

import (
	"sort"

	"github.com/nodeplane/ribengine/prefix"
	"github.com/nodeplane/ribengine/topology"
)

// RouteSelectionResult is the outcome of selectBestRoutes: every
// (node,area) tied for best, the single one a local decision (e.g. "am I
// the best origin?") should use, and whether that one is drained.
type RouteSelectionResult struct {
	AllNodeAreas      []NodeArea
	BestNodeArea      NodeArea
	IsBestNodeDrained bool
}

type candidate struct {
	na        NodeArea
	entry     *prefix.Entry
	distance  uint64
	reachable bool
}

// selectBestRoutes implements best-origin selection: hard/soft drain
// filtering, then a (pathPreference desc, sourcePreference desc, distance
// asc, node asc) preference tuple.
func selectBestRoutes(myNodeName string, entries map[NodeArea]*prefix.Entry, areaLinkStates map[string]*topology.LinkState) (RouteSelectionResult, bool) {
	if len(entries) == 0 {
		return RouteSelectionResult{}, false
	}

	cands := make([]*candidate, 0, len(entries))
	for na, e := range entries {
		ls := areaLinkStates[na.Area]
		if ls == nil {
			continue
		}
		spf := ls.RunSpf(myNodeName, true, nil)
		rec, reachable := spf.Nodes[na.Node]
		c := &candidate{na: na, entry: e, reachable: reachable}
		if reachable {
			c.distance = rec.Metric
		}
		cands = append(cands, c)
	}
	cands = filterHardDrained(cands, areaLinkStates)
	cands = filterSoftDrained(cands, areaLinkStates)

	var reachableCands []*candidate
	for _, c := range cands {
		if c.reachable {
			reachableCands = append(reachableCands, c)
		}
	}
	if len(reachableCands) == 0 {
		return RouteSelectionResult{}, false
	}

	best := reachableCands[0]
	for _, c := range reachableCands[1:] {
		if preferenceLess(c, best) {
			best = c
		}
	}
	var tied []NodeArea
	for _, c := range reachableCands {
		if !preferenceLess(best, c) && !preferenceLess(c, best) {
			tied = append(tied, c.na)
		}
	}
	sort.Slice(tied, func(i, j int) bool {
		if tied[i].Node != tied[j].Node {
			return tied[i].Node < tied[j].Node
		}
		return tied[i].Area < tied[j].Area
	})

	bestNodeArea := tied[0]
	for _, na := range tied {
		if na.Node == myNodeName {
			bestNodeArea = na
			break
		}
	}

	ls := areaLinkStates[bestNodeArea.Area]
	drained := ls != nil && (ls.IsNodeOverloaded(bestNodeArea.Node) || ls.NodeMetricIncrement(bestNodeArea.Node) > 0)

	return RouteSelectionResult{
		AllNodeAreas:      tied,
		BestNodeArea:      bestNodeArea,
		IsBestNodeDrained: drained,
	}, true
}

// preferenceLess reports whether a strictly outranks b on the selection
// tuple: higher path preference wins, then higher source preference, then
// shorter distance. Candidates equal on all three are tied — they all land
// in AllNodeAreas so traffic can spray across every equally-good origin.
func preferenceLess(a, b *candidate) bool {
	if a.entry.PathPreference != b.entry.PathPreference {
		return a.entry.PathPreference > b.entry.PathPreference
	}
	if a.entry.SourcePreference != b.entry.SourcePreference {
		return a.entry.SourcePreference > b.entry.SourcePreference
	}
	return a.distance < b.distance
}

func filterHardDrained(cands []*candidate, areaLinkStates map[string]*topology.LinkState) []*candidate {
	var filtered []*candidate
	for _, c := range cands {
		ls := areaLinkStates[c.na.Area]
		if ls != nil && ls.IsNodeOverloaded(c.na.Node) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		// Everything is hard-drained: fall back to the unfiltered set rather
		// than making the prefix unreachable.
		return cands
	}
	return filtered
}

func filterSoftDrained(cands []*candidate, areaLinkStates map[string]*topology.LinkState) []*candidate {
	if len(cands) == 0 {
		return cands
	}
	minVal := uint32(1<<32 - 1)
	for _, c := range cands {
		ls := areaLinkStates[c.na.Area]
		var v uint32
		if ls != nil {
			v = ls.NodeMetricIncrement(c.na.Node)
		}
		if v < minVal {
			minVal = v
		}
	}
	var filtered []*candidate
	for _, c := range cands {
		ls := areaLinkStates[c.na.Area]
		var v uint32
		if ls != nil {
			v = ls.NodeMetricIncrement(c.na.Node)
		}
		if v == minVal {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
