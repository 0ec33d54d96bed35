package decision

import (
	"sort"

	"github.com/nodeplane/ribengine/metrics"
	"github.com/nodeplane/ribengine/topology"
)

// isValidMplsLabel checks the label-range invariant: labels 0-15 are
// reserved, and the label space is 20 bits wide.
func isValidMplsLabel(label int32) bool {
	return label > 15 && label < (1<<20)
}

func linkTo(ls *topology.LinkState, from, to string) *topology.Link {
	for _, l := range ls.LinksOf(from) {
		if l.GetOtherNodeName(from) == to {
			return l
		}
	}
	return nil
}

// addNodeSegmentRoutes populates one MPLS route per advertised node-segment
// label, reusing each area's already-cached SPF result. The node's own label
// pops and looks up locally; every other reachable node's label forwards
// hop-by-hop, swapping until the neighbor that owns the label is reached,
// where it's popped (PHP). When two nodes advertise the same label, the one
// with the lexicographically larger name wins.
func (s *SpfSolver) addNodeSegmentRoutes(db *RouteDb, areaLinkStates map[string]*topology.LinkState) {
	labelOwner := map[int32]string{}
	areas := sortedAreaNames(areaLinkStates)
	for _, area := range areas {
		ls := areaLinkStates[area]
		for _, node := range ls.Nodes() {
			label := ls.NodeLabel(node)
			if label == 0 {
				continue
			}
			if owner, exists := labelOwner[label]; exists && owner > node {
				continue
			}
			if !isValidMplsLabel(label) {
				s.log.Debug("dropping node-segment label", "node", node, "label", label, "err", ErrInvalidLabel)
				metrics.CountDropped(metrics.ReasonInvalidLabel)
				continue
			}
			if node == s.myNodeName {
				db.MplsRoutes[label] = &RibMplsEntry{
					Label:    label,
					NextHops: []NextHop{{Area: area, MplsAction: MplsActionPopAndLookup}},
				}
				labelOwner[label] = node
				continue
			}

			spf := ls.RunSpf(s.myNodeName, true, nil)
			rec, ok := spf.Nodes[node]
			if !ok {
				continue
			}
			neighbors := make([]string, 0, len(rec.NextHops))
			for n := range rec.NextHops {
				neighbors = append(neighbors, n)
			}
			sort.Strings(neighbors)

			var nhs []NextHop
			for _, n := range neighbors {
				l := linkTo(ls, s.myNodeName, n)
				if l == nil {
					continue
				}
				action, outLabel := MplsActionSwap, label
				if n == node {
					action, outLabel = MplsActionPhp, 0
				}
				nhs = append(nhs, NextHop{
					Node:       n,
					Iface:      l.GetIfaceFromNode(s.myNodeName),
					Addr:       nextHopAddr(l, s.myNodeName),
					Weight:     1,
					Area:       area,
					MplsAction: action,
					MplsLabel:  outLabel,
				})
			}
			if len(nhs) > 0 {
				db.MplsRoutes[label] = &RibMplsEntry{Label: label, NextHops: nhs}
				labelOwner[label] = node
			}
		}
	}
}

// addAdjacencyLabelRoutes populates one PHP MPLS route per directly
// connected adjacency that advertised a label.
func (s *SpfSolver) addAdjacencyLabelRoutes(db *RouteDb, areaLinkStates map[string]*topology.LinkState) {
	areas := sortedAreaNames(areaLinkStates)
	for _, area := range areas {
		ls := areaLinkStates[area]
		for _, l := range ls.LinksOf(s.myNodeName) {
			label := l.GetAdjLabelFromNode(s.myNodeName)
			if label == 0 {
				continue
			}
			if !isValidMplsLabel(label) {
				s.log.Debug("dropping adjacency label", "link", l.String(), "label", label, "err", ErrInvalidLabel)
				metrics.CountDropped(metrics.ReasonInvalidLabel)
				continue
			}
			db.MplsRoutes[label] = &RibMplsEntry{
				Label: label,
				NextHops: []NextHop{{
					Node:       l.GetOtherNodeName(s.myNodeName),
					Iface:      l.GetIfaceFromNode(s.myNodeName),
					Addr:       nextHopAddr(l, s.myNodeName),
					Weight:     1,
					Area:       area,
					MplsAction: MplsActionPhp,
				}},
			}
		}
	}
}

func sortedAreaNames(areaLinkStates map[string]*topology.LinkState) []string {
	names := make([]string, 0, len(areaLinkStates))
	for a := range areaLinkStates {
		names = append(names, a)
	}
	sort.Strings(names)
	return names
}
