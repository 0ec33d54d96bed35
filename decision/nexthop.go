package decision

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sort"

	"github.com/nodeplane/ribengine/metrics"
	"github.com/nodeplane/ribengine/prefix"
	"github.com/nodeplane/ribengine/topology"
)

// areaNextHops is the result of computing one area's forwarding paths
// toward a set of candidate origin nodes: the resolved next hops and the
// shortest distance to any candidate (used for cross-area merge). ksp2
// marks next hops that bypass the cross-area min-metric filter — every
// area's KSP2 paths are installed, not just the closest area's.
type areaNextHops struct {
	nextHops []NextHop
	distance uint64
	ksp2     bool
	ok       bool
}

func nextHopAddr(l *topology.Link, from string) netip.Addr {
	if v4 := l.GetNhV4FromNode(from); v4.IsValid() {
		return v4
	}
	return l.GetNhV6FromNode(from)
}

// computeAreaNextHops resolves the forwarding paths from myNodeName to
// candidateNodes within one area, per the area's forwarding algorithm and
// type (SP_ECMP / SP_UCMP / KSP2_ED_ECMP).
func computeAreaNextHops(myNodeName, area string, ls *topology.LinkState, algo prefix.ForwardingAlgorithm, fwdType prefix.ForwardingType, candidateNodes []string, weights map[string]int64, log *slog.Logger) areaNextHops {
	spf := ls.RunSpf(myNodeName, true, nil)

	var minDist uint64
	haveDist := false
	var reachable []string
	for _, n := range candidateNodes {
		rec, ok := spf.Nodes[n]
		if !ok {
			continue
		}
		reachable = append(reachable, n)
		if !haveDist || rec.Metric < minDist {
			minDist = rec.Metric
			haveDist = true
		}
	}
	if !haveDist {
		return areaNextHops{ok: false}
	}

	switch algo {
	case prefix.SpUcmp:
		if nh, ok := ucmpNextHops(myNodeName, area, spf, reachable, weights, log); ok {
			return areaNextHops{nextHops: nh, distance: minDist, ok: true}
		}
		// Precondition failed (unequal distances): fall back to ECMP.
		fallthrough
	case prefix.SpEcmp:
		return areaNextHops{nextHops: ecmpNextHops(myNodeName, area, ls, spf, reachable), distance: minDist, ok: true}
	case prefix.Ksp2EdEcmp:
		if fwdType != prefix.ForwardingSrMpls {
			log.Debug("dropping area for prefix", "area", area, "err", ErrIncompatibleForwardingType)
			metrics.CountDropped(metrics.ReasonIncompatibleForwarding)
			return areaNextHops{ok: false}
		}
		nhs := ksp2NextHops(myNodeName, area, ls, reachable, log)
		if len(nhs) == 0 {
			return areaNextHops{ok: false}
		}
		return areaNextHops{nextHops: nhs, distance: minDist, ksp2: true, ok: true}
	default:
		return areaNextHops{nextHops: ecmpNextHops(myNodeName, area, ls, spf, reachable), distance: minDist, ok: true}
	}
}

// ecmpNextHops selects every up outgoing link whose
// metric(me, neighbor) + dist(neighbor, dst) equals the shortest metric to
// any candidate — parallel links to the same neighbor each count. Distances
// from a neighbor come from the (cached) SPF rooted at that neighbor.
func ecmpNextHops(myNodeName, area string, ls *topology.LinkState, spf *topology.SpfResult, candidateNodes []string) []NextHop {
	var shortest uint64
	have := false
	for _, n := range candidateNodes {
		if rec, ok := spf.Nodes[n]; ok {
			if !have || rec.Metric < shortest {
				shortest = rec.Metric
				have = true
			}
		}
	}
	if !have {
		return nil
	}

	var out []NextHop
	seen := map[string]bool{}
	for _, l := range ls.LinksOf(myNodeName) {
		if !l.IsUp() {
			continue
		}
		nbr := l.GetOtherNodeName(myNodeName)
		nbrSpf := ls.RunSpf(nbr, true, nil)
		for _, dst := range candidateNodes {
			rec, ok := nbrSpf.Nodes[dst]
			if !ok {
				continue
			}
			if uint64(l.GetMetricFromNode(myNodeName))+rec.Metric != shortest {
				continue
			}
			iface := l.GetIfaceFromNode(myNodeName)
			if seen[iface] {
				break
			}
			seen[iface] = true
			out = append(out, NextHop{
				Node:   nbr,
				Iface:  iface,
				Addr:   nextHopAddr(l, myNodeName),
				Metric: shortest,
				Weight: 1,
				Area:   area,
			})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iface < out[j].Iface })
	return out
}

func ucmpNextHops(myNodeName, area string, spf *topology.SpfResult, candidateNodes []string, weights map[string]int64, log *slog.Logger) ([]NextHop, bool) {
	leafWeights := make(map[string]int64, len(candidateNodes))
	var dist uint64
	for _, n := range candidateNodes {
		w := weights[n]
		if w <= 0 {
			w = 1
		}
		leafWeights[n] = w
		if rec, ok := spf.Nodes[n]; ok {
			dist = rec.Metric
		}
	}
	resolved, ok := topology.ResolveUcmpWeights(spf, leafWeights, topology.PWP, log)
	if !ok {
		return nil, false
	}
	root, ok := resolved[myNodeName]
	if !ok {
		return nil, false
	}
	ifaces := make([]string, 0, len(root.NextHopLinks))
	for iface := range root.NextHopLinks {
		ifaces = append(ifaces, iface)
	}
	sort.Strings(ifaces)

	out := make([]NextHop, 0, len(ifaces))
	for _, iface := range ifaces {
		nhl := root.NextHopLinks[iface]
		out = append(out, NextHop{
			Node:   nhl.Successor,
			Iface:  iface,
			Addr:   nextHopAddr(nhl.Link, myNodeName),
			Metric: dist,
			Weight: nhl.Weight,
			Area:   area,
		})
	}
	return out, true
}

// ksp2NextHops installs one next hop per edge-disjoint path: every
// first-shortest path, plus every second-shortest path that does not
// fully contain a first-shortest path (no double-spraying a subpath).
// Each next hop carries the path's total metric and a PUSH of the node
// labels along the path, excluding the first hop's own label (PHP).
func ksp2NextHops(myNodeName, area string, ls *topology.LinkState, candidateNodes []string, log *slog.Logger) []NextHop {
	var out []NextHop
	seen := map[string]bool{}
	for _, dst := range candidateNodes {
		first := ls.GetKthPaths(myNodeName, dst, 1)
		second := ls.GetKthPaths(myNodeName, dst, 2)

		paths := append([]topology.Path(nil), first...)
		for _, sp := range second {
			contained := false
			for _, fp := range first {
				if sp.ContainsAll(fp) {
					contained = true
					break
				}
			}
			if !contained {
				paths = append(paths, sp)
			}
		}

		for _, p := range paths {
			nh, ok := ksp2PathNextHop(myNodeName, area, ls, p, log)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s|%v", nh.Iface, nh.MplsPushLabels)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, nh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Iface != out[j].Iface {
			return out[i].Iface < out[j].Iface
		}
		return fmt.Sprint(out[i].MplsPushLabels) < fmt.Sprint(out[j].MplsPushLabels)
	})
	return out
}

// ksp2PathNextHop turns one path into an installable next hop. Every node
// beyond the first hop must advertise a valid node label, or the path is
// dropped.
func ksp2PathNextHop(myNodeName, area string, ls *topology.LinkState, p topology.Path, log *slog.Logger) (NextHop, bool) {
	if len(p) == 0 {
		return NextHop{}, false
	}
	cur := myNodeName
	var cost uint64
	var nodesAlong []string
	for _, l := range p {
		cost += uint64(l.GetMetricFromNode(cur))
		cur = l.GetOtherNodeName(cur)
		nodesAlong = append(nodesAlong, cur)
	}

	var labels []int32
	for _, n := range nodesAlong[1:] {
		label := ls.NodeLabel(n)
		if !isValidMplsLabel(label) {
			log.Debug("dropping ksp2 path", "node", n, "label", label, "err", ErrInvalidLabel)
			metrics.CountDropped(metrics.ReasonInvalidLabel)
			return NextHop{}, false
		}
		labels = append(labels, label)
	}

	firstLink := p[0]
	nh := NextHop{
		Node:   firstLink.GetOtherNodeName(myNodeName),
		Iface:  firstLink.GetIfaceFromNode(myNodeName),
		Addr:   nextHopAddr(firstLink, myNodeName),
		Metric: cost,
		Weight: 1,
		Area:   area,
	}
	if len(labels) > 0 {
		nh.MplsAction = MplsActionPush
		nh.MplsPushLabels = labels
	}
	return nh, true
}
