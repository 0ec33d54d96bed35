package topology

import (
	"container/heap"
	"log/slog"
)

// UcmpAlgo selects how an intermediate node's advertised weight is derived
// from its next-hop links.
type UcmpAlgo int

const (
	// AWP (adjacency-weight propagation): a node's weight is the sum of the
	// static per-adjacency weight attribute over its next-hop links,
	// independent of what lies beyond them.
	AWP UcmpAlgo = iota
	// PWP (prefix-weight propagation): a node's weight is the sum of the
	// already-resolved weight of each next-hop link's successor.
	PWP
)

// NextHopWeight is one outgoing interface's share of a node's forwarding
// weight, resolved by ResolveUcmpWeights.
type NextHopWeight struct {
	Iface     string
	Link      *Link
	Successor string
	Weight    int64
}

// UcmpNode is one node's resolved UCMP state: its own advertised weight, and
// the per-interface split among its next hops.
type UcmpNode struct {
	Weight       int64
	NextHopLinks map[string]NextHopWeight // keyed by local interface name
}

type ucmpQueueItem struct {
	node   string
	metric uint64
}

type ucmpHeap []ucmpQueueItem

func (h ucmpHeap) Len() int { return len(h) }
func (h ucmpHeap) Less(i, j int) bool {
	if h[i].metric != h[j].metric {
		return h[i].metric > h[j].metric // max-heap: farthest from root first
	}
	return h[i].node < h[j].node
}
func (h ucmpHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *ucmpHeap) Push(x any)        { *h = append(*h, x.(ucmpQueueItem)) }
func (h *ucmpHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ResolveUcmpWeights walks spf backward from leafWeights toward spf.Src,
// accumulating each intermediate node's advertised weight and its per-next-hop
// split. Every leaf must be at the same SPF distance from the root, or the
// call logs a warning and reports ok=false.
func ResolveUcmpWeights(spf *SpfResult, leafWeights map[string]int64, algo UcmpAlgo, log *slog.Logger) (map[string]*UcmpNode, bool) {
	if log == nil {
		log = slog.Default()
	}
	if len(leafWeights) == 0 {
		return map[string]*UcmpNode{}, true
	}

	var commonDist uint64
	first := true
	for leaf := range leafWeights {
		rec, ok := spf.Nodes[leaf]
		if !ok {
			log.Warn("ucmp: leaf not reachable in spf result", "leaf", leaf, "src", spf.Src)
			return nil, false
		}
		if first {
			commonDist = rec.Metric
			first = false
		} else if rec.Metric != commonDist {
			log.Warn("ucmp: leaves are not equidistant from source", "src", spf.Src)
			return nil, false
		}
	}

	result := make(map[string]*UcmpNode, len(leafWeights))
	for leaf, w := range leafWeights {
		result[leaf] = &UcmpNode{Weight: w, NextHopLinks: map[string]NextHopWeight{}}
	}

	h := &ucmpHeap{}
	heap.Init(h)
	visited := map[string]bool{}
	for leaf := range leafWeights {
		heap.Push(h, ucmpQueueItem{node: leaf, metric: spf.Nodes[leaf].Metric})
		visited[leaf] = true
	}

	computed := make(map[string]bool, len(leafWeights))
	for leaf := range leafWeights {
		computed[leaf] = true
	}

	// advertisedWeight derives a non-leaf node's own weight from its
	// recorded next-hop links: AWP sums the static per-adjacency weight of
	// each outgoing link, PWP sums each successor's already-resolved weight.
	advertisedWeight := func(node string, nr *UcmpNode) int64 {
		var total int64
		for _, nhl := range nr.NextHopLinks {
			if algo == AWP {
				total += nhl.Link.GetWeightFromNode(node)
			} else {
				total += nhl.Weight
			}
		}
		return total
	}

	for h.Len() > 0 {
		item := heap.Pop(h).(ucmpQueueItem)
		node := item.node

		if !computed[node] {
			nr := result[node]
			nr.Weight = advertisedWeight(node, nr)
			computed[node] = true
		}

		rec, ok := spf.Nodes[node]
		if !ok {
			continue
		}
		for _, pl := range rec.PathLinks {
			pred := pl.PrevNode
			predRec, ok := result[pred]
			if !ok {
				predRec = &UcmpNode{NextHopLinks: map[string]NextHopWeight{}}
				result[pred] = predRec
			}
			iface := pl.Link.GetIfaceFromNode(pred)
			predRec.NextHopLinks[iface] = NextHopWeight{
				Iface:     iface,
				Link:      pl.Link,
				Successor: node,
				Weight:    result[node].Weight,
			}
			if !visited[pred] {
				visited[pred] = true
				heap.Push(h, ucmpQueueItem{node: pred, metric: spf.Nodes[pred].Metric})
			}
		}
	}

	for node, nr := range result {
		if !computed[node] {
			nr.Weight = advertisedWeight(node, nr)
		}
		normalizeWeights(nr)
	}

	return result, true
}

// normalizeWeights reduces a node's next-hop weight ratios by their GCD, so
// equivalent distributions (e.g. {2,2} and {1,1}) converge to one canonical
// form. The un-reduced sum (UcmpNode.Weight) is left untouched since that is
// the value a predecessor's PWP computation depends on.
func normalizeWeights(nr *UcmpNode) {
	if len(nr.NextHopLinks) < 2 {
		return
	}
	var g int64
	for _, nhl := range nr.NextHopLinks {
		g = gcd(g, nhl.Weight)
	}
	if g <= 1 {
		return
	}
	for iface, nhl := range nr.NextHopLinks {
		nhl.Weight /= g
		nr.NextHopLinks[iface] = nhl
	}
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
