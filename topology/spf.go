package topology

import (
	"container/heap"
	"time"

	"github.com/nodeplane/ribengine/metrics"
)

// PathLink records one edge used to reach a node during SPF: the Link
// traversed and the predecessor node it was traversed from.
type PathLink struct {
	Link     *Link
	PrevNode string
}

// SpfNodeResult is one destination's result within an SpfResult: its total
// metric from the source, the set of first-hop neighbor names that reach it
// along a shortest path, and every (link, predecessor) pair used to reach it
// — more than one when multiple equal-cost paths exist.
type SpfNodeResult struct {
	Metric    uint64
	NextHops  map[string]struct{}
	PathLinks []PathLink
}

// SpfResult is the output of a single Dijkstra run rooted at Src.
type SpfResult struct {
	Src           string
	UseLinkMetric bool
	Nodes         map[string]*SpfNodeResult
}

type pqItem struct {
	node  string
	dist  uint64
	index int
}

type nodeHeap []*pqItem

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].node < h[j].node
}
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *nodeHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RunSpf computes shortest paths from src over the current topology, caching
// the result keyed by (src, useLinkMetric) when ignoreLinks is empty — a
// topology-changing ingest invalidates this cache.
func (ls *LinkState) RunSpf(src string, useLinkMetric bool, ignoreLinks map[uint64]bool) *SpfResult {
	if len(ignoreLinks) == 0 {
		key := spfCacheKey{src: src, useLinkMetric: useLinkMetric}
		if cached, ok := ls.spfCache[key]; ok {
			return cached
		}
		result := ls.runSpf(src, useLinkMetric, nil)
		ls.spfCache[key] = result
		return result
	}
	return ls.runSpf(src, useLinkMetric, ignoreLinks)
}

func (ls *LinkState) runSpf(src string, useLinkMetric bool, ignoreLinks map[uint64]bool) *SpfResult {
	start := time.Now()
	defer func() { metrics.SpfLatency.Add(float64(time.Since(start).Microseconds())) }()

	result := &SpfResult{Src: src, UseLinkMetric: useLinkMetric, Nodes: make(map[string]*SpfNodeResult)}

	dist := map[string]uint64{src: 0}
	settled := map[string]bool{}
	result.Nodes[src] = &SpfNodeResult{Metric: 0, NextHops: map[string]struct{}{}}

	h := &nodeHeap{}
	heap.Init(h)
	heap.Push(h, &pqItem{node: src, dist: 0})

	for h.Len() > 0 {
		top := heap.Pop(h).(*pqItem)
		u := top.node
		if settled[u] {
			continue
		}
		if d, ok := dist[u]; !ok || top.dist != d {
			continue
		}
		settled[u] = true

		// Overloaded transit nodes are settled (reachable, reported) but do
		// not relax further: they cannot carry through traffic.
		if u != src && ls.IsNodeOverloaded(u) {
			continue
		}

		for _, l := range ls.LinksOf(u) {
			if ignoreLinks[l.Hash()] {
				continue
			}
			if !l.IsUp() {
				continue
			}
			v := l.GetOtherNodeName(u)
			if settled[v] {
				continue
			}
			var cost uint64
			if useLinkMetric {
				cost = uint64(l.GetMetricFromNode(u))
			} else {
				cost = 1
			}
			cand := dist[u] + cost

			uNextHops := result.Nodes[u].NextHops
			var vNextHops map[string]struct{}
			if u == src {
				vNextHops = map[string]struct{}{v: {}}
			} else {
				vNextHops = cloneStringSet(uNextHops)
			}

			existing, known := dist[v]
			switch {
			case !known || cand < existing:
				dist[v] = cand
				result.Nodes[v] = &SpfNodeResult{
					Metric:    cand,
					NextHops:  vNextHops,
					PathLinks: []PathLink{{Link: l, PrevNode: u}},
				}
				heap.Push(h, &pqItem{node: v, dist: cand})
			case cand == existing:
				vr := result.Nodes[v]
				for nh := range vNextHops {
					vr.NextHops[nh] = struct{}{}
				}
				vr.PathLinks = append(vr.PathLinks, PathLink{Link: l, PrevNode: u})
			}
		}
	}

	return result
}

func cloneStringSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Reachable reports whether dst was reached by the SPF run.
func (r *SpfResult) Reachable(dst string) bool {
	_, ok := r.Nodes[dst]
	return ok
}
