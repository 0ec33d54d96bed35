package topology

import (
	"sort"
	"time"

	"github.com/nodeplane/ribengine/metrics"
)

// Path is an ordered sequence of Links from a source to a destination.
type Path []*Link

// linkHashSet returns the set of link hashes used by p.
func (p Path) linkHashSet() map[uint64]bool {
	out := make(map[uint64]bool, len(p))
	for _, l := range p {
		out[l.Hash()] = true
	}
	return out
}

// ContainsAll reports whether every link of other also appears in p — used
// to detect a shorter path fully contained within a longer one.
func (p Path) ContainsAll(other Path) bool {
	set := p.linkHashSet()
	for _, l := range other {
		if !set[l.Hash()] {
			return false
		}
	}
	return true
}

// GetKthPaths returns the k-th level of shortest paths from src to dst:
// k=1 is the ordinary SPF-derived shortest paths; k>1 excludes every link
// used by levels 1..k-1 and reruns SPF, so it finds the next shortest
// distinct path set. Only level k's paths are returned. Results are
// memoized per (src,dst,k).
func (ls *LinkState) GetKthPaths(src, dst string, k int) []Path {
	if k < 1 {
		return nil
	}
	key := kspCacheKey{src: src, dst: dst, k: k}
	if cached, ok := ls.kspCache[key]; ok {
		return cached
	}
	start := time.Now()
	defer func() { metrics.KspLatency.Add(float64(time.Since(start).Microseconds())) }()

	ignore := map[uint64]bool{}
	if k > 1 {
		for level := 1; level < k; level++ {
			for _, p := range ls.GetKthPaths(src, dst, level) {
				for _, l := range p {
					ignore[l.Hash()] = true
				}
			}
		}
	}

	spf := ls.RunSpf(src, true, ignore)
	paths := reconstructPaths(spf, src, dst)
	ls.kspCache[key] = paths
	return paths
}

// reconstructPaths enumerates every distinct shortest path from src to dst
// recorded in spf's pathLinks. A single link, once used to complete a path,
// is not reused in a different path reconstructed at this level — so
// diamonds sharing an edge may under-enumerate (first-found wins); the
// deterministic sort below at least makes that choice stable.
func reconstructPaths(spf *SpfResult, src, dst string) []Path {
	if _, ok := spf.Nodes[dst]; !ok {
		return nil
	}
	visited := map[uint64]bool{}
	var results []Path

	var dfs func(node string, acc Path)
	dfs = func(node string, acc Path) {
		if node == src {
			// A link in acc may have become visited after a sibling branch
			// completed below it; such a path would share an edge with an
			// already-enumerated one, so first-found wins and this one is
			// skipped.
			for _, l := range acc {
				if visited[l.Hash()] {
					return
				}
			}
			path := make(Path, len(acc))
			for i, l := range acc {
				path[len(acc)-1-i] = l
			}
			results = append(results, path)
			for _, l := range path {
				visited[l.Hash()] = true
			}
			return
		}
		rec, ok := spf.Nodes[node]
		if !ok {
			return
		}
		links := append([]PathLink(nil), rec.PathLinks...)
		sort.Slice(links, func(i, j int) bool { return links[i].Link.Less(links[j].Link) })
		for _, pl := range links {
			if visited[pl.Link.Hash()] {
				continue
			}
			next := make(Path, len(acc), len(acc)+1)
			copy(next, acc)
			next = append(next, pl.Link)
			dfs(pl.PrevNode, next)
		}
	}
	dfs(dst, nil)
	return results
}
