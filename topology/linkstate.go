// Package topology implements the per-area link-state database: adjacency
// ingest, SPF/KSP computation, and UCMP weight resolution.
package topology

import (
	"log/slog"
	"sort"

	"github.com/nodeplane/ribengine/wire"
)

const (
	// DefaultOverloadHoldUpTtl and DefaultOverloadHoldDownTtl are the tick
	// counts applied to node-overload transitions when the caller doesn't
	// override them. For booleans, "up" is becoming false/not-overloaded.
	DefaultOverloadHoldUpTtl   = 2
	DefaultOverloadHoldDownTtl = 0
	// DefaultLinkHoldUpTtl damps a link flapping back up after either
	// endpoint's per-adjacency overload flag clears.
	DefaultLinkHoldUpTtl = 2
)

// LinkStateChange reports what an adjacency-database ingest changed.
type LinkStateChange struct {
	TopologyChanged       bool
	LinkAttributesChanged bool
	NodeLabelChanged      bool
	AddedLinks            []*Link
}

type spfCacheKey struct {
	src           string
	useLinkMetric bool
}

type kspCacheKey struct {
	src, dst string
	k        int
}

// LinkState is the per-area LSDB: adjacency ingest, the derived link set,
// node overload/drain state, and memoized SPF/KSP results.
type LinkState struct {
	area string
	log  *slog.Logger

	adjacencyDatabases   map[string]wire.AdjacencyDatabase
	linkMap              map[string]map[uint64]*Link
	allLinks             map[uint64]*Link
	nodeOverloads        map[string]*HoldableValue[bool]
	nodeMetricIncrements map[string]uint32

	spfCache map[spfCacheKey]*SpfResult
	kspCache map[kspCacheKey][]Path
}

// NewLinkState allocates an empty LSDB for the given area.
func NewLinkState(area string, log *slog.Logger) *LinkState {
	if log == nil {
		log = slog.Default()
	}
	return &LinkState{
		area:                 area,
		log:                  log,
		adjacencyDatabases:   make(map[string]wire.AdjacencyDatabase),
		linkMap:              make(map[string]map[uint64]*Link),
		allLinks:             make(map[uint64]*Link),
		nodeOverloads:        make(map[string]*HoldableValue[bool]),
		nodeMetricIncrements: make(map[string]uint32),
		spfCache:             make(map[spfCacheKey]*SpfResult),
		kspCache:             make(map[kspCacheKey][]Path),
	}
}

func (ls *LinkState) Area() string { return ls.area }

// Nodes returns every node name the LSDB currently knows about, sorted for
// deterministic iteration.
func (ls *LinkState) Nodes() []string {
	seen := make(map[string]struct{})
	for n := range ls.adjacencyDatabases {
		seen[n] = struct{}{}
	}
	for n := range ls.linkMap {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsNodeOverloaded reports the held (damped) overload state of node. Unknown
// nodes are treated as not overloaded.
func (ls *LinkState) IsNodeOverloaded(node string) bool {
	hv, ok := ls.nodeOverloads[node]
	if !ok {
		return false
	}
	return hv.Value()
}

// NodeMetricIncrement returns node's soft-drain additive metric (0 if
// unknown / not draining).
func (ls *LinkState) NodeMetricIncrement(node string) uint32 {
	return ls.nodeMetricIncrements[node]
}

// NodeLabel returns node's advertised node-segment MPLS label, or 0 if the
// node hasn't advertised one (non-SR mode for that node).
func (ls *LinkState) NodeLabel(node string) int32 {
	return ls.adjacencyDatabases[node].NodeLabel
}

// HasNode reports whether the node has any recorded adjacency database or
// incident link.
func (ls *LinkState) HasNode(node string) bool {
	if _, ok := ls.adjacencyDatabases[node]; ok {
		return true
	}
	_, ok := ls.linkMap[node]
	return ok
}

func (ls *LinkState) invalidateCaches() {
	ls.spfCache = make(map[spfCacheKey]*SpfResult)
	ls.kspCache = make(map[kspCacheKey][]Path)
}

func (ls *LinkState) indexInsert(l *Link) {
	h := l.Hash()
	ls.allLinks[h] = l
	a, b := l.Endpoints()
	if ls.linkMap[a.Node] == nil {
		ls.linkMap[a.Node] = make(map[uint64]*Link)
	}
	ls.linkMap[a.Node][h] = l
	if ls.linkMap[b.Node] == nil {
		ls.linkMap[b.Node] = make(map[uint64]*Link)
	}
	ls.linkMap[b.Node][h] = l
}

func (ls *LinkState) indexRemove(l *Link) {
	h := l.Hash()
	delete(ls.allLinks, h)
	a, b := l.Endpoints()
	delete(ls.linkMap[a.Node], h)
	delete(ls.linkMap[b.Node], h)
	for _, n := range []string{a.Node, b.Node} {
		if len(ls.linkMap[n]) == 0 {
			delete(ls.linkMap, n)
		}
	}
}

// LinksOf returns the Links incident to node, in a deterministic (hash)
// order.
func (ls *LinkState) LinksOf(node string) []*Link {
	m := ls.linkMap[node]
	out := make([]*Link, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// AllLinks returns every Link in the area, in a deterministic (hash) order.
func (ls *LinkState) AllLinks() []*Link {
	out := make([]*Link, 0, len(ls.allLinks))
	for _, l := range ls.allLinks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// deriveLinksFromNode computes the bidirectional links this node's
// announced adjacencies form, given the current adjacencyDatabases view: a
// Link is only emitted when the other node's last-advertised database
// carries a matching reverse adjacency over the same interface pair.
func (ls *LinkState) deriveLinksFromNode(node string, db wire.AdjacencyDatabase) []*Link {
	var out []*Link
	for _, adj := range db.Adjacencies {
		otherDb, ok := ls.adjacencyDatabases[adj.OtherNodeName]
		if !ok {
			continue
		}
		var reverse *wire.Adjacency
		for i := range otherDb.Adjacencies {
			cand := &otherDb.Adjacencies[i]
			if cand.OtherNodeName == node && cand.OtherIfName == adj.IfName && cand.IfName == adj.OtherIfName {
				reverse = cand
				break
			}
		}
		if reverse == nil {
			continue
		}
		l := NewLink(Endpoint{Node: node, Iface: adj.IfName}, Endpoint{Node: adj.OtherNodeName, Iface: adj.OtherIfName})
		applyAdjacencyToLink(l, node, adj)
		applyAdjacencyToLink(l, adj.OtherNodeName, *reverse)
		out = append(out, l)
	}
	return out
}

func applyAdjacencyToLink(l *Link, node string, adj wire.Adjacency) {
	l.SetMetricFromNode(node, adj.Metric)
	l.SetOverloadFromNode(node, adj.IsOverloaded)
	l.SetAdjLabelFromNode(node, adj.AdjLabel)
	l.SetWeightFromNode(node, adj.Weight)
	l.SetNhV4FromNode(node, adj.NextHopV4)
	l.SetNhV6FromNode(node, adj.NextHopV6)
}

// UpdateAdjacencyDatabase ingests a freshly-received adjacency announcement
// for newAdjDb.ThisNodeName, diffs it against the prior links, and updates
// the LSDB's indices and node-level overload/drain state.
func (ls *LinkState) UpdateAdjacencyDatabase(newAdjDb wire.AdjacencyDatabase) (LinkStateChange, error) {
	if newAdjDb.Area != ls.area {
		return LinkStateChange{}, newInvalidArgument("UpdateAdjacencyDatabase",
			"adjacency database area %q does not match LinkState area %q", newAdjDb.Area, ls.area)
	}
	node := newAdjDb.ThisNodeName

	priorAdjDb := ls.adjacencyDatabases[node]
	oldLinks := ls.LinksOf(node)
	ls.adjacencyDatabases[node] = newAdjDb
	newLinks := ls.deriveLinksFromNode(node, newAdjDb)
	sort.Slice(newLinks, func(i, j int) bool { return newLinks[i].Less(newLinks[j]) })

	var change LinkStateChange
	for _, old := range oldLinks {
		ls.indexRemove(old)
	}

	present := make(map[uint64]*Link, len(newLinks))
	for _, nl := range newLinks {
		present[nl.Hash()] = nl
	}
	oldByHash := make(map[uint64]*Link, len(oldLinks))
	for _, ol := range oldLinks {
		oldByHash[ol.Hash()] = ol
	}

	for h, nl := range present {
		if _, existed := oldByHash[h]; !existed {
			ls.indexInsert(nl)
			if nl.IsUp() {
				change.TopologyChanged = true
			}
			change.AddedLinks = append(change.AddedLinks, nl)
			ls.log.Debug("LINK UP", "link", nl.String())
		}
	}
	for h, ol := range oldByHash {
		if _, stillPresent := present[h]; !stillPresent {
			if ol.IsUp() {
				change.TopologyChanged = true
			}
			ls.log.Debug("LINK DOWN", "link", ol.String())
		}
	}
	for h, nl := range present {
		ol, existed := oldByHash[h]
		if !existed {
			continue
		}
		// The new Link object replaces the old one in every index; any hold
		// still pending on the old object must survive the swap.
		nl.holdUpTtl = ol.holdUpTtl
		other := nl.GetOtherNodeName(node)
		for _, n := range []string{node, other} {
			if ol.GetOverloadFromNode(n) && !nl.GetOverloadFromNode(n) {
				nl.ArmHoldUp(DefaultLinkHoldUpTtl)
			}
		}
		ls.indexInsert(nl)
		if diffLinkAttrs(ol, nl, node) {
			change.TopologyChanged = true
		}
		if diffLinkSideAttrs(ol, nl, node) {
			change.LinkAttributesChanged = true
		}
	}

	if priorAdjDb.NodeLabel != newAdjDb.NodeLabel {
		change.NodeLabelChanged = true
	}

	if ls.updateNodeOverloaded(node, newAdjDb.IsOverloaded) {
		change.TopologyChanged = true
	}
	if ls.nodeMetricIncrements[node] != newAdjDb.NodeMetricIncrementVal {
		ls.nodeMetricIncrements[node] = newAdjDb.NodeMetricIncrementVal
		change.TopologyChanged = true
	}

	if change.TopologyChanged {
		ls.invalidateCaches()
	}
	return change, nil
}

// diffLinkAttrs reports whether metric or overload changed between old and
// new for either endpoint of the link identified by node — these changes
// set topologyChanged.
func diffLinkAttrs(old, new *Link, node string) bool {
	other := old.GetOtherNodeName(node)
	if old.GetMetricFromNode(node) != new.GetMetricFromNode(node) ||
		old.GetMetricFromNode(other) != new.GetMetricFromNode(other) {
		return true
	}
	if old.GetOverloadFromNode(node) != new.GetOverloadFromNode(node) ||
		old.GetOverloadFromNode(other) != new.GetOverloadFromNode(other) {
		return true
	}
	return false
}

// diffLinkSideAttrs reports whether adjacency label, weight, or next-hop
// changed — these set linkAttributesChanged.
func diffLinkSideAttrs(old, new *Link, node string) bool {
	other := old.GetOtherNodeName(node)
	for _, n := range []string{node, other} {
		if old.GetAdjLabelFromNode(n) != new.GetAdjLabelFromNode(n) {
			return true
		}
		if old.GetWeightFromNode(n) != new.GetWeightFromNode(n) {
			return true
		}
		if old.GetNhV4FromNode(n) != new.GetNhV4FromNode(n) {
			return true
		}
		if old.GetNhV6FromNode(n) != new.GetNhV6FromNode(n) {
			return true
		}
	}
	return false
}

// updateNodeOverloaded applies node's announced overload flag through its
// HoldableValue. Returns true when the observable (held) value changed, so
// the caller can mark topology as changed.
func (ls *LinkState) updateNodeOverloaded(node string, overloaded bool) bool {
	hv, ok := ls.nodeOverloads[node]
	if !ok {
		hv = new(HoldableValue[bool])
		*hv = NewHoldableValue(overloaded)
		ls.nodeOverloads[node] = hv
		return overloaded
	}
	before := hv.Value()
	hv.UpdateValue(overloaded, DefaultOverloadHoldUpTtl, DefaultOverloadHoldDownTtl, func(_, next bool) bool {
		return !next
	})
	return hv.Value() != before
}

// DeleteAdjacencyDatabase removes node entirely from the LSDB: every
// incident Link, its adjacency database entry, and its overload/drain
// state.
func (ls *LinkState) DeleteAdjacencyDatabase(node string) LinkStateChange {
	var change LinkStateChange
	for _, l := range ls.LinksOf(node) {
		ls.indexRemove(l)
		if l.IsUp() {
			change.TopologyChanged = true
		}
	}
	delete(ls.adjacencyDatabases, node)
	delete(ls.nodeOverloads, node)
	delete(ls.nodeMetricIncrements, node)
	change.TopologyChanged = true
	ls.invalidateCaches()
	return change
}

// DecrementHolds ticks every link's hold-up TTL and every node's overload
// hold once. Returns true if any expired hold flipped topology state,
// in which case caches were invalidated.
func (ls *LinkState) DecrementHolds() bool {
	changed := false
	for _, l := range ls.allLinks {
		if l.DecrementHolds() {
			changed = true
		}
	}
	for _, hv := range ls.nodeOverloads {
		if hv.DecrementTtl() {
			changed = true
		}
	}
	if changed {
		ls.invalidateCaches()
	}
	return changed
}
