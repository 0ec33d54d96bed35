// Package prefix implements the per-area prefix advertisement store: which
// nodes originate which prefixes, and with what selection/forwarding
// metadata, independent of any particular SPF run.
package prefix

import (
	"net/netip"
	"sort"

	"github.com/gaissmai/bart"
)

// ForwardingAlgorithm selects how the decision engine computes next hops
// for a prefix once an origin is chosen.
type ForwardingAlgorithm int

const (
	SpEcmp ForwardingAlgorithm = iota
	SpUcmp
	Ksp2EdEcmp
)

// ForwardingType selects whether installed routes carry IP or MPLS actions.
type ForwardingType int

const (
	ForwardingIP ForwardingType = iota
	ForwardingSrMpls
)

// Entry is one node's advertisement of one prefix within one area.
// Hard/soft drain live on the node in topology.LinkState, not here — an
// Entry only carries the origin's own preference metadata.
type Entry struct {
	Prefix           netip.Prefix
	OriginatorId     string
	Area             string
	ForwardingAlgo   ForwardingAlgorithm
	ForwardingType   ForwardingType
	MinNexthop       int32 // 0 means "no minimum enforced"
	Weight           int64
	PathPreference   int32 // higher wins
	SourcePreference int32 // higher wins, tie-broken after PathPreference
	Tags             []string
}

// equalValue compares the selection-relevant fields of two entries for the
// same (prefix, originator, area) — used to detect no-op re-advertisements.
func (e *Entry) equalValue(o *Entry) bool {
	if e.ForwardingAlgo != o.ForwardingAlgo || e.ForwardingType != o.ForwardingType ||
		e.MinNexthop != o.MinNexthop || e.Weight != o.Weight ||
		e.PathPreference != o.PathPreference || e.SourcePreference != o.SourcePreference {
		return false
	}
	if len(e.Tags) != len(o.Tags) {
		return false
	}
	for i := range e.Tags {
		if e.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return true
}

// State is the per-area prefix advertisement store: a CIDR-keyed table of
// per-originator entries, plus a reverse index for fast per-node withdrawal.
type State struct {
	area string

	table        *bart.Table[map[string]*Entry] // prefix -> originatorId -> entry
	byOriginator map[string]map[netip.Prefix]struct{}
}

// NewState allocates an empty prefix store for the given area.
func NewState(area string) *State {
	return &State{
		area:         area,
		table:        &bart.Table[map[string]*Entry]{},
		byOriginator: make(map[string]map[netip.Prefix]struct{}),
	}
}

func (s *State) Area() string { return s.area }

// Advertise records or updates one node's advertisement of a prefix.
// Returns true iff the store's content actually changed.
func (s *State) Advertise(e *Entry) (bool, error) {
	if e.Area != s.area {
		return false, newInvalidArgument("Advertise", "entry area %q does not match prefix.State area %q", e.Area, s.area)
	}
	bucket, ok := s.table.Get(e.Prefix)
	if !ok {
		bucket = make(map[string]*Entry)
		s.table.Insert(e.Prefix, bucket)
	}
	if existing, ok := bucket[e.OriginatorId]; ok && existing.equalValue(e) {
		return false, nil
	}
	cp := *e
	bucket[e.OriginatorId] = &cp

	if s.byOriginator[e.OriginatorId] == nil {
		s.byOriginator[e.OriginatorId] = make(map[netip.Prefix]struct{})
	}
	s.byOriginator[e.OriginatorId][e.Prefix] = struct{}{}
	return true, nil
}

// Withdraw removes originatorId's advertisement of prefix. Returns true iff
// anything was removed.
func (s *State) Withdraw(p netip.Prefix, originatorId string) bool {
	bucket, ok := s.table.Get(p)
	if !ok {
		return false
	}
	if _, ok := bucket[originatorId]; !ok {
		return false
	}
	delete(bucket, originatorId)
	if len(bucket) == 0 {
		s.table.Delete(p)
	}
	delete(s.byOriginator[originatorId], p)
	if len(s.byOriginator[originatorId]) == 0 {
		delete(s.byOriginator, originatorId)
	}
	return true
}

// WithdrawAll removes every prefix originatorId has advertised (e.g. on node
// departure) and returns the affected prefixes, sorted for determinism.
func (s *State) WithdrawAll(originatorId string) []netip.Prefix {
	prefixes := s.byOriginator[originatorId]
	out := make([]netip.Prefix, 0, len(prefixes))
	for p := range prefixes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	for _, p := range out {
		s.Withdraw(p, originatorId)
	}
	return out
}

// Origins returns every originator's Entry for prefix, sorted by
// originator id for determinism. The returned entries are copies and safe
// for the caller to read without locking.
func (s *State) Origins(p netip.Prefix) []*Entry {
	bucket, ok := s.table.Get(p)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		cp := *bucket[id]
		out = append(out, &cp)
	}
	return out
}

// AllPrefixes returns every prefix with at least one advertisement, sorted
// for determinism.
func (s *State) AllPrefixes() []netip.Prefix {
	var out []netip.Prefix
	for p := range s.table.All() {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
