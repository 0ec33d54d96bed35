package decision

import (
	"net/netip"
	"sort"

	"github.com/google/go-cmp/cmp"
)

// RouteDbDelta is what changed between two RouteDb snapshots: the routes
// that need a FIB update, and the ones that need to be withdrawn entirely.
type RouteDbDelta struct {
	UnicastRoutesToUpdate []*RibUnicastEntry
	UnicastRoutesToDelete []netip.Prefix
	MplsRoutesToUpdate    []*RibMplsEntry
	MplsRoutesToDelete    []int32
}

func (d RouteDbDelta) Empty() bool {
	return len(d.UnicastRoutesToUpdate) == 0 && len(d.UnicastRoutesToDelete) == 0 &&
		len(d.MplsRoutesToUpdate) == 0 && len(d.MplsRoutesToDelete) == 0
}

// DecisionRouteDb is the installed-RIB diff store: it remembers the last RouteDb
// handed to Update and computes the minimal delta a downstream
// FIB-programming collaborator needs to apply, via a standalone
// calculateUpdate step kept separate from committing it.
type DecisionRouteDb struct {
	current *RouteDb
}

// NewDecisionRouteDb starts with an empty installed RIB.
func NewDecisionRouteDb() *DecisionRouteDb {
	return &DecisionRouteDb{current: newRouteDb()}
}

// Current returns the last committed RouteDb snapshot.
func (d *DecisionRouteDb) Current() *RouteDb {
	return d.current
}

// CalculateUpdate diffs newDb against the currently installed RouteDb
// without committing it — useful for dry-run / test assertions.
func (d *DecisionRouteDb) CalculateUpdate(newDb *RouteDb) RouteDbDelta {
	var delta RouteDbDelta

	for pfx, entry := range newDb.UnicastRoutes {
		old, existed := d.current.UnicastRoutes[pfx]
		if !existed || !cmp.Equal(old, entry, cmp.Comparer(addrEqual), cmp.Comparer(prefixEqual)) {
			delta.UnicastRoutesToUpdate = append(delta.UnicastRoutesToUpdate, entry)
		}
	}
	for pfx, old := range d.current.UnicastRoutes {
		if _, stillPresent := newDb.UnicastRoutes[pfx]; !stillPresent {
			delta.UnicastRoutesToDelete = append(delta.UnicastRoutesToDelete, old.Prefix)
		}
	}

	for label, entry := range newDb.MplsRoutes {
		old, existed := d.current.MplsRoutes[label]
		if !existed || !cmp.Equal(old, entry, cmp.Comparer(addrEqual), cmp.Comparer(prefixEqual)) {
			delta.MplsRoutesToUpdate = append(delta.MplsRoutesToUpdate, entry)
		}
	}
	for label, old := range d.current.MplsRoutes {
		if _, stillPresent := newDb.MplsRoutes[label]; !stillPresent {
			delta.MplsRoutesToDelete = append(delta.MplsRoutesToDelete, old.Label)
		}
	}

	sort.Slice(delta.UnicastRoutesToUpdate, func(i, j int) bool {
		return delta.UnicastRoutesToUpdate[i].Prefix.String() < delta.UnicastRoutesToUpdate[j].Prefix.String()
	})
	sort.Slice(delta.UnicastRoutesToDelete, func(i, j int) bool {
		return delta.UnicastRoutesToDelete[i].String() < delta.UnicastRoutesToDelete[j].String()
	})
	sort.Slice(delta.MplsRoutesToUpdate, func(i, j int) bool {
		return delta.MplsRoutesToUpdate[i].Label < delta.MplsRoutesToUpdate[j].Label
	})
	sort.Slice(delta.MplsRoutesToDelete, func(i, j int) bool {
		return delta.MplsRoutesToDelete[i] < delta.MplsRoutesToDelete[j]
	})

	return delta
}

// Update commits newDb as the installed RouteDb and returns the delta that
// got it there.
func (d *DecisionRouteDb) Update(newDb *RouteDb) RouteDbDelta {
	delta := d.CalculateUpdate(newDb)
	d.current = newDb
	return delta
}

func addrEqual(a, b netip.Addr) bool {
	return a == b
}

func prefixEqual(a, b netip.Prefix) bool {
	return a == b
}
