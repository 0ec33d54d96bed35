package decision

import (
	"testing"

	"github.com/nodeplane/ribengine/prefix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionRouteDbUpdateReportsAddedRoute(t *testing.T) {
	d := NewDecisionRouteDb()
	p := mustPrefix(t, "10.0.0.0/24")
	next := newRouteDb()
	next.UnicastRoutes[p.String()] = &RibUnicastEntry{
		Prefix:         p,
		NextHops:       []NextHop{{Node: "2", Iface: "eth-2"}},
		ForwardingAlgo: prefix.SpEcmp,
	}

	delta := d.Update(next)
	require.Len(t, delta.UnicastRoutesToUpdate, 1)
	assert.Equal(t, p.String(), delta.UnicastRoutesToUpdate[0].Prefix.String())
	assert.Empty(t, delta.UnicastRoutesToDelete)
	assert.Same(t, next, d.Current())
}

func TestDecisionRouteDbUpdateIsIdempotent(t *testing.T) {
	d := NewDecisionRouteDb()
	p := mustPrefix(t, "10.0.0.0/24")
	db1 := newRouteDb()
	db1.UnicastRoutes[p.String()] = &RibUnicastEntry{Prefix: p, NextHops: []NextHop{{Node: "2"}}}
	d.Update(db1)

	db2 := newRouteDb()
	db2.UnicastRoutes[p.String()] = &RibUnicastEntry{Prefix: p, NextHops: []NextHop{{Node: "2"}}}
	delta := d.CalculateUpdate(db2)
	assert.True(t, delta.Empty(), "identical route content should produce no delta")
}

func TestDecisionRouteDbUpdateReportsChangedAndDeletedRoutes(t *testing.T) {
	d := NewDecisionRouteDb()
	p1 := mustPrefix(t, "10.0.0.0/24")
	p2 := mustPrefix(t, "10.0.1.0/24")
	db1 := newRouteDb()
	db1.UnicastRoutes[p1.String()] = &RibUnicastEntry{Prefix: p1, NextHops: []NextHop{{Node: "2"}}}
	db1.UnicastRoutes[p2.String()] = &RibUnicastEntry{Prefix: p2, NextHops: []NextHop{{Node: "3"}}}
	d.Update(db1)

	db2 := newRouteDb()
	db2.UnicastRoutes[p1.String()] = &RibUnicastEntry{Prefix: p1, NextHops: []NextHop{{Node: "4"}}}

	delta := d.Update(db2)
	require.Len(t, delta.UnicastRoutesToUpdate, 1)
	assert.Equal(t, "4", delta.UnicastRoutesToUpdate[0].NextHops[0].Node)
	require.Len(t, delta.UnicastRoutesToDelete, 1)
	assert.Equal(t, p2, delta.UnicastRoutesToDelete[0])
}

func TestDecisionRouteDbMplsDelta(t *testing.T) {
	d := NewDecisionRouteDb()
	db1 := newRouteDb()
	db1.MplsRoutes[16001] = &RibMplsEntry{Label: 16001, NextHops: []NextHop{{Node: "2"}}}
	d.Update(db1)

	db2 := newRouteDb()
	delta := d.Update(db2)
	require.Len(t, delta.MplsRoutesToDelete, 1)
	assert.Equal(t, int32(16001), delta.MplsRoutesToDelete[0])
}
