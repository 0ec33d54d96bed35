package prefix

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func TestAdvertiseAndOrigins(t *testing.T) {
	s := NewState("area1")
	p := mustPrefix(t, "10.0.0.0/24")

	changed, err := s.Advertise(&Entry{Prefix: p, OriginatorId: "a", Area: "area1", PathPreference: 100})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Advertise(&Entry{Prefix: p, OriginatorId: "b", Area: "area1", PathPreference: 50})
	require.NoError(t, err)
	assert.True(t, changed)

	origins := s.Origins(p)
	require.Len(t, origins, 2)
	assert.Equal(t, "a", origins[0].OriginatorId)
	assert.Equal(t, "b", origins[1].OriginatorId)
}

func TestAdvertiseNoopWhenUnchanged(t *testing.T) {
	s := NewState("area1")
	p := mustPrefix(t, "10.0.0.0/24")
	_, err := s.Advertise(&Entry{Prefix: p, OriginatorId: "a", Area: "area1", PathPreference: 100})
	require.NoError(t, err)

	changed, err := s.Advertise(&Entry{Prefix: p, OriginatorId: "a", Area: "area1", PathPreference: 100})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Advertise(&Entry{Prefix: p, OriginatorId: "a", Area: "area1", PathPreference: 200})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestAdvertiseWrongArea(t *testing.T) {
	s := NewState("area1")
	p := mustPrefix(t, "10.0.0.0/24")
	_, err := s.Advertise(&Entry{Prefix: p, OriginatorId: "a", Area: "area2"})
	assert.Error(t, err)
}

func TestWithdraw(t *testing.T) {
	s := NewState("area1")
	p := mustPrefix(t, "10.0.0.0/24")
	_, err := s.Advertise(&Entry{Prefix: p, OriginatorId: "a", Area: "area1"})
	require.NoError(t, err)

	assert.True(t, s.Withdraw(p, "a"))
	assert.Empty(t, s.Origins(p))
	assert.False(t, s.Withdraw(p, "a"), "second withdraw is a no-op")
}

func TestWithdrawAll(t *testing.T) {
	s := NewState("area1")
	p1 := mustPrefix(t, "10.0.0.0/24")
	p2 := mustPrefix(t, "10.0.1.0/24")
	_, err := s.Advertise(&Entry{Prefix: p1, OriginatorId: "a", Area: "area1"})
	require.NoError(t, err)
	_, err = s.Advertise(&Entry{Prefix: p2, OriginatorId: "a", Area: "area1"})
	require.NoError(t, err)
	_, err = s.Advertise(&Entry{Prefix: p1, OriginatorId: "b", Area: "area1"})
	require.NoError(t, err)

	removed := s.WithdrawAll("a")
	assert.Len(t, removed, 2)
	assert.Empty(t, s.byOriginator["a"])
	origins := s.Origins(p1)
	require.Len(t, origins, 1)
	assert.Equal(t, "b", origins[0].OriginatorId)
}

func TestAllPrefixesSorted(t *testing.T) {
	s := NewState("area1")
	p1 := mustPrefix(t, "10.0.1.0/24")
	p2 := mustPrefix(t, "10.0.0.0/24")
	_, err := s.Advertise(&Entry{Prefix: p1, OriginatorId: "a", Area: "area1"})
	require.NoError(t, err)
	_, err = s.Advertise(&Entry{Prefix: p2, OriginatorId: "a", Area: "area1"})
	require.NoError(t, err)

	all := s.AllPrefixes()
	require.Len(t, all, 2)
	assert.Equal(t, p2, all[0])
	assert.Equal(t, p1, all[1])
}
