package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeplane/ribengine/wire"
)

func adjDb(node, area string, overloaded bool, adjs ...wire.Adjacency) wire.AdjacencyDatabase {
	return wire.AdjacencyDatabase{
		ThisNodeName: node,
		Area:         area,
		IsOverloaded: overloaded,
		Adjacencies:  adjs,
	}
}

func adj(other, ifName, otherIf string, metric uint32) wire.Adjacency {
	return wire.Adjacency{
		OtherNodeName: other,
		IfName:        ifName,
		OtherIfName:   otherIf,
		Metric:        metric,
	}
}

func TestUpdateAdjacencyDatabaseFormsLinkOnBidirectionalMatch(t *testing.T) {
	ls := NewLinkState("area1", nil)

	changeA, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 10)))
	require.NoError(t, err)
	assert.False(t, changeA.TopologyChanged, "one-sided adjacency doesn't form a link yet")
	assert.Empty(t, ls.AllLinks())

	changeB, err := ls.UpdateAdjacencyDatabase(adjDb("b", "area1", false, adj("a", "eth0", "eth0", 10)))
	require.NoError(t, err)
	assert.True(t, changeB.TopologyChanged)
	require.Len(t, ls.AllLinks(), 1)

	l := ls.AllLinks()[0]
	assert.EqualValues(t, 10, l.GetMetricFromNode("a"))
	assert.EqualValues(t, 10, l.GetMetricFromNode("b"))
}

func TestUpdateAdjacencyDatabaseWrongAreaRejected(t *testing.T) {
	ls := NewLinkState("area1", nil)
	_, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area2", false))
	assert.Error(t, err)
}

func TestUpdateAdjacencyDatabaseMetricChangeInvalidatesCache(t *testing.T) {
	ls := NewLinkState("area1", nil)
	_, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 10)))
	require.NoError(t, err)
	_, err = ls.UpdateAdjacencyDatabase(adjDb("b", "area1", false, adj("a", "eth0", "eth0", 10)))
	require.NoError(t, err)

	first := ls.RunSpf("a", true, nil)
	second := ls.RunSpf("a", true, nil)
	assert.Same(t, first, second)

	change, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 20)))
	require.NoError(t, err)
	assert.True(t, change.TopologyChanged)

	third := ls.RunSpf("a", true, nil)
	assert.NotSame(t, first, third)
	assert.EqualValues(t, 20, third.Nodes["b"].Metric)
}

func TestUpdateAdjacencyDatabaseLabelOnlyChangeIsAttributesChanged(t *testing.T) {
	ls := NewLinkState("area1", nil)
	_, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 10)))
	require.NoError(t, err)
	_, err = ls.UpdateAdjacencyDatabase(adjDb("b", "area1", false, adj("a", "eth0", "eth0", 10)))
	require.NoError(t, err)

	dbWithLabel := adjDb("a", "area1", false, adj("b", "eth0", "eth0", 10))
	dbWithLabel.Adjacencies[0].AdjLabel = 500
	change, err := ls.UpdateAdjacencyDatabase(dbWithLabel)
	require.NoError(t, err)
	assert.False(t, change.TopologyChanged)
	assert.True(t, change.LinkAttributesChanged)
}

func TestUpdateAdjacencyDatabaseReportsNodeLabelChange(t *testing.T) {
	ls := NewLinkState("area1", nil)

	first := adjDb("a", "area1", false, adj("b", "eth0", "eth0", 10))
	first.NodeLabel = 16001
	change, err := ls.UpdateAdjacencyDatabase(first)
	require.NoError(t, err)
	assert.True(t, change.NodeLabelChanged, "first announcement with a label differs from the empty prior")

	change, err = ls.UpdateAdjacencyDatabase(first)
	require.NoError(t, err)
	assert.False(t, change.NodeLabelChanged)

	relabeled := first
	relabeled.NodeLabel = 16002
	change, err = ls.UpdateAdjacencyDatabase(relabeled)
	require.NoError(t, err)
	assert.True(t, change.NodeLabelChanged)
}

func TestDeleteAdjacencyDatabaseRemovesIncidentLinks(t *testing.T) {
	ls := NewLinkState("area1", nil)
	_, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 10)))
	require.NoError(t, err)
	_, err = ls.UpdateAdjacencyDatabase(adjDb("b", "area1", false, adj("a", "eth0", "eth0", 10)))
	require.NoError(t, err)
	require.Len(t, ls.AllLinks(), 1)

	change := ls.DeleteAdjacencyDatabase("b")
	assert.True(t, change.TopologyChanged)
	assert.Empty(t, ls.AllLinks())
	assert.False(t, ls.HasNode("b"))
}

func TestNodeOverloadIsHeldBeforeTakingEffect(t *testing.T) {
	ls := NewLinkState("area1", nil)
	_, err := ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 1)))
	require.NoError(t, err)
	_, err = ls.UpdateAdjacencyDatabase(adjDb("b", "area1", false, adj("a", "eth0", "eth0", 1)))
	require.NoError(t, err)
	require.False(t, ls.IsNodeOverloaded("a"))

	// Overload sets down immediately (DefaultOverloadHoldDownTtl == 0).
	_, err = ls.UpdateAdjacencyDatabase(adjDb("a", "area1", true, adj("b", "eth0", "eth0", 1)))
	require.NoError(t, err)
	assert.True(t, ls.IsNodeOverloaded("a"))

	// Clearing overload is held up for DefaultOverloadHoldUpTtl ticks.
	_, err = ls.UpdateAdjacencyDatabase(adjDb("a", "area1", false, adj("b", "eth0", "eth0", 1)))
	require.NoError(t, err)
	assert.True(t, ls.IsNodeOverloaded("a"), "still held")
	ls.DecrementHolds()
	assert.True(t, ls.IsNodeOverloaded("a"))
	ls.DecrementHolds()
	assert.False(t, ls.IsNodeOverloaded("a"))
}
