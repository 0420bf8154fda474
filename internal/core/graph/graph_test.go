package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Build Validation Tests
// =============================================================================

func TestBuild_EmptyGraph(t *testing.T) {
	_, err := Build(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyGraph)
}

func TestBuild_DuplicateNodeID(t *testing.T) {
	nodes := []Node{
		{ID: "core", Kind: KindLayer},
		{ID: "core", Kind: KindLayer},
	}
	_, err := Build(nodes, nil)
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestBuild_DanglingEdgeReference(t *testing.T) {
	nodes := []Node{
		{ID: "D", Kind: KindComponent, LayerID: "base"},
		{ID: "base", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "Z", TargetID: "D", Condition: ConditionReady},
	}
	_, err := Build(nodes, edges)
	require.ErrorIs(t, err, ErrDanglingReference)

	var dangling *DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, []string{"Z"}, dangling.Refs)
}

func TestBuild_DanglingLayerReference(t *testing.T) {
	nodes := []Node{
		{ID: "api", Kind: KindComponent, LayerID: "missing-layer"},
	}
	_, err := Build(nodes, nil)
	require.ErrorIs(t, err, ErrDanglingReference)

	var dangling *DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, []string{"missing-layer"}, dangling.Refs)
}

func TestBuild_ComponentLayerRefMustBeLayer(t *testing.T) {
	// A component pointing at another component is as broken as pointing
	// at nothing.
	nodes := []Node{
		{ID: "a", Kind: KindComponent, LayerID: "b"},
		{ID: "b", Kind: KindComponent},
	}
	_, err := Build(nodes, nil)
	assert.ErrorIs(t, err, ErrDanglingReference)
}

func TestBuild_CollectsAllMissingRefs(t *testing.T) {
	nodes := []Node{{ID: "a", Kind: KindLayer}}
	edges := []Edge{
		{SourceID: "x", TargetID: "a"},
		{SourceID: "a", TargetID: "y"},
	}
	_, err := Build(nodes, edges)

	var dangling *DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, []string{"x", "y"}, dangling.Refs)
}

// =============================================================================
// Cycle Detection Tests
// =============================================================================

func TestBuild_TwoNodeCycle(t *testing.T) {
	nodes := []Node{
		{ID: "X", Kind: KindLayer},
		{ID: "Y", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "X", TargetID: "Y"},
		{SourceID: "Y", TargetID: "X"},
	}
	_, err := Build(nodes, edges)
	require.ErrorIs(t, err, ErrCycleDetected)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"X", "Y"}, cycle.NodeIDs)
}

func TestBuild_CycleReportsOnlyUnorderableNodes(t *testing.T) {
	// a is orderable; b and c form the cycle.
	nodes := []Node{
		{ID: "a", Kind: KindLayer},
		{ID: "b", Kind: KindLayer},
		{ID: "c", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "a", TargetID: "b"},
		{SourceID: "b", TargetID: "c"},
		{SourceID: "c", TargetID: "b"},
	}
	_, err := Build(nodes, edges)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"b", "c"}, cycle.NodeIDs)
}

func TestBuild_NeverReturnsPartialOrderOnCycle(t *testing.T) {
	nodes := []Node{
		{ID: "X", Kind: KindLayer},
		{ID: "Y", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "X", TargetID: "Y"},
		{SourceID: "Y", TargetID: "X"},
	}
	g, err := Build(nodes, edges)
	assert.Error(t, err)
	assert.Nil(t, g)
}

// =============================================================================
// Topological Sort Tests
// =============================================================================

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestSorted_LinearChain(t *testing.T) {
	nodes := []Node{
		{ID: "web", Kind: KindComponent, LayerID: "app"},
		{ID: "api", Kind: KindComponent, LayerID: "app"},
		{ID: "db", Kind: KindComponent, LayerID: "app"},
		{ID: "app", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "api", TargetID: "web"},
		{SourceID: "db", TargetID: "api"},
	}
	g, err := Build(nodes, edges)
	require.NoError(t, err)

	ids := g.SortedIDs()
	assert.Less(t, indexOf(ids, "db"), indexOf(ids, "api"))
	assert.Less(t, indexOf(ids, "api"), indexOf(ids, "web"))
}

func TestSorted_Diamond(t *testing.T) {
	//      db
	//     /  \
	//   api  cache
	//     \  /
	//     web
	nodes := []Node{
		{ID: "web", Kind: KindLayer},
		{ID: "api", Kind: KindLayer},
		{ID: "cache", Kind: KindLayer},
		{ID: "db", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "db", TargetID: "api"},
		{SourceID: "db", TargetID: "cache"},
		{SourceID: "api", TargetID: "web"},
		{SourceID: "cache", TargetID: "web"},
	}
	g, err := Build(nodes, edges)
	require.NoError(t, err)

	ids := g.SortedIDs()
	for _, e := range edges {
		assert.Less(t, indexOf(ids, e.SourceID), indexOf(ids, e.TargetID),
			"%s should come before %s", e.SourceID, e.TargetID)
	}
}

func TestSorted_TieBreakByAscendingID(t *testing.T) {
	nodes := []Node{
		{ID: "zeta", Kind: KindLayer},
		{ID: "alpha", Kind: KindLayer},
		{ID: "mid", Kind: KindLayer},
	}
	g, err := Build(nodes, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, g.SortedIDs())
}

func TestSorted_Deterministic(t *testing.T) {
	nodes := []Node{
		{ID: "c", Kind: KindLayer},
		{ID: "a", Kind: KindLayer},
		{ID: "d", Kind: KindLayer},
		{ID: "b", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "a", TargetID: "c"},
		{SourceID: "a", TargetID: "d"},
	}

	g1, err := Build(nodes, edges)
	require.NoError(t, err)
	g2, err := Build(nodes, edges)
	require.NoError(t, err)

	// Two independent invocations on identical input must agree exactly.
	assert.Equal(t, g1.SortedIDs(), g2.SortedIDs())
}

// =============================================================================
// Accessor Tests
// =============================================================================

func TestGraph_EdgeLookup(t *testing.T) {
	nodes := []Node{
		{ID: "a", Kind: KindLayer},
		{ID: "b", Kind: KindLayer},
	}
	edges := []Edge{
		{SourceID: "a", TargetID: "b", Condition: ConditionSuccess},
	}
	g, err := Build(nodes, edges)
	require.NoError(t, err)

	e, ok := g.EdgeBetween("a", "b")
	require.True(t, ok)
	assert.Equal(t, ConditionSuccess, e.Condition)

	_, ok = g.EdgeBetween("b", "a")
	assert.False(t, ok)

	assert.True(t, g.HasEdge("b", "a")) // either direction
	assert.Equal(t, []string{"a"}, g.Predecessors("b"))
	assert.Equal(t, []string{"b"}, g.Successors("a"))
}

func TestEffectivePriority_Sentinel(t *testing.T) {
	declared := Node{ID: "a", Priority: 5}
	undeclared := Node{ID: "b"}

	assert.Equal(t, 5, declared.EffectivePriority())
	assert.Equal(t, DefaultPriority, undeclared.EffectivePriority())
}

func TestErrorUnwrapping(t *testing.T) {
	cycle := &CycleError{NodeIDs: []string{"X", "Y"}}
	assert.True(t, errors.Is(cycle, ErrCycleDetected))
	assert.Contains(t, cycle.Error(), "X, Y")

	dangling := &DanglingReferenceError{Refs: []string{"Z"}}
	assert.True(t, errors.Is(dangling, ErrDanglingReference))
	assert.Contains(t, dangling.Error(), "Z")
}
