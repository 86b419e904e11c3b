package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

func ids(s ...string) []workflow.NodeID { return workflow.NodeIDs(s...) }

func conn(from, to string) workflow.Connection {
	return workflow.Connection{From: workflow.NodeID(from), To: workflow.NodeID(to)}
}

func depths(items []Item) map[workflow.NodeID]int {
	out := make(map[workflow.NodeID]int, len(items))
	for _, it := range items {
		out[it.NodeID] = it.Depth
	}
	return out
}

func order(items []Item) []workflow.NodeID {
	out := make([]workflow.NodeID, len(items))
	for i, it := range items {
		out[i] = it.NodeID
	}
	return out
}

func TestComputeEmpty(t *testing.T) {
	items := Compute(nil, nil, nil)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, -1, MaxDepth(items))
	assert.Nil(t, GroupByDepth(items))
}

func TestComputeLinearChain(t *testing.T) {
	items := Compute(ids("A", "B", "C", "D"), []workflow.Connection{
		conn("A", "B"), conn("B", "C"), conn("C", "D"),
	}, nil)

	assert.Equal(t, ids("A", "B", "C", "D"), order(items))
	assert.Equal(t, map[workflow.NodeID]int{"A": 0, "B": 1, "C": 2, "D": 3}, depths(items))
	assert.Equal(t, 3, MaxDepth(items))
}

func TestComputeChainDeclaredOutOfOrder(t *testing.T) {
	items := Compute(ids("C", "B", "A"), []workflow.Connection{
		conn("A", "B"), conn("B", "C"),
	}, nil)

	assert.Equal(t, ids("A", "B", "C"), order(items))
}

func TestComputeEveryNodeExactlyOnce(t *testing.T) {
	cases := []struct {
		name  string
		nodes []workflow.NodeID
		conns []workflow.Connection
	}{
		{"diamond", ids("a", "b", "c", "d"), []workflow.Connection{conn("a", "b"), conn("a", "c"), conn("b", "d"), conn("c", "d")}},
		{"cycle", ids("a", "b", "c"), []workflow.Connection{conn("a", "b"), conn("b", "c"), conn("c", "a")}},
		{"parallel edges", ids("a", "b"), []workflow.Connection{conn("a", "b"), conn("a", "b"), conn("a", "b")}},
		{"self loop", ids("a", "b"), []workflow.Connection{conn("a", "a"), conn("a", "b")}},
		{"dangling edges", ids("a", "b"), []workflow.Connection{conn("a", "x"), conn("y", "b")}},
		{"duplicate input ids", ids("a", "b", "a"), []workflow.Connection{conn("a", "b")}},
		{"no edges", ids("a", "b", "c"), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items := Compute(tc.nodes, tc.conns, nil)

			want := map[workflow.NodeID]bool{}
			for _, id := range tc.nodes {
				want[id] = true
			}
			seen := map[workflow.NodeID]bool{}
			for _, it := range items {
				require.False(t, seen[it.NodeID], "node %s scheduled twice", it.NodeID)
				seen[it.NodeID] = true
			}
			assert.Equal(t, want, seen)
		})
	}
}

func TestComputeNodesWithoutIncomingEdgeAtDepthZero(t *testing.T) {
	items := Compute(ids("a", "b", "c", "d", "e"), []workflow.Connection{
		conn("a", "c"), conn("b", "c"), conn("c", "d"),
	}, nil)

	d := depths(items)
	assert.Equal(t, 0, d["a"])
	assert.Equal(t, 0, d["b"])
	assert.Equal(t, 0, d["e"])
	assert.Equal(t, 1, d["c"])
	assert.Equal(t, 2, d["d"])
}

func TestComputeTriggerChainsInterleaveByDepth(t *testing.T) {
	types := map[workflow.NodeID]workflow.NodeType{
		"t1": workflow.NodeTypeTrigger,
		"t2": workflow.NodeTypeTrigger,
	}
	items := Compute(ids("t1", "a1", "b1", "t2", "a2", "b2"), []workflow.Connection{
		conn("t1", "a1"), conn("a1", "b1"),
		conn("t2", "a2"), conn("a2", "b2"),
	}, types)

	assert.Equal(t, ids("t1", "t2", "a1", "a2", "b1", "b2"), order(items))
	d := depths(items)
	assert.Equal(t, 0, d["t1"])
	assert.Equal(t, 0, d["t2"])
	assert.Equal(t, d["a1"], d["a2"])
	assert.Equal(t, d["b1"], d["b2"])

	groups := GroupByDepth(items)
	require.Len(t, groups, 3)
	assert.ElementsMatch(t, ids("a1", "a2"), groups[1])
}

func TestComputeTriggerWithIncomingEdgeStartsAtZero(t *testing.T) {
	types := map[workflow.NodeID]workflow.NodeType{"t": workflow.NodeTypeTrigger}
	items := Compute(ids("t", "p"), []workflow.Connection{conn("p", "t"), conn("t", "p")}, types)

	assert.Equal(t, ids("t", "p"), order(items))
	assert.Equal(t, map[workflow.NodeID]int{"t": 0, "p": 1}, depths(items))
	assert.Equal(t, workflow.NodeTypeTrigger, items[0].NodeType)
	assert.Empty(t, items[1].NodeType)
}

func TestComputeFallsBackToFirstNodeWhenNoStart(t *testing.T) {
	items := Compute(ids("b", "a", "c"), []workflow.Connection{
		conn("a", "b"), conn("b", "c"), conn("c", "a"),
	}, nil)

	assert.Equal(t, ids("b", "c", "a"), order(items))
	assert.Equal(t, map[workflow.NodeID]int{"b": 0, "c": 1, "a": 2}, depths(items))
}

func TestComputeUnreachableNodesAppendedWithSyntheticDepth(t *testing.T) {
	// x and y feed each other, so neither is a start node and nothing reaches them.
	types := map[workflow.NodeID]workflow.NodeType{"t": workflow.NodeTypeTrigger}
	items := Compute(ids("x", "t", "a", "y"), []workflow.Connection{
		conn("t", "a"), conn("x", "y"), conn("y", "x"),
	}, types)

	assert.Equal(t, ids("t", "a", "x", "y"), order(items))
	d := depths(items)
	assert.Equal(t, 2, d["x"])
	assert.Equal(t, 3, d["y"])
	assert.Greater(t, d["x"], d["a"])
}

func TestComputeDanglingTargetIsNotScheduled(t *testing.T) {
	items := Compute(ids("a", "b"), []workflow.Connection{conn("a", "ghost"), conn("a", "b")}, nil)

	assert.Equal(t, ids("a", "b"), order(items))
}

func TestComputeDanglingSourceMakesTargetUnreachable(t *testing.T) {
	items := Compute(ids("a", "b"), []workflow.Connection{conn("ghost", "b")}, nil)

	assert.Equal(t, ids("a", "b"), order(items))
	assert.Equal(t, 1, depths(items)["b"])
}

func TestComputeSelfLoop(t *testing.T) {
	items := Compute(ids("a"), []workflow.Connection{conn("a", "a")}, nil)

	require.Len(t, items, 1)
	assert.Equal(t, workflow.NodeID("a"), items[0].NodeID)
	assert.Equal(t, 0, items[0].Depth)
}

func TestComputeFirstDiscoveryWins(t *testing.T) {
	// d is reachable at depth 1 from a and at depth 2 through b.
	items := Compute(ids("a", "b", "d"), []workflow.Connection{
		conn("a", "b"), conn("b", "d"), conn("a", "d"),
	}, nil)

	assert.Equal(t, map[workflow.NodeID]int{"a": 0, "b": 1, "d": 1}, depths(items))
	assert.Equal(t, ids("a", "b", "d"), order(items))
}

func TestComputeDepthsNonDecreasingForReachableNodes(t *testing.T) {
	items := Compute(ids("r", "a", "b", "c", "d", "e"), []workflow.Connection{
		conn("r", "a"), conn("r", "b"), conn("a", "c"), conn("b", "d"), conn("d", "e"), conn("c", "e"),
	}, nil)

	for i := 1; i < len(items); i++ {
		assert.LessOrEqual(t, items[i-1].Depth, items[i].Depth)
	}
}
