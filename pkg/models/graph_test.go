package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "n1", Type: NodeTypeAction, Name: "log"},
			{ID: "n2", Type: NodeTypeDelay, Config: map[string]any{"duration": "1h"}},
			{ID: "n3", Type: NodeTypeAction, Name: "webhook"},
		},
		Edges: []Edge{
			{From: "n1", To: "n2"},
			{From: "n2", To: "n3"},
		},
	}
}

func branchingGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "start", Type: NodeTypeAction, Name: "log"},
			{ID: "check", Type: NodeTypeCondition, Config: map[string]any{"expression": `{{context.new.stage}} == "won"`}},
			{ID: "celebrate", Type: NodeTypeAction, Name: "webhook"},
			{ID: "followup", Type: NodeTypeAction, Name: "log"},
		},
		Edges: []Edge{
			{From: "start", To: "check"},
			{From: "check", To: "celebrate", Condition: BranchTrue},
			{From: "check", To: "followup", Condition: BranchFalse},
		},
	}
}

func TestGraph_Validate_Valid(t *testing.T) {
	tests := []struct {
		name  string
		graph Graph
	}{
		{name: "linear graph", graph: linearGraph()},
		{name: "branching graph", graph: branchingGraph()},
		{
			name: "single node",
			graph: Graph{
				Nodes: []Node{{ID: "only", Type: NodeTypeAction, Name: "log"}},
			},
		},
		{
			name: "cycle reachable from entry",
			graph: Graph{
				Nodes: []Node{
					{ID: "a", Type: NodeTypeAction, Name: "log"},
					{ID: "b", Type: NodeTypeCondition, Config: map[string]any{"expression": `{{context.x}} == "y"`}},
					{ID: "c", Type: NodeTypeAction, Name: "log"},
				},
				Edges: []Edge{
					{From: "a", To: "b"},
					{From: "b", To: "c", Condition: BranchTrue},
					{From: "c", To: "b"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.graph.Validate())
		})
	}
}

func TestGraph_Validate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		graph  Graph
		reason string
	}{
		{
			name:   "empty graph",
			graph:  Graph{},
			reason: "graph has no nodes",
		},
		{
			name: "duplicate node id",
			graph: Graph{
				Nodes: []Node{
					{ID: "n1", Type: NodeTypeAction},
					{ID: "n1", Type: NodeTypeAction},
				},
			},
			reason: "duplicate node id",
		},
		{
			name: "unknown node type",
			graph: Graph{
				Nodes: []Node{{ID: "n1", Type: "loop"}},
			},
			reason: `unknown node type "loop"`,
		},
		{
			name: "edge to unknown node",
			graph: Graph{
				Nodes: []Node{{ID: "n1", Type: NodeTypeAction}},
				Edges: []Edge{{From: "n1", To: "ghost"}},
			},
			reason: "edge references unknown target node",
		},
		{
			name: "condition edge without label",
			graph: Graph{
				Nodes: []Node{
					{ID: "c1", Type: NodeTypeCondition},
					{ID: "n1", Type: NodeTypeAction},
				},
				Edges: []Edge{{From: "c1", To: "n1"}},
			},
			reason: "condition edge without true/false label",
		},
		{
			name: "action with two successors",
			graph: Graph{
				Nodes: []Node{
					{ID: "a", Type: NodeTypeAction},
					{ID: "b", Type: NodeTypeAction},
					{ID: "c", Type: NodeTypeAction},
				},
				Edges: []Edge{
					{From: "a", To: "b"},
					{From: "a", To: "c"},
				},
			},
			reason: "node has more than one successor",
		},
		{
			name: "branch label on action edge",
			graph: Graph{
				Nodes: []Node{
					{ID: "a", Type: NodeTypeAction},
					{ID: "b", Type: NodeTypeAction},
				},
				Edges: []Edge{{From: "a", To: "b", Condition: BranchTrue}},
			},
			reason: "branch label on edge leaving a non-condition node",
		},
		{
			name: "two entry nodes",
			graph: Graph{
				Nodes: []Node{
					{ID: "a", Type: NodeTypeAction},
					{ID: "b", Type: NodeTypeAction},
				},
			},
			reason: "multiple entry nodes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			require.Error(t, err)

			var graphErr *GraphError

			require.ErrorAs(t, err, &graphErr)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestGraph_EntryNode(t *testing.T) {
	graph := branchingGraph()

	entry, err := graph.EntryNode()
	require.NoError(t, err)
	assert.Equal(t, "start", entry.ID)
}

func TestGraph_BranchEdges(t *testing.T) {
	graph := branchingGraph()

	trueEdges := graph.BranchEdges("check", BranchTrue)
	require.Len(t, trueEdges, 1)
	assert.Equal(t, "celebrate", trueEdges[0].To)

	falseEdges := graph.BranchEdges("check", BranchFalse)
	require.Len(t, falseEdges, 1)
	assert.Equal(t, "followup", falseEdges[0].To)

	assert.Empty(t, graph.BranchEdges("start", BranchTrue))
}

func TestGraph_BranchEdges_FanOut(t *testing.T) {
	graph := Graph{
		Nodes: []Node{
			{ID: "check", Type: NodeTypeCondition},
			{ID: "a", Type: NodeTypeAction},
			{ID: "b", Type: NodeTypeAction},
		},
		Edges: []Edge{
			{From: "check", To: "a", Condition: BranchTrue},
			{From: "check", To: "b", Condition: BranchTrue},
		},
	}

	edges := graph.BranchEdges("check", BranchTrue)
	require.Len(t, edges, 2)
	assert.Equal(t, "a", edges[0].To)
	assert.Equal(t, "b", edges[1].To)
}
