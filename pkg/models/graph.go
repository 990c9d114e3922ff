package models

import "fmt"

// Graph is the executable shape of a workflow definition: nodes connected by
// directed, optionally branch-labeled edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// GraphError reports a structural problem found during validation. It is an
// authoring-time error: a definition that fails validation never activates.
type GraphError struct {
	NodeID string
	Reason string
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid graph at node %s: %s", e.NodeID, e.Reason)
	}

	return "invalid graph: " + e.Reason
}

// NodeByID looks up a node by its id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}

	return nil, false
}

// OutgoingEdges returns all edges leaving the given node, in authored order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge

	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}

	return out
}

// BranchEdges returns the edges leaving a condition node whose label matches
// the given branch value. More than one match is a valid fan-out.
func (g *Graph) BranchEdges(nodeID, branch string) []Edge {
	var out []Edge

	for _, e := range g.Edges {
		if e.From == nodeID && e.Condition == branch {
			out = append(out, e)
		}
	}

	return out
}

// EntryNode returns the single node with no incoming edges.
func (g *Graph) EntryNode() (*Node, error) {
	incoming := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		incoming[e.To]++
	}

	var entry *Node

	for i := range g.Nodes {
		if incoming[g.Nodes[i].ID] == 0 {
			if entry != nil {
				return nil, &GraphError{NodeID: g.Nodes[i].ID, Reason: "multiple entry nodes"}
			}

			entry = &g.Nodes[i]
		}
	}

	if entry == nil {
		return nil, &GraphError{Reason: "no entry node"}
	}

	return entry, nil
}

// Validate checks the structural invariants of the graph. It is a pure
// function with no side effects.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return &GraphError{Reason: "graph has no nodes"}
	}

	seen := make(map[string]bool, len(g.Nodes))

	for _, n := range g.Nodes {
		if n.ID == "" {
			return &GraphError{Reason: "node with empty id"}
		}

		if seen[n.ID] {
			return &GraphError{NodeID: n.ID, Reason: "duplicate node id"}
		}

		seen[n.ID] = true

		switch n.Type {
		case NodeTypeAction, NodeTypeCondition, NodeTypeDelay:
		default:
			return &GraphError{NodeID: n.ID, Reason: fmt.Sprintf("unknown node type %q", n.Type)}
		}
	}

	for _, e := range g.Edges {
		if !seen[e.From] {
			return &GraphError{NodeID: e.From, Reason: "edge references unknown source node"}
		}

		if !seen[e.To] {
			return &GraphError{NodeID: e.To, Reason: "edge references unknown target node"}
		}
	}

	for _, n := range g.Nodes {
		out := g.OutgoingEdges(n.ID)

		switch n.Type {
		case NodeTypeCondition:
			for _, e := range out {
				if e.Condition != BranchTrue && e.Condition != BranchFalse {
					return &GraphError{NodeID: n.ID, Reason: "condition edge without true/false label"}
				}
			}
		case NodeTypeAction, NodeTypeDelay:
			if len(out) > 1 {
				return &GraphError{NodeID: n.ID, Reason: "node has more than one successor"}
			}

			if len(out) == 1 && out[0].Condition != "" {
				return &GraphError{NodeID: n.ID, Reason: "branch label on edge leaving a non-condition node"}
			}
		}
	}

	entry, err := g.EntryNode()
	if err != nil {
		return err
	}

	reachable := map[string]bool{entry.ID: true}
	queue := []string{entry.ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, e := range g.OutgoingEdges(id) {
			if !reachable[e.To] {
				reachable[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	for _, n := range g.Nodes {
		if !reachable[n.ID] {
			return &GraphError{NodeID: n.ID, Reason: "node unreachable from entry"}
		}
	}

	return nil
}
