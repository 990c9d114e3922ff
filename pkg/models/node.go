package models

import (
	"errors"
	"fmt"
	"time"
)

// NodeType represents the execution behavior of a node.
type NodeType string

const (
	NodeTypeAction    NodeType = "action"    // Dispatches a named side effect
	NodeTypeCondition NodeType = "condition" // Evaluates an expression and branches
	NodeTypeDelay     NodeType = "delay"     // Suspends the run until a wake time
)

// Branch labels carried by edges leaving condition nodes.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// Node is a single vertex in a workflow graph. Config is an opaque mapping of
// parameter name to value or template string; its shape depends on Type and
// Name. Position fields are presentation metadata only.
type Node struct {
	ID        string         `json:"id"   validate:"required"`
	Type      NodeType       `json:"type" validate:"required,oneof=action condition delay"`
	Name      string         `json:"name"` // action identifier (e.g. "email.send") or label
	Config    map[string]any `json:"config,omitempty"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
}

// Edge is a directed connection between two nodes. Condition is set only on
// edges leaving a condition node and selects the branch to follow.
type Edge struct {
	From      string `json:"from" validate:"required"`
	To        string `json:"to"   validate:"required"`
	Condition string `json:"condition,omitempty"`
}

var ErrDelayNotConfigured = errors.New("delay node has no duration configuration")

// Expression returns the condition expression configured on a condition node.
func (n *Node) Expression() string {
	if n.Config == nil {
		return ""
	}

	expr, _ := n.Config["expression"].(string)

	return expr
}

// DelayDuration resolves the configured wait of a delay node. Accepts a
// "duration" string in Go duration syntax or a numeric "ms" field.
func (n *Node) DelayDuration() (time.Duration, error) {
	if n.Config == nil {
		return 0, ErrDelayNotConfigured
	}

	if raw, ok := n.Config["duration"]; ok {
		str, ok := raw.(string)
		if !ok {
			return 0, fmt.Errorf("invalid 'duration' type %T: %w", raw, ErrDelayNotConfigured)
		}

		d, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("failed to parse delay duration %q: %w", str, err)
		}

		return d, nil
	}

	if raw, ok := n.Config["ms"]; ok {
		switch v := raw.(type) {
		case float64:
			return time.Duration(v) * time.Millisecond, nil
		case int:
			return time.Duration(v) * time.Millisecond, nil
		case int64:
			return time.Duration(v) * time.Millisecond, nil
		default:
			return 0, fmt.Errorf("invalid 'ms' type %T: %w", raw, ErrDelayNotConfigured)
		}
	}

	return 0, ErrDelayNotConfigured
}
