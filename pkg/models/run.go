package models

import "time"

// RunStatus defines the possible states of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // Actively executing nodes
	RunStatusWaiting   RunStatus = "waiting"   // Suspended on a delay, has a PendingDelay
	RunStatusSuccess   RunStatus = "success"   // Reached a terminal node
	RunStatusFailed    RunStatus = "failed"    // Evaluator or dispatcher error, see LastError
	RunStatusCancelled RunStatus = "cancelled" // Explicitly cancelled
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one execution of a workflow definition for a single triggering
// event. CurrentNodeID is the cursor: the node the runner will process next.
type Run struct {
	ID            string         `json:"id"`
	DefinitionID  string         `json:"definition_id"`
	Status        RunStatus      `json:"status"`
	CurrentNodeID string         `json:"current_node_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// PendingDelay is the durable marker of a suspended run: which delay node it
// is parked at and when it should resume. Consumed exactly once on resume.
type PendingDelay struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	WakeAt    time.Time `json:"wake_at"`
	CreatedAt time.Time `json:"created_at"`
}

// DueResume pairs a claimed pending delay with its run. The claim already
// removed the delay row, so each DueResume is handed out at most once.
type DueResume struct {
	Run    *Run
	NodeID string
}
