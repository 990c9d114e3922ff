package models

import "time"

// ApprovalStatus is the human-approval state overlaid on a definition.
type ApprovalStatus string

const (
	ApprovalStatusDraft    ApprovalStatus = "draft"
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApprovalAction names the transition recorded by an audit entry.
type ApprovalAction string

const (
	ApprovalActionRequested ApprovalAction = "requested"
	ApprovalActionApproved  ApprovalAction = "approved"
	ApprovalActionRejected  ApprovalAction = "rejected"
)

// ApprovalEntry is an immutable audit record of an approval transition.
type ApprovalEntry struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Action       ApprovalAction `json:"action"`
	Actor        string         `json:"actor" validate:"required"`
	Notes        string         `json:"notes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
