// Package models defines the core domain models for CRM workflow automation.
package models

import (
	"errors"
	"time"
)

// DefinitionStatus represents the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft  DefinitionStatus = "draft"  // Editable, never triggered
	DefinitionStatusActive DefinitionStatus = "active" // Eligible for trigger matching
	DefinitionStatusPaused DefinitionStatus = "paused" // Temporarily not triggered
)

// TriggerKind discriminates the trigger tagged union.
type TriggerKind string

const (
	TriggerKindEvent    TriggerKind = "event"
	TriggerKindSchedule TriggerKind = "schedule"
)

// Trigger specifies what causes a definition to spawn runs: a domain
// event type or a cron schedule.
type Trigger struct {
	Kind      TriggerKind `json:"kind"                 validate:"required,oneof=event schedule"`
	EventType string      `json:"event_type,omitempty"` // set when Kind == event
	Cron      string      `json:"cron,omitempty"`       // set when Kind == schedule
}

var (
	ErrTriggerEventTypeRequired = errors.New("event trigger requires an event_type")
	ErrTriggerCronRequired      = errors.New("schedule trigger requires a cron expression")
	ErrTriggerKindUnknown       = errors.New("unknown trigger kind")
)

// Validate checks the trigger union is internally consistent.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerKindEvent:
		if t.EventType == "" {
			return ErrTriggerEventTypeRequired
		}
	case TriggerKindSchedule:
		if t.Cron == "" {
			return ErrTriggerCronRequired
		}

		return ValidateCron(t.Cron)
	default:
		return ErrTriggerKindUnknown
	}

	return nil
}

// WorkflowDefinition is an authored automation: a trigger plus a node graph.
// Owned by an organization, mutated by the authoring UI and the approval gate.
type WorkflowDefinition struct {
	ID               string           `json:"id"`
	OrgID            string           `json:"org_id"`
	Name             string           `json:"name"        validate:"required,min=3"`
	Description      string           `json:"description"`
	Status           DefinitionStatus `json:"status"      validate:"required"`
	Trigger          Trigger          `json:"trigger"`
	Graph            Graph            `json:"graph"`
	RequiresApproval bool             `json:"requires_approval"`
	ApprovalStatus   ApprovalStatus   `json:"approval_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty"`
}

// Runnable reports whether the trigger matcher may select this definition:
// it must be active and, when approval is required, approved.
func (d *WorkflowDefinition) Runnable() bool {
	if d.Status != DefinitionStatusActive {
		return false
	}

	if d.RequiresApproval && d.ApprovalStatus != ApprovalStatusApproved {
		return false
	}

	return true
}
