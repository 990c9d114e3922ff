// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/relaycrm/relay/pkg/models"

// CreateDefinitionRequest is the request body for creating a definition.
type CreateDefinitionRequest struct {
	Name             string         `json:"name"        validate:"required,min=3"`
	Description      string         `json:"description"`
	OrgID            string         `json:"org_id"      validate:"required"`
	Trigger          models.Trigger `json:"trigger"`
	Graph            models.Graph   `json:"graph"`
	RequiresApproval bool           `json:"requires_approval"`
}

// UpdateDefinitionRequest is the request body for partially updating a
// definition. Nil fields are left unchanged.
type UpdateDefinitionRequest struct {
	Name        *string         `json:"name,omitempty" validate:"omitempty,min=3"`
	Description *string         `json:"description,omitempty"`
	Trigger     *models.Trigger `json:"trigger,omitempty"`
	Graph       *models.Graph   `json:"graph,omitempty"`
}

// NotifyEventRequest is the request body for POST /events: a CRM record
// change reported by a collaborator system.
type NotifyEventRequest struct {
	EventType   string         `json:"event_type"   validate:"required"`
	SubjectID   string         `json:"subject_id"   validate:"required"`
	SubjectType string         `json:"subject_type" validate:"required"`
	Old         map[string]any `json:"old,omitempty"`
	New         map[string]any `json:"new,omitempty"`
}

// NotifyEventResponse reports how many runs the event spawned.
type NotifyEventResponse struct {
	RunsStarted int `json:"runs_started"`
}

// ApprovalRequest is the request body for an approval transition.
type ApprovalRequest struct {
	Actor string `json:"actor" validate:"required"`
	Notes string `json:"notes,omitempty"`
}
