package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
	"github.com/relaycrm/relay/pkg/registry"
)

// Definition implements authoring and lifecycle operations on workflow
// definitions. Draft definitions may hold any graph; activation is the
// validation boundary.
type Definition struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	logger      *slog.Logger
	now         func() time.Time
}

// NewDefinition creates the definition service.
func NewDefinition(store persistence.Persistence, reg *registry.Registry, logger *slog.Logger) *Definition {
	return &Definition{
		persistence: store,
		registry:    reg,
		logger:      logger.With("module", "definition_service"),
		now:         time.Now,
	}
}

// CreateDefinitionRequest carries the authoring payload for a new definition.
type CreateDefinitionRequest struct {
	OrgID            string
	Name             string
	Description      string
	Trigger          models.Trigger
	Graph            models.Graph
	RequiresApproval bool
}

// Create stores a new draft definition. The graph is not validated yet; a
// draft may be saved in any intermediate authoring state.
func (s *Definition) Create(ctx context.Context, req CreateDefinitionRequest) (*models.WorkflowDefinition, error) {
	if req.Name == "" {
		return nil, ErrNameRequired
	}

	now := s.now().UTC()
	definition := &models.WorkflowDefinition{
		ID:               "wf-" + uuid.New().String()[:8],
		OrgID:            req.OrgID,
		Name:             req.Name,
		Description:      req.Description,
		Status:           models.DefinitionStatusDraft,
		Trigger:          req.Trigger,
		Graph:            req.Graph,
		RequiresApproval: req.RequiresApproval,
		ApprovalStatus:   models.ApprovalStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	s.logger.InfoContext(ctx, "Definition created",
		"definition_id", definition.ID,
		"name", definition.Name)

	return definition, nil
}

// UpdateDefinitionRequest carries a partial update. Nil fields are unchanged.
type UpdateDefinitionRequest struct {
	Name        *string
	Description *string
	Trigger     *models.Trigger
	Graph       *models.Graph
}

// Update applies a partial update and returns the stored definition. Editing
// an approved definition voids its approval; it must be re-approved before it
// runs again.
func (s *Definition) Update(ctx context.Context, id string, req UpdateDefinitionRequest) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.DefinitionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, ErrNameRequired
		}

		definition.Name = *req.Name
	}

	if req.Description != nil {
		definition.Description = *req.Description
	}

	if req.Trigger != nil {
		definition.Trigger = *req.Trigger
	}

	if req.Graph != nil {
		definition.Graph = *req.Graph
	}

	if definition.RequiresApproval &&
		definition.ApprovalStatus == models.ApprovalStatusApproved &&
		(req.Trigger != nil || req.Graph != nil) {
		definition.ApprovalStatus = models.ApprovalStatusDraft
	}

	definition.UpdatedAt = s.now().UTC()

	if err := s.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return definition, nil
}

// List returns all non-deleted definitions.
func (s *Definition) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return s.persistence.Definitions(ctx)
}

// Get returns a definition by id.
func (s *Definition) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.persistence.DefinitionByID(ctx, id)
}

// Activate validates the definition and marks it active. A definition that
// fails validation never activates; existing runs are unaffected either way.
func (s *Definition) Activate(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.DefinitionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.validate(definition); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotActivatable, err)
	}

	definition.Status = models.DefinitionStatusActive
	definition.UpdatedAt = s.now().UTC()

	if err := s.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	s.logger.InfoContext(ctx, "Definition activated", "definition_id", id)

	return definition, nil
}

// Pause stops an active definition from matching triggers. In-flight and
// suspended runs keep executing.
func (s *Definition) Pause(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.DefinitionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.Status = models.DefinitionStatusPaused
	definition.UpdatedAt = s.now().UTC()

	if err := s.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	return definition, nil
}

// Delete soft-deletes a definition and drops its schedule entry.
func (s *Definition) Delete(ctx context.Context, id string) error {
	if err := s.persistence.DeleteDefinition(ctx, id); err != nil {
		return err
	}

	if err := s.persistence.DeleteScheduleByDefinition(ctx, id); err != nil &&
		!persistence.IsScheduleNotFound(err) {
		return err
	}

	s.logger.InfoContext(ctx, "Definition deleted", "definition_id", id)

	return nil
}

// validate checks everything activation requires: a consistent trigger, a
// structurally valid graph, registered action names and parseable delays.
func (s *Definition) validate(definition *models.WorkflowDefinition) error {
	if err := definition.Trigger.Validate(); err != nil {
		return err
	}

	if len(definition.Graph.Nodes) == 0 {
		return ErrGraphRequired
	}

	if err := definition.Graph.Validate(); err != nil {
		return err
	}

	registered := make(map[string]bool)
	for _, id := range s.registry.ActionIDs() {
		registered[id] = true
	}

	for _, node := range definition.Graph.Nodes {
		switch node.Type {
		case models.NodeTypeAction:
			if !registered[node.Name] {
				return fmt.Errorf("%w: %q at node %s", ErrUnknownAction, node.Name, node.ID)
			}
		case models.NodeTypeCondition:
			if node.Expression() == "" {
				return fmt.Errorf("%w: node %s", ErrConditionExpression, node.ID)
			}
		case models.NodeTypeDelay:
			if _, err := node.DelayDuration(); err != nil {
				return fmt.Errorf("node %s: %w", node.ID, err)
			}
		}
	}

	return nil
}
