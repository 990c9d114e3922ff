package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

var (
	// ErrApprovalNotRequired indicates the definition does not gate on approval.
	ErrApprovalNotRequired = errors.New("definition does not require approval")

	// ErrApprovalTransition indicates the requested transition is not allowed
	// from the definition's current approval status.
	ErrApprovalTransition = errors.New("invalid approval transition")
)

// ApprovalGate enforces the human sign-off state machine on definitions that
// require approval: draft/rejected -> pending -> approved|rejected. Every
// transition is recorded as an immutable audit entry.
type ApprovalGate struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

// NewApprovalGate creates a new approval gate.
func NewApprovalGate(store persistence.Persistence, logger *slog.Logger) *ApprovalGate {
	return &ApprovalGate{
		persistence: store,
		logger:      logger.With("module", "approval_gate"),
		now:         time.Now,
	}
}

// Request moves a draft or rejected definition to pending review.
func (g *ApprovalGate) Request(ctx context.Context, definitionID, actor, notes string) (*models.WorkflowDefinition, error) {
	return g.transition(ctx, definitionID, actor, notes,
		models.ApprovalActionRequested,
		models.ApprovalStatusPending,
		models.ApprovalStatusDraft, models.ApprovalStatusRejected)
}

// Approve moves a pending definition to approved, unblocking trigger matching.
func (g *ApprovalGate) Approve(ctx context.Context, definitionID, actor, notes string) (*models.WorkflowDefinition, error) {
	return g.transition(ctx, definitionID, actor, notes,
		models.ApprovalActionApproved,
		models.ApprovalStatusApproved,
		models.ApprovalStatusPending)
}

// Reject moves a pending definition back to rejected. The author may edit and
// request approval again.
func (g *ApprovalGate) Reject(ctx context.Context, definitionID, actor, notes string) (*models.WorkflowDefinition, error) {
	return g.transition(ctx, definitionID, actor, notes,
		models.ApprovalActionRejected,
		models.ApprovalStatusRejected,
		models.ApprovalStatusPending)
}

// Entries returns the audit trail for a definition, oldest first.
func (g *ApprovalGate) Entries(ctx context.Context, definitionID string) ([]*models.ApprovalEntry, error) {
	if _, err := g.persistence.DefinitionByID(ctx, definitionID); err != nil {
		return nil, err
	}

	return g.persistence.ApprovalEntries(ctx, definitionID)
}

func (g *ApprovalGate) transition(
	ctx context.Context,
	definitionID, actor, notes string,
	action models.ApprovalAction,
	target models.ApprovalStatus,
	allowedFrom ...models.ApprovalStatus,
) (*models.WorkflowDefinition, error) {
	definition, err := g.persistence.DefinitionByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	if !definition.RequiresApproval {
		return nil, ErrApprovalNotRequired
	}

	allowed := false

	for _, from := range allowedFrom {
		if definition.ApprovalStatus == from {
			allowed = true

			break
		}
	}

	if !allowed {
		return nil, fmt.Errorf("%w: %s from %s", ErrApprovalTransition, action, definition.ApprovalStatus)
	}

	now := g.now()
	definition.ApprovalStatus = target
	definition.UpdatedAt = now

	if err := g.persistence.SaveDefinition(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition: %w", err)
	}

	entry := &models.ApprovalEntry{
		ID:           "appr-" + uuid.New().String()[:8],
		DefinitionID: definitionID,
		Action:       action,
		Actor:        actor,
		Notes:        notes,
		CreatedAt:    now,
	}

	if err := g.persistence.AppendApprovalEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append approval entry: %w", err)
	}

	g.logger.Info("Approval transition applied",
		"definition_id", definitionID,
		"action", action,
		"actor", actor,
		"status", target)

	return definition, nil
}
