// Package persistence provides the data storage abstraction for workflow
// definitions, runs, pending delays, schedules and approval audit entries.
package persistence

import (
	"context"
	"time"

	"github.com/relaycrm/relay/pkg/models"
)

type Persistence interface {
	// Definitions
	Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error
	DeleteDefinition(ctx context.Context, id string) error

	// Runs. SaveRun persists the whole record, cursor included; SuspendRun
	// writes the waiting run and its PendingDelay atomically.
	SaveRun(ctx context.Context, run *models.Run) error
	RunByID(ctx context.Context, id string) (*models.Run, error)
	Runs(ctx context.Context, definitionID string) ([]*models.Run, error)
	SuspendRun(ctx context.Context, run *models.Run, delay *models.PendingDelay) error

	// ClaimDueDelays removes and returns every pending delay with
	// wake_at <= now, paired with its run. Removal happens as part of the
	// same operation that returns the entries, so concurrent callers racing
	// on overlapping windows each resume a given delay at most once.
	ClaimDueDelays(ctx context.Context, now time.Time) ([]models.DueResume, error)

	// ClearPendingDelay drops any pending delay owned by the run. Used by
	// terminal transitions and cancellation.
	ClearPendingDelay(ctx context.Context, runID string) error

	// Schedules
	Schedules(ctx context.Context) ([]*models.Schedule, error)
	ScheduleByDefinition(ctx context.Context, definitionID string) (*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	DeleteScheduleByDefinition(ctx context.Context, definitionID string) error
	DueSchedules(ctx context.Context, before time.Time) ([]*models.Schedule, error)

	// Approval audit log
	AppendApprovalEntry(ctx context.Context, entry *models.ApprovalEntry) error
	ApprovalEntries(ctx context.Context, definitionID string) ([]*models.ApprovalEntry, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
