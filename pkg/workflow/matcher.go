package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

// TriggerMatcher maps incoming domain events and cron ticks to the workflow
// definitions they should spawn runs for. Matching is independent per
// definition; each match spawns its own run.
type TriggerMatcher struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewTriggerMatcher creates a new trigger matcher.
func NewTriggerMatcher(store persistence.Persistence, logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		persistence: store,
		logger:      logger.With("module", "trigger_matcher"),
	}
}

// MatchEvent returns every active, approval-satisfied definition whose event
// trigger matches the incoming event type.
func (tm *TriggerMatcher) MatchEvent(ctx context.Context, eventType string) ([]*models.WorkflowDefinition, error) {
	definitions, err := tm.persistence.Definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	var matches []*models.WorkflowDefinition

	for _, definition := range definitions {
		if !definition.Runnable() {
			continue
		}

		if definition.Trigger.Kind != models.TriggerKindEvent {
			continue
		}

		if definition.Trigger.EventType != eventType {
			continue
		}

		matches = append(matches, definition)
	}

	tm.logger.Debug("Matched event against definitions",
		"event_type", eventType,
		"matches", len(matches))

	return matches, nil
}

// MatchSchedule returns every definition whose cron schedule is due at now.
// Each due schedule entry is advanced before it is reported, so a definition
// fires once per due window even across repeated ticks.
func (tm *TriggerMatcher) MatchSchedule(ctx context.Context, now time.Time) ([]*models.WorkflowDefinition, error) {
	due, err := tm.persistence.DueSchedules(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	var matches []*models.WorkflowDefinition

	for _, schedule := range due {
		if err := schedule.Advance(now); err != nil {
			tm.logger.Error("Failed to advance schedule",
				"definition_id", schedule.DefinitionID,
				"cron", schedule.CronExpression,
				"error", err)

			continue
		}

		if err := tm.persistence.SaveSchedule(ctx, schedule); err != nil {
			tm.logger.Error("Failed to save advanced schedule",
				"definition_id", schedule.DefinitionID,
				"error", err)

			continue
		}

		definition, err := tm.persistence.DefinitionByID(ctx, schedule.DefinitionID)
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				// Definition is gone, drop the orphaned entry.
				_ = tm.persistence.DeleteScheduleByDefinition(ctx, schedule.DefinitionID)

				continue
			}

			return nil, err
		}

		if !definition.Runnable() || definition.Trigger.Kind != models.TriggerKindSchedule {
			continue
		}

		matches = append(matches, definition)
	}

	return matches, nil
}

// SyncSchedules reconciles schedule entries with the current set of active
// cron-triggered definitions: creates missing entries, refreshes changed cron
// expressions and prunes entries whose definition no longer qualifies.
func (tm *TriggerMatcher) SyncSchedules(ctx context.Context, now time.Time) error {
	definitions, err := tm.persistence.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}

	scheduled := make(map[string]*models.WorkflowDefinition)

	for _, definition := range definitions {
		if definition.Trigger.Kind != models.TriggerKindSchedule || !definition.Runnable() {
			continue
		}

		scheduled[definition.ID] = definition

		existing, err := tm.persistence.ScheduleByDefinition(ctx, definition.ID)
		if err != nil && !persistence.IsScheduleNotFound(err) {
			return err
		}

		if existing == nil || persistence.IsScheduleNotFound(err) {
			schedule, err := models.NewSchedule(
				"sched-"+uuid.New().String()[:8],
				definition.ID,
				definition.Trigger.Cron,
				now,
			)
			if err != nil {
				tm.logger.Error("Failed to create schedule",
					"definition_id", definition.ID,
					"cron", definition.Trigger.Cron,
					"error", err)

				continue
			}

			if err := tm.persistence.SaveSchedule(ctx, schedule); err != nil {
				return err
			}

			tm.logger.Info("Created schedule",
				"definition_id", definition.ID,
				"cron", definition.Trigger.Cron,
				"next_due_at", schedule.NextDueAt)

			continue
		}

		if existing.CronExpression != definition.Trigger.Cron {
			existing.CronExpression = definition.Trigger.Cron
			if err := existing.Advance(now); err != nil {
				tm.logger.Error("Failed to advance updated schedule",
					"definition_id", definition.ID,
					"error", err)

				continue
			}

			if err := tm.persistence.SaveSchedule(ctx, existing); err != nil {
				return err
			}
		}
	}

	entries, err := tm.persistence.Schedules(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if _, ok := scheduled[entry.DefinitionID]; !ok {
			if err := tm.persistence.DeleteScheduleByDefinition(ctx, entry.DefinitionID); err != nil {
				return err
			}

			tm.logger.Info("Pruned schedule", "definition_id", entry.DefinitionID)
		}
	}

	return nil
}
