package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

const scheduleColumns = `
	id
  , definition_id
  , cron_expression
  , next_due_at
  , active
  , created_at
  , updated_at
`

// Schedules returns all schedule entries.
func (p *Persistence) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	return p.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules`)
}

// ScheduleByDefinition returns the schedule entry for a definition.
func (p *Persistence) ScheduleByDefinition(ctx context.Context, definitionID string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE definition_id = $1`

	schedule, err := scanSchedule(p.db.QueryRowContext(ctx, query, definitionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("ScheduleByDefinition", definitionID, persistence.ErrScheduleNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("ScheduleByDefinition", definitionID, err)
	}

	return schedule, nil
}

// SaveSchedule inserts or updates a schedule entry.
func (p *Persistence) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	query := `
		INSERT INTO schedules (
			definition_id, id, cron_expression, next_due_at, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (definition_id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			next_due_at = EXCLUDED.next_due_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query,
		schedule.DefinitionID,
		schedule.ID,
		schedule.CronExpression,
		schedule.NextDueAt,
		schedule.Active,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveSchedule", schedule.DefinitionID, err)
	}

	return nil
}

// DeleteScheduleByDefinition removes the schedule entry for a definition.
func (p *Persistence) DeleteScheduleByDefinition(ctx context.Context, definitionID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM schedules WHERE definition_id = $1", definitionID)
	if err != nil {
		return persistence.NewStoreError("DeleteScheduleByDefinition", definitionID, err)
	}

	return nil
}

// DueSchedules returns active schedule entries due at or before the given time.
func (p *Persistence) DueSchedules(ctx context.Context, before time.Time) ([]*models.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE active AND next_due_at <= $1
		ORDER BY next_due_at
	`

	return p.querySchedules(ctx, query, before)
}

func (p *Persistence) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var schedule models.Schedule

	err := row.Scan(
		&schedule.ID,
		&schedule.DefinitionID,
		&schedule.CronExpression,
		&schedule.NextDueAt,
		&schedule.Active,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &schedule, nil
}
