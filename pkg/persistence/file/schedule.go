package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

// Schedule entries are keyed by definition id: one cron entry per definition.

// Schedules returns all schedule entries.
func (p *Persistence) Schedules(_ context.Context) ([]*models.Schedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.schedules()
}

func (p *Persistence) schedules() ([]*models.Schedule, error) {
	ids, err := p.listIDs(schedulesDir)
	if err != nil {
		return nil, err
	}

	schedules := make([]*models.Schedule, 0, len(ids))

	for _, id := range ids {
		var schedule models.Schedule
		if err := p.readJSON(schedulesDir, id, &schedule); err != nil {
			return nil, fmt.Errorf("failed to load schedule %s: %w", id, err)
		}

		schedules = append(schedules, &schedule)
	}

	return schedules, nil
}

// ScheduleByDefinition returns the schedule entry for a definition.
func (p *Persistence) ScheduleByDefinition(_ context.Context, definitionID string) (*models.Schedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var schedule models.Schedule

	err := p.readJSON(schedulesDir, definitionID, &schedule)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("ScheduleByDefinition", definitionID, persistence.ErrScheduleNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("ScheduleByDefinition", definitionID, err)
	}

	return &schedule, nil
}

// SaveSchedule writes a schedule entry.
func (p *Persistence) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeJSON(schedulesDir, schedule.DefinitionID, schedule); err != nil {
		return persistence.NewStoreError("SaveSchedule", schedule.DefinitionID, err)
	}

	return nil
}

// DeleteScheduleByDefinition removes the schedule entry for a definition.
func (p *Persistence) DeleteScheduleByDefinition(_ context.Context, definitionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.removeJSON(schedulesDir, definitionID); err != nil {
		return persistence.NewStoreError("DeleteScheduleByDefinition", definitionID, err)
	}

	return nil
}

// DueSchedules returns active schedule entries due at or before the given time.
func (p *Persistence) DueSchedules(_ context.Context, before time.Time) ([]*models.Schedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all, err := p.schedules()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Schedule, 0)

	for _, schedule := range all {
		if schedule.IsDue(before) {
			due = append(due, schedule)
		}
	}

	return due, nil
}
