package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

// SaveRun writes a run record, cursor included.
func (p *Persistence) SaveRun(_ context.Context, run *models.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.saveRun(run)
}

func (p *Persistence) saveRun(run *models.Run) error {
	if err := p.writeJSON(runsDir, run.ID, run); err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

// RunByID returns a single run.
func (p *Persistence) RunByID(_ context.Context, id string) (*models.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.runByID(id)
}

func (p *Persistence) runByID(id string) (*models.Run, error) {
	var run models.Run

	err := p.readJSON(runsDir, id, &run)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("RunByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("RunByID", id, err)
	}

	return &run, nil
}

// Runs returns runs, optionally filtered to one definition, newest first.
func (p *Persistence) Runs(_ context.Context, definitionID string) ([]*models.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids, err := p.listIDs(runsDir)
	if err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0, len(ids))

	for _, id := range ids {
		run, err := p.runByID(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", id, err)
		}

		if definitionID != "" && run.DefinitionID != definitionID {
			continue
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// SuspendRun writes the waiting run and its pending delay under one lock so
// the pair is never observed half-written.
func (p *Persistence) SuspendRun(_ context.Context, run *models.Run, delay *models.PendingDelay) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.saveRun(run); err != nil {
		return err
	}

	if err := p.writeJSON(delaysDir, delay.ID, delay); err != nil {
		return persistence.NewStoreError("SuspendRun", run.ID, err)
	}

	return nil
}

// ClaimDueDelays removes every due delay while holding the store lock, then
// returns the affected runs. A concurrent caller sees only the delays that
// are still present, so each entry resumes at most once.
func (p *Persistence) ClaimDueDelays(_ context.Context, now time.Time) ([]models.DueResume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids, err := p.listIDs(delaysDir)
	if err != nil {
		return nil, err
	}

	var due []models.DueResume

	for _, id := range ids {
		var delay models.PendingDelay
		if err := p.readJSON(delaysDir, id, &delay); err != nil {
			return nil, persistence.NewStoreError("ClaimDueDelays", id, err)
		}

		if delay.WakeAt.After(now) {
			continue
		}

		if err := p.removeJSON(delaysDir, id); err != nil {
			return nil, persistence.NewStoreError("ClaimDueDelays", id, err)
		}

		run, err := p.runByID(delay.RunID)
		if err != nil {
			return nil, err
		}

		due = append(due, models.DueResume{Run: run, NodeID: delay.NodeID})
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].Run.ID < due[j].Run.ID
	})

	return due, nil
}

// ClearPendingDelay drops any delay rows owned by the run.
func (p *Persistence) ClearPendingDelay(_ context.Context, runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids, err := p.listIDs(delaysDir)
	if err != nil {
		return err
	}

	for _, id := range ids {
		var delay models.PendingDelay
		if err := p.readJSON(delaysDir, id, &delay); err != nil {
			return persistence.NewStoreError("ClearPendingDelay", id, err)
		}

		if delay.RunID != runID {
			continue
		}

		if err := p.removeJSON(delaysDir, id); err != nil {
			return persistence.NewStoreError("ClearPendingDelay", id, err)
		}
	}

	return nil
}
