package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

const runColumns = `
	id
  , definition_id
  , status
  , current_node_id
  , context
  , started_at
  , finished_at
  , last_error
`

// SaveRun inserts or updates a run record.
func (p *Persistence) SaveRun(ctx context.Context, run *models.Run) error {
	return p.saveRun(ctx, p.db, run)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Persistence) saveRun(ctx context.Context, db execer, run *models.Run) error {
	runContext, err := json.Marshal(run.Context)
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	query := `
		INSERT INTO runs (
			id, definition_id, status, current_node_id, context,
			started_at, finished_at, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_node_id = EXCLUDED.current_node_id,
			context = EXCLUDED.context,
			finished_at = EXCLUDED.finished_at,
			last_error = EXCLUDED.last_error
	`

	_, err = db.ExecContext(ctx, query,
		run.ID,
		run.DefinitionID,
		string(run.Status),
		nullable(run.CurrentNodeID),
		runContext,
		run.StartedAt,
		run.FinishedAt,
		nullable(run.LastError),
	)
	if err != nil {
		return persistence.NewStoreError("SaveRun", run.ID, err)
	}

	return nil
}

// RunByID returns a single run.
func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("RunByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("RunByID", id, err)
	}

	return run, nil
}

// Runs returns runs, optionally filtered to one definition, newest first.
func (p *Persistence) Runs(ctx context.Context, definitionID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`

	var args []any

	if definitionID != "" {
		query += " WHERE definition_id = $1"

		args = append(args, definitionID)
	}

	query += " ORDER BY started_at DESC"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// SuspendRun writes the waiting run and its pending delay in one transaction.
func (p *Persistence) SuspendRun(ctx context.Context, run *models.Run, delay *models.PendingDelay) error {
	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStoreError("SuspendRun", run.ID, err)
	}

	if err := p.saveRun(ctx, transaction, run); err != nil {
		_ = transaction.Rollback()

		return err
	}

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO pending_delays (id, run_id, node_id, wake_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, delay.ID, delay.RunID, delay.NodeID, delay.WakeAt, delay.CreatedAt)
	if err != nil {
		_ = transaction.Rollback()

		return persistence.NewStoreError("SuspendRun", run.ID, err)
	}

	if err := transaction.Commit(); err != nil {
		return persistence.NewStoreError("SuspendRun", run.ID, err)
	}

	return nil
}

// ClaimDueDelays deletes every due delay row and returns the affected runs.
// DELETE ... RETURNING makes the claim atomic: two schedulers racing on the
// same window split the rows, neither sees a row twice.
func (p *Persistence) ClaimDueDelays(ctx context.Context, now time.Time) ([]models.DueResume, error) {
	rows, err := p.db.QueryContext(ctx, `
		DELETE FROM pending_delays
		WHERE wake_at <= $1
		RETURNING run_id, node_id
	`, now)
	if err != nil {
		return nil, persistence.NewStoreError("ClaimDueDelays", "", err)
	}

	type claimed struct {
		runID  string
		nodeID string
	}

	var claims []claimed

	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.runID, &c.nodeID); err != nil {
			_ = rows.Close()

			return nil, persistence.NewStoreError("ClaimDueDelays", "", err)
		}

		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		_ = rows.Close()

		return nil, persistence.NewStoreError("ClaimDueDelays", "", err)
	}

	if err := rows.Close(); err != nil {
		return nil, persistence.NewStoreError("ClaimDueDelays", "", err)
	}

	due := make([]models.DueResume, 0, len(claims))

	for _, c := range claims {
		run, err := p.RunByID(ctx, c.runID)
		if err != nil {
			return nil, err
		}

		due = append(due, models.DueResume{Run: run, NodeID: c.nodeID})
	}

	return due, nil
}

// ClearPendingDelay drops any delay rows owned by the run.
func (p *Persistence) ClearPendingDelay(ctx context.Context, runID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM pending_delays WHERE run_id = $1", runID)
	if err != nil {
		return persistence.NewStoreError("ClearPendingDelay", runID, err)
	}

	return nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run           models.Run
		currentNodeID sql.NullString
		lastError     sql.NullString
		runContext    []byte
	)

	err := row.Scan(
		&run.ID,
		&run.DefinitionID,
		&run.Status,
		&currentNodeID,
		&runContext,
		&run.StartedAt,
		&run.FinishedAt,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	run.CurrentNodeID = currentNodeID.String
	run.LastError = lastError.String

	if err := json.Unmarshal(runContext, &run.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
	}

	return &run, nil
}
