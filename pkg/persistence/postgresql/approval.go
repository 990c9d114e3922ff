package postgresql

import (
	"context"
	"fmt"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

// AppendApprovalEntry inserts an immutable audit record.
func (p *Persistence) AppendApprovalEntry(ctx context.Context, entry *models.ApprovalEntry) error {
	query := `
		INSERT INTO approval_entries (id, definition_id, action, actor, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := p.db.ExecContext(ctx, query,
		entry.ID,
		entry.DefinitionID,
		string(entry.Action),
		entry.Actor,
		entry.Notes,
		entry.CreatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("AppendApprovalEntry", entry.DefinitionID, err)
	}

	return nil
}

// ApprovalEntries returns the audit log for a definition in append order.
func (p *Persistence) ApprovalEntries(ctx context.Context, definitionID string) ([]*models.ApprovalEntry, error) {
	query := `
		SELECT id, definition_id, action, actor, notes, created_at
		FROM approval_entries
		WHERE definition_id = $1
		ORDER BY created_at
	`

	rows, err := p.db.QueryContext(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval entries: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.ApprovalEntry, 0)

	for rows.Next() {
		var entry models.ApprovalEntry

		err := rows.Scan(
			&entry.ID,
			&entry.DefinitionID,
			&entry.Action,
			&entry.Actor,
			&entry.Notes,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval entries: %w", err)
	}

	return entries, nil
}
