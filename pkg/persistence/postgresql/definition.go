package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

const definitionColumns = `
	id
  , org_id
  , name
  , description
  , status
  , trigger_kind
  , trigger_event_type
  , trigger_cron
  , graph
  , requires_approval
  , approval_status
  , created_at
  , updated_at
  , deleted_at
`

// Definitions returns all non-deleted workflow definitions.
func (p *Persistence) Definitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

// DefinitionByID returns a single workflow definition.
func (p *Persistence) DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE id = $1 AND deleted_at IS NULL
	`

	definition, err := scanDefinition(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("DefinitionByID", id, err)
	}

	return definition, nil
}

// SaveDefinition inserts or updates a workflow definition.
func (p *Persistence) SaveDefinition(ctx context.Context, definition *models.WorkflowDefinition) error {
	graph, err := json.Marshal(definition.Graph)
	if err != nil {
		return persistence.NewStoreError("SaveDefinition", definition.ID, err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, org_id, name, description, status,
			trigger_kind, trigger_event_type, trigger_cron, graph,
			requires_approval, approval_status, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_kind = EXCLUDED.trigger_kind,
			trigger_event_type = EXCLUDED.trigger_event_type,
			trigger_cron = EXCLUDED.trigger_cron,
			graph = EXCLUDED.graph,
			requires_approval = EXCLUDED.requires_approval,
			approval_status = EXCLUDED.approval_status,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = p.db.ExecContext(ctx, query,
		definition.ID,
		definition.OrgID,
		definition.Name,
		definition.Description,
		string(definition.Status),
		string(definition.Trigger.Kind),
		nullable(definition.Trigger.EventType),
		nullable(definition.Trigger.Cron),
		graph,
		definition.RequiresApproval,
		string(definition.ApprovalStatus),
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.DeletedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveDefinition", definition.ID, err)
	}

	return nil
}

// DeleteDefinition soft deletes a definition.
func (p *Persistence) DeleteDefinition(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET deleted_at = NOW() WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("DeleteDefinition", id, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition models.WorkflowDefinition
		eventType  sql.NullString
		cronExpr   sql.NullString
		graph      []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.OrgID,
		&definition.Name,
		&definition.Description,
		&definition.Status,
		&definition.Trigger.Kind,
		&eventType,
		&cronExpr,
		&graph,
		&definition.RequiresApproval,
		&definition.ApprovalStatus,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&definition.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	definition.Trigger.EventType = eventType.String
	definition.Trigger.Cron = cronExpr.String

	if err := json.Unmarshal(graph, &definition.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}

	return &definition, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
