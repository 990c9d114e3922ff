package file

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

// Definitions returns all workflow definitions.
func (p *Persistence) Definitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids, err := p.listIDs(definitionsDir)
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		var definition models.WorkflowDefinition
		if err := p.readJSON(definitionsDir, id, &definition); err != nil {
			return nil, fmt.Errorf("failed to load definition %s: %w", id, err)
		}

		if definition.DeletedAt != nil {
			continue
		}

		definitions = append(definitions, &definition)
	}

	return definitions, nil
}

// DefinitionByID returns a single workflow definition.
func (p *Persistence) DefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.definitionByID(id)
}

func (p *Persistence) definitionByID(id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	err := p.readJSON(definitionsDir, id, &definition)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewStoreError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("DefinitionByID", id, err)
	}

	if definition.DeletedAt != nil {
		return nil, persistence.NewStoreError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
	}

	return &definition, nil
}

// SaveDefinition writes a workflow definition.
func (p *Persistence) SaveDefinition(_ context.Context, definition *models.WorkflowDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeJSON(definitionsDir, definition.ID, definition); err != nil {
		return persistence.NewStoreError("SaveDefinition", definition.ID, err)
	}

	return nil
}

// DeleteDefinition removes a definition record.
func (p *Persistence) DeleteDefinition(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.removeJSON(definitionsDir, id); err != nil {
		return persistence.NewStoreError("DeleteDefinition", id, err)
	}

	return nil
}
