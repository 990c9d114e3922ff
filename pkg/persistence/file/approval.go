package file

import (
	"context"
	"errors"
	"os"

	"github.com/relaycrm/relay/pkg/models"
	"github.com/relaycrm/relay/pkg/persistence"
)

// Approval entries are stored as one append-only list per definition.

// AppendApprovalEntry adds an immutable audit record for a definition.
func (p *Persistence) AppendApprovalEntry(_ context.Context, entry *models.ApprovalEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := p.approvalEntries(entry.DefinitionID)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	if err := p.writeJSON(approvalsDir, entry.DefinitionID, entries); err != nil {
		return persistence.NewStoreError("AppendApprovalEntry", entry.DefinitionID, err)
	}

	return nil
}

// ApprovalEntries returns the audit log for a definition in append order.
func (p *Persistence) ApprovalEntries(_ context.Context, definitionID string) ([]*models.ApprovalEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.approvalEntries(definitionID)
}

func (p *Persistence) approvalEntries(definitionID string) ([]*models.ApprovalEntry, error) {
	var entries []*models.ApprovalEntry

	err := p.readJSON(approvalsDir, definitionID, &entries)
	if errors.Is(err, os.ErrNotExist) {
		return []*models.ApprovalEntry{}, nil
	}

	if err != nil {
		return nil, persistence.NewStoreError("ApprovalEntries", definitionID, err)
	}

	return entries, nil
}
