// Package file provides file-based persistence for local development and
// tests. Records are stored as JSON documents under a root directory; a
// single mutex serializes mutations so delay claiming stays atomic.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relaycrm/relay/pkg/persistence"
)

const (
	definitionsDir = "definitions"
	runsDir        = "runs"
	delaysDir      = "delays"
	schedulesDir   = "schedules"
	approvalsDir   = "approvals"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a file-backed persistence layer rooted at the given
// directory. Accepts a plain path or a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. Nothing to release for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("failed to ensure persistence root %s: %w", p.root, err)
	}

	return nil
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q contains invalid characters", id)
	}

	return nil
}

func (p *Persistence) writeJSON(dir, id string, value any) error {
	if err := validateID(id); err != nil {
		return err
	}

	target := filepath.Join(p.root, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", target, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	path := filepath.Join(target, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// readJSON loads one record; returns os.ErrNotExist when absent.
func (p *Persistence) readJSON(dir, id string, out any) error {
	if err := validateID(id); err != nil {
		return err
	}

	path := filepath.Join(p.root, dir, id+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

func (p *Persistence) removeJSON(dir, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(p.root, dir, id+".json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s/%s: %w", dir, id, err)
	}

	return nil
}

// listIDs returns the record ids present in a directory.
func (p *Persistence) listIDs(dir string) ([]string, error) {
	root := os.DirFS(filepath.Join(p.root, dir))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, strings.TrimSuffix(f, ".json"))
	}

	return ids, nil
}

var _ persistence.Persistence = (*Persistence)(nil)
