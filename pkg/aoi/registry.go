package aoi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry provides a read-only snapshot of the AOI list.
//
// The registry is owned externally (the city database behind the operator
// UI). Implementations must return a self-contained copy: the engine assumes
// the snapshot does not change for the duration of a run.
type Registry interface {
	// Snapshot returns every AOI configured for syncing.
	Snapshot(ctx context.Context) ([]AOI, error)
}

// FileRegistry reads AOIs from a JSON or YAML file on disk.
//
// The file format is determined by extension: .yaml/.yml for YAML, anything
// else is parsed as JSON (the original registry export is cities.json).
type FileRegistry struct {
	path string
}

// NewFileRegistry creates a registry backed by the given file path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: strings.TrimSpace(path)}
}

// Snapshot reads and validates the full AOI list.
//
// Every AOI must pass Validate; a single malformed entry fails the snapshot
// so a run never starts with a partially usable registry.
func (r *FileRegistry) Snapshot(ctx context.Context) ([]AOI, error) {
	if r.path == "" {
		return nil, fmt.Errorf("aoi registry path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("aoi registry file not found: %s", r.path)
		}
		return nil, fmt.Errorf("read aoi registry: %w", err)
	}

	var aois []AOI
	switch strings.ToLower(filepath.Ext(r.path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &aois); err != nil {
			return nil, fmt.Errorf("parse aoi registry %s: %w", r.path, err)
		}
	default:
		if err := json.Unmarshal(data, &aois); err != nil {
			return nil, fmt.Errorf("parse aoi registry %s: %w", r.path, err)
		}
	}

	for i := range aois {
		if err := aois[i].Validate(); err != nil {
			return nil, fmt.Errorf("aoi registry %s entry %d: %w", r.path, i, err)
		}
	}

	return aois, nil
}

// StaticRegistry wraps an in-memory AOI list. Used by tests and callers that
// already hold a snapshot.
type StaticRegistry []AOI

// Snapshot returns a copy of the wrapped list.
func (r StaticRegistry) Snapshot(_ context.Context) ([]AOI, error) {
	out := make([]AOI, len(r))
	copy(out, r)
	return out, nil
}
