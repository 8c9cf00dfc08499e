package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
)

// FileModelRegistry persists one artifact.json per model under a root
// directory. Writes are append-once per job id: the applied-job index makes
// Record a no-op for a job that already landed, so a worker retrying after a
// crash between the status flip and the registry write converges.
type FileModelRegistry struct {
	root string

	mu      sync.RWMutex
	entries map[string]core.ModelEntry
	applied map[uuid.UUID]struct{}
}

func NewFileModelRegistry(root string) (*FileModelRegistry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create registry root: %w", err)
	}
	r := &FileModelRegistry{
		root:    root,
		entries: make(map[string]core.ModelEntry),
		applied: make(map[uuid.UUID]struct{}),
	}
	if err := r.recover(); err != nil {
		return nil, err
	}
	return r, nil
}

// recover rebuilds the in-memory index from artifact files on disk.
func (r *FileModelRegistry) recover() error {
	matches, err := doublestar.FilepathGlob(filepath.Join(r.root, "*", "artifact.json"))
	if err != nil {
		return fmt.Errorf("scan registry root: %w", err)
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry core.ModelEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		r.entries[entry.ModelID] = entry
		r.applied[entry.JobID] = struct{}{}
	}
	return nil
}

func (r *FileModelRegistry) Record(entry core.ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.applied[entry.JobID]; done {
		return nil
	}

	dir := filepath.Join(r.root, entry.ModelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn artifact file.
	tmp := filepath.Join(dir, "artifact.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, "artifact.json")); err != nil {
		return err
	}

	r.entries[entry.ModelID] = entry
	r.applied[entry.JobID] = struct{}{}
	return nil
}

func (r *FileModelRegistry) Get(modelID string) (*core.ModelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[modelID]
	if !exists {
		return nil, core.ErrModelNotFound
	}
	copied := entry
	return &copied, nil
}

func (r *FileModelRegistry) Applied(jobID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, done := r.applied[jobID]
	return done
}

// InMemoryModelRegistry keeps registry state in maps. Used in tests.
type InMemoryModelRegistry struct {
	mu      sync.RWMutex
	entries map[string]core.ModelEntry
	applied map[uuid.UUID]struct{}
}

func NewInMemoryModelRegistry() *InMemoryModelRegistry {
	return &InMemoryModelRegistry{
		entries: make(map[string]core.ModelEntry),
		applied: make(map[uuid.UUID]struct{}),
	}
}

func (r *InMemoryModelRegistry) Record(entry core.ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.applied[entry.JobID]; done {
		return nil
	}
	r.entries[entry.ModelID] = entry
	r.applied[entry.JobID] = struct{}{}
	return nil
}

func (r *InMemoryModelRegistry) Get(modelID string) (*core.ModelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[modelID]
	if !exists {
		return nil, core.ErrModelNotFound
	}
	copied := entry
	return &copied, nil
}

func (r *InMemoryModelRegistry) Applied(jobID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, done := r.applied[jobID]
	return done
}
