package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/medlit/orchestrator/internal/core"
)

func newModelEntry(modelID string) core.ModelEntry {
	return core.ModelEntry{
		ModelID:     modelID,
		JobID:       uuid.New(),
		Trained:     true,
		ArtifactRef: "models/" + modelID + "/artifact.json",
		Metrics:     map[string]float64{"accuracy": 0.91, "loss": 0.24},
		RecordedAt:  time.Now().UTC(),
	}
}

func TestFileRegistryRecordAndGet(t *testing.T) {
	registry, err := NewFileModelRegistry(t.TempDir())
	require.NoError(t, err)

	entry := newModelEntry("pubmed-bert")
	require.NoError(t, registry.Record(entry))

	got, err := registry.Get("pubmed-bert")
	require.NoError(t, err)
	require.Equal(t, entry.JobID, got.JobID)
	require.True(t, got.Trained)
	require.InDelta(t, 0.91, got.Metrics["accuracy"], 1e-9)

	require.True(t, registry.Applied(entry.JobID))
	require.False(t, registry.Applied(uuid.New()))
}

func TestFileRegistryGetUnknownModel(t *testing.T) {
	registry, err := NewFileModelRegistry(t.TempDir())
	require.NoError(t, err)

	_, err = registry.Get("clinical-bert")
	require.ErrorIs(t, err, core.ErrModelNotFound)
}

func TestFileRegistryRecordIsIdempotentPerJob(t *testing.T) {
	registry, err := NewFileModelRegistry(t.TempDir())
	require.NoError(t, err)

	entry := newModelEntry("pubmed-bert")
	require.NoError(t, registry.Record(entry))

	// A retry of the same job must not overwrite the first write.
	retry := entry
	retry.Metrics = map[string]float64{"accuracy": 0.5}
	require.NoError(t, registry.Record(retry))

	got, err := registry.Get("pubmed-bert")
	require.NoError(t, err)
	require.InDelta(t, 0.91, got.Metrics["accuracy"], 1e-9)
}

func TestFileRegistryNewJobReplacesEntry(t *testing.T) {
	registry, err := NewFileModelRegistry(t.TempDir())
	require.NoError(t, err)

	first := newModelEntry("pubmed-bert")
	require.NoError(t, registry.Record(first))

	second := newModelEntry("pubmed-bert")
	second.Metrics = map[string]float64{"accuracy": 0.95}
	require.NoError(t, registry.Record(second))

	got, err := registry.Get("pubmed-bert")
	require.NoError(t, err)
	require.Equal(t, second.JobID, got.JobID)
	require.InDelta(t, 0.95, got.Metrics["accuracy"], 1e-9)
}

func TestFileRegistryRecoversFromDisk(t *testing.T) {
	root := t.TempDir()

	registry, err := NewFileModelRegistry(root)
	require.NoError(t, err)

	entry := newModelEntry("pubmed-bert")
	require.NoError(t, registry.Record(entry))

	// A fresh instance over the same root sees the artifact.
	reopened, err := NewFileModelRegistry(root)
	require.NoError(t, err)

	got, err := reopened.Get("pubmed-bert")
	require.NoError(t, err)
	require.Equal(t, entry.JobID, got.JobID)
	require.True(t, reopened.Applied(entry.JobID))
}

func TestFileRegistryRecoverySkipsTornFiles(t *testing.T) {
	root := t.TempDir()

	dir := filepath.Join(root, "broken-model")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifact.json"), []byte("{not json"), 0o644))

	registry, err := NewFileModelRegistry(root)
	require.NoError(t, err)

	_, err = registry.Get("broken-model")
	require.ErrorIs(t, err, core.ErrModelNotFound)
}

func TestInMemoryRegistry(t *testing.T) {
	registry := NewInMemoryModelRegistry()

	entry := newModelEntry("pubmed-bert")
	require.NoError(t, registry.Record(entry))
	require.NoError(t, registry.Record(entry))

	got, err := registry.Get("pubmed-bert")
	require.NoError(t, err)
	require.Equal(t, entry.JobID, got.JobID)
	require.True(t, registry.Applied(entry.JobID))
}
