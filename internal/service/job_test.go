package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/scheduler"
	"github.com/medlit/orchestrator/internal/storage"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Fatal(msg string, args ...any) {}

func newJobService(t *testing.T) (JobService, *storage.InMemoryJobStore, *scheduler.LeaseQueue) {
	t.Helper()

	store := storage.NewInMemoryJobStore()
	queue := scheduler.NewLeaseQueue(30 * time.Second)
	registry := storage.NewInMemoryModelRegistry()
	return NewJobService(store, queue, registry, 3, nopLogger{}), store, queue
}

func trainingParams() core.Params {
	return core.Params{Training: &core.TrainingParams{
		TotalEpochs:  5,
		BatchSize:    16,
		LearningRate: 2e-5,
	}}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	svc, store, queue := newJobService(t)

	job, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", trainingParams())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if job.Status != core.JobStatusPending {
		t.Errorf("Expected pending, got %s", job.Status)
	}
	if job.TotalSteps != 5 {
		t.Errorf("Expected 5 total steps, got %d", job.TotalSteps)
	}
	if job.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", job.MaxRetries)
	}

	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Job not persisted: %v", err)
	}
	if stored.Kind != core.TaskKindTraining {
		t.Errorf("Expected training kind, got %s", stored.Kind)
	}
	if !queue.Tracked(job.ID) {
		t.Error("Expected job to be enqueued")
	}
}

func TestSubmitRejectsInvalidParams(t *testing.T) {
	svc, _, _ := newJobService(t)

	params := trainingParams()
	params.Training.TotalEpochs = 0

	_, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", params)
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestSubmitRequiresModelForTraining(t *testing.T) {
	svc, _, _ := newJobService(t)

	_, err := svc.Submit(core.TaskKindTraining, "", trainingParams())
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestSubmitRejectsBusyModel(t *testing.T) {
	svc, _, _ := newJobService(t)

	if _, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", trainingParams()); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}

	_, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", trainingParams())
	if !errors.Is(err, core.ErrModelBusy) {
		t.Fatalf("Expected ErrModelBusy, got %v", err)
	}

	// A different model is unaffected.
	if _, err := svc.Submit(core.TaskKindTraining, "clinical-bert", trainingParams()); err != nil {
		t.Fatalf("Submit for a free model failed: %v", err)
	}
}

func TestSubmitAllowsResubmitAfterTerminal(t *testing.T) {
	svc, store, queue := newJobService(t)

	first, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", trainingParams())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Drain the queue entry and finish the job.
	lease, err := queue.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	first.Status = core.JobStatusRunning
	if err := store.UpdateJob(first); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	first.Status = core.JobStatusCompleted
	first.Progress = 100
	if err := store.UpdateJob(first); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}
	queue.Complete(lease)

	if _, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", trainingParams()); err != nil {
		t.Fatalf("Resubmit after completion failed: %v", err)
	}
}

func TestCancelSetsFlagOnly(t *testing.T) {
	svc, store, _ := newJobService(t)

	job, err := svc.Submit(core.TaskKindTraining, "pubmed-bert", trainingParams())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := svc.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !got.CancelRequested {
		t.Error("Expected the cancellation flag to be set")
	}
	if got.Status != core.JobStatusPending {
		t.Errorf("Expected status to stay pending, got %s", got.Status)
	}

	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !stored.CancelRequested {
		t.Error("Expected the flag to be persisted")
	}
}

func TestCancelUnknownJob(t *testing.T) {
	svc, _, _ := newJobService(t)

	_, err := svc.Cancel(uuid.New())
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestGetAndList(t *testing.T) {
	svc, _, _ := newJobService(t)

	job, err := svc.Submit(core.TaskKindOptimization, "pubmed-bert", core.Params{
		Optimization: &core.OptimizationParams{Trials: 10, Metric: "f1_macro"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := svc.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalSteps != 10 {
		t.Errorf("Expected 10 total steps, got %d", got.TotalSteps)
	}

	jobs, total, err := svc.List(core.JobFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(jobs) != 1 {
		t.Fatalf("Expected one job, got total=%d len=%d", total, len(jobs))
	}
}
