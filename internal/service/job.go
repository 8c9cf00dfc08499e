package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/shared/logging"
)

// JobService is the submission and query surface over the job store and
// task queue.
type JobService interface {
	Submit(kind core.TaskKind, modelID string, params core.Params) (*core.Job, error)
	Get(id uuid.UUID) (*core.Job, error)
	List(filter core.JobFilter) ([]*core.Job, int, error)
	Cancel(id uuid.UUID) (*core.Job, error)
	Model(modelID string) (*core.ModelEntry, error)
}

type jobService struct {
	store      core.JobStore
	queue      core.TaskQueue
	registry   core.ModelRegistry
	maxRetries int
	logger     logging.Logger
}

func NewJobService(
	store core.JobStore,
	queue core.TaskQueue,
	registry core.ModelRegistry,
	maxRetries int,
	logger logging.Logger,
) JobService {
	return &jobService{
		store:      store,
		queue:      queue,
		registry:   registry,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Submit validates the request, enforces single-active-job-per-model against
// the store (the store query is the source of truth, not a global flag),
// persists the job as pending, and enqueues it.
func (s *jobService) Submit(kind core.TaskKind, modelID string, params core.Params) (*core.Job, error) {
	if err := params.Validate(kind); err != nil {
		return nil, err
	}
	if (kind == core.TaskKindTraining || kind == core.TaskKindOptimization) && modelID == "" {
		return nil, core.NewValidationError(fmt.Sprintf("%s jobs require a target model id", kind))
	}

	if modelID != "" {
		busy, err := s.store.HasActiveJobForModel(modelID)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, fmt.Errorf("model %s: %w", modelID, core.ErrModelBusy)
		}
	}

	job := &core.Job{
		ID:         uuid.New(),
		Kind:       kind,
		ModelID:    modelID,
		Status:     core.JobStatusPending,
		TotalSteps: totalSteps(kind, params),
		MaxRetries: s.maxRetries,
		Params:     params,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreateJob(job); err != nil {
		return nil, err
	}
	s.queue.Enqueue(job.ID)

	s.logger.Info("Job submitted",
		"job_id", job.ID.String(),
		"kind", job.Kind,
		"model_id", job.ModelID,
	)
	return job, nil
}

func (s *jobService) Get(id uuid.UUID) (*core.Job, error) {
	return s.store.GetJob(id)
}

func (s *jobService) List(filter core.JobFilter) ([]*core.Job, int, error) {
	return s.store.ListJobs(filter)
}

// Cancel flips the cancellation flag and returns the current snapshot. The
// status stays whatever it was; the leasing worker observes the flag at its
// next checkpoint and performs the transition itself.
func (s *jobService) Cancel(id uuid.UUID) (*core.Job, error) {
	job, err := s.store.RequestCancel(id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Cancellation requested", "job_id", id.String(), "status", job.Status)
	return job, nil
}

func (s *jobService) Model(modelID string) (*core.ModelEntry, error) {
	return s.registry.Get(modelID)
}

func totalSteps(kind core.TaskKind, params core.Params) int {
	switch kind {
	case core.TaskKindTraining:
		return params.Training.TotalEpochs
	case core.TaskKindOptimization:
		return params.Optimization.Trials
	case core.TaskKindInference:
		return len(params.Inference.Items)
	}
	return 0
}
