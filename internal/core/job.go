package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind selects the operation a job runs.
type TaskKind string

const (
	TaskKindTraining     TaskKind = "training"
	TaskKindOptimization TaskKind = "hyperparameter_optimization"
	TaskKindInference    TaskKind = "batch_inference"
)

// Job is a single unit of orchestrated work tracked through the status
// lifecycle. Once a terminal status is reached the record is immutable.
type Job struct {
	ID      uuid.UUID
	Kind    TaskKind
	ModelID string // empty for batch inference

	Status          JobStatus
	Progress        float64 // 0-100, monotonic non-decreasing while running
	Step            int     // epoch, trial, or chunk index
	TotalSteps      int
	Metric          Metric
	ErrorMessage    string
	CancelRequested bool

	Attempt    int
	MaxRetries int

	// Version guards concurrent writes. Every committed update increments
	// it; writers must present the version they read.
	Version int64

	Params Params

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Metric is the last reported metric snapshot for a job.
type Metric struct {
	Loss      float64 `json:"loss,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	BestValue float64 `json:"best_value,omitempty"`
}

// Duration returns the wall time between start and completion, or zero if
// the job has not run.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// EventTypeProgress tags every streamed snapshot. Terminal snapshots carry
// the same type; the status field distinguishes them.
const EventTypeProgress = "progress"

// Snapshot captures the externally visible state of a job at one point in
// time. Broadcast events carry full snapshots rather than deltas so late
// subscribers can resynchronize from the store.
type Snapshot struct {
	Type      string    `json:"type"`
	JobID     uuid.UUID `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	Step      int       `json:"step"`
	Metric    Metric    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotOf derives the broadcastable snapshot from a job record.
func SnapshotOf(j *Job) Snapshot {
	return Snapshot{
		Type:      EventTypeProgress,
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Step:      j.Step,
		Metric:    j.Metric,
		Timestamp: time.Now().UTC(),
	}
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status  *JobStatus
	ModelID string
	Limit   int
	Offset  int
}

// ModelEntry is the durable artifact record produced by a successful
// training or optimization job, keyed by model id and idempotent per job id.
type ModelEntry struct {
	ModelID     string             `json:"model_id"`
	JobID       uuid.UUID          `json:"job_id"`
	Trained     bool               `json:"trained"`
	ArtifactRef string             `json:"artifact_ref"`
	Metrics     map[string]float64 `json:"metrics"`
	RecordedAt  time.Time          `json:"recorded_at"`
}
