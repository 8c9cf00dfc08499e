package rest

import (
	"time"

	"github.com/medlit/orchestrator/internal/service"
)

type CreateJobRequest struct {
	TaskKind      string        `json:"task_kind"`
	TargetModelID string        `json:"target_model_id,omitempty"`
	Parameters    ParametersDTO `json:"parameters"`
}

// ParametersDTO is the union of all task kind parameters; which fields are
// meaningful depends on task_kind.
type ParametersDTO struct {
	// training
	TotalEpochs     int     `json:"total_epochs,omitempty"`
	BatchSize       int     `json:"batch_size,omitempty"`
	LearningRate    float64 `json:"learning_rate,omitempty"`
	ValidationSplit float64 `json:"validation_split,omitempty"`

	// hyperparameter_optimization
	Trials int    `json:"n_trials,omitempty"`
	Metric string `json:"metric,omitempty"`

	// batch_inference
	Items     []BatchItemDTO `json:"items,omitempty"`
	Threshold float64        `json:"threshold,omitempty"`
}

type BatchItemDTO struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
}

type CreateJobResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	TotalSteps  int       `json:"total_steps"`
	Links       Links     `json:"links"`
}

type Links struct {
	Self   string `json:"self"`
	Events string `json:"events,omitempty"`
}

type GetJobResponse struct {
	JobID           string     `json:"job_id"`
	TaskKind        string     `json:"task_kind"`
	TargetModelID   string     `json:"target_model_id,omitempty"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	Step            int        `json:"step"`
	TotalSteps      int        `json:"total_steps"`
	Metric          MetricInfo `json:"metric"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	Attempt         int        `json:"attempt"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type MetricInfo struct {
	Loss      float64 `json:"loss,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	BestValue float64 `json:"best_value,omitempty"`
}

type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
	NextOffset *int         `json:"next_offset,omitempty"`
}

type JobSummary struct {
	JobID           string     `json:"job_id"`
	TaskKind        string     `json:"task_kind"`
	TargetModelID   string     `json:"target_model_id,omitempty"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type BatchPredictRequest struct {
	ModelID   string         `json:"model_id"`
	Items     []BatchItemDTO `json:"items"`
	Threshold float64        `json:"threshold,omitempty"`
}

type BatchPredictResponse struct {
	Results     []service.ItemResult `json:"results"`
	TotalTimeMS float64              `json:"total_time_ms"`
}

type GetModelResponse struct {
	ModelID     string             `json:"model_id"`
	Trained     bool               `json:"trained"`
	JobID       string             `json:"job_id,omitempty"`
	ArtifactRef string             `json:"artifact_ref,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	RecordedAt  *time.Time         `json:"recorded_at,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
