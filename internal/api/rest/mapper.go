package rest

import (
	"fmt"

	"github.com/medlit/orchestrator/internal/core"
)

// defaultThreshold applies when an inference request omits the confidence
// threshold.
const defaultThreshold = 0.5

func (req *CreateJobRequest) ToParams() (core.TaskKind, core.Params, error) {
	kind := core.TaskKind(req.TaskKind)
	switch kind {
	case core.TaskKindTraining:
		return kind, core.Params{Training: &core.TrainingParams{
			TotalEpochs:     req.Parameters.TotalEpochs,
			BatchSize:       req.Parameters.BatchSize,
			LearningRate:    req.Parameters.LearningRate,
			ValidationSplit: req.Parameters.ValidationSplit,
		}}, nil
	case core.TaskKindOptimization:
		return kind, core.Params{Optimization: &core.OptimizationParams{
			Trials: req.Parameters.Trials,
			Metric: req.Parameters.Metric,
		}}, nil
	case core.TaskKindInference:
		items := make([]core.BatchItem, len(req.Parameters.Items))
		for i, item := range req.Parameters.Items {
			items[i] = core.BatchItem{Title: item.Title, Abstract: item.Abstract}
		}
		threshold := req.Parameters.Threshold
		if threshold == 0 {
			threshold = defaultThreshold
		}
		return kind, core.Params{Inference: &core.InferenceParams{
			Items:     items,
			Threshold: threshold,
		}}, nil
	default:
		return "", core.Params{}, core.NewValidationError(fmt.Sprintf("unknown task kind %q", req.TaskKind))
	}
}

func ToCreateJobResponse(job *core.Job) CreateJobResponse {
	return CreateJobResponse{
		JobID:       job.ID.String(),
		Status:      string(job.Status),
		SubmittedAt: job.CreatedAt,
		TotalSteps:  job.TotalSteps,
		Links: Links{
			Self:   fmt.Sprintf("/api/jobs/%s", job.ID),
			Events: fmt.Sprintf("/api/jobs/%s/events", job.ID),
		},
	}
}

func ToGetJobResponse(job *core.Job) GetJobResponse {
	return GetJobResponse{
		JobID:         job.ID.String(),
		TaskKind:      string(job.Kind),
		TargetModelID: job.ModelID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		Step:          job.Step,
		TotalSteps:    job.TotalSteps,
		Metric: MetricInfo{
			Loss:      job.Metric.Loss,
			Accuracy:  job.Metric.Accuracy,
			BestValue: job.Metric.BestValue,
		},
		ErrorMessage:    job.ErrorMessage,
		CancelRequested: job.CancelRequested,
		Attempt:         job.Attempt,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}

func ToJobSummary(job *core.Job) JobSummary {
	return JobSummary{
		JobID:           job.ID.String(),
		TaskKind:        string(job.Kind),
		TargetModelID:   job.ModelID,
		Status:          string(job.Status),
		Progress:        job.Progress,
		CancelRequested: job.CancelRequested,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	}
}

func ToGetModelResponse(entry *core.ModelEntry) GetModelResponse {
	recordedAt := entry.RecordedAt
	return GetModelResponse{
		ModelID:     entry.ModelID,
		Trained:     entry.Trained,
		JobID:       entry.JobID.String(),
		ArtifactRef: entry.ArtifactRef,
		Metrics:     entry.Metrics,
		RecordedAt:  &recordedAt,
	}
}
