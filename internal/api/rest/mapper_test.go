package rest

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
)

func TestToParamsTraining(t *testing.T) {
	req := trainingRequest("pubmed-bert")

	kind, params, err := req.ToParams()
	if err != nil {
		t.Fatalf("ToParams failed: %v", err)
	}
	if kind != core.TaskKindTraining {
		t.Errorf("Expected training kind, got %s", kind)
	}
	if params.Training == nil || params.Training.TotalEpochs != 5 {
		t.Errorf("Expected training params with 5 epochs, got %+v", params.Training)
	}
	if params.Optimization != nil || params.Inference != nil {
		t.Error("Expected only the training variant to be set")
	}
}

func TestToParamsInference(t *testing.T) {
	req := CreateJobRequest{
		TaskKind: "batch_inference",
		Parameters: ParametersDTO{
			Items:     []BatchItemDTO{{Title: "a", Abstract: "b"}},
			Threshold: 0.7,
		},
	}

	kind, params, err := req.ToParams()
	if err != nil {
		t.Fatalf("ToParams failed: %v", err)
	}
	if kind != core.TaskKindInference {
		t.Errorf("Expected inference kind, got %s", kind)
	}
	if len(params.Inference.Items) != 1 || params.Inference.Items[0].Title != "a" {
		t.Errorf("Expected one mapped item, got %+v", params.Inference.Items)
	}
}

func TestToParamsUnknownKind(t *testing.T) {
	req := CreateJobRequest{TaskKind: "cleanup"}
	if _, _, err := req.ToParams(); err == nil {
		t.Fatal("Expected an error for an unknown kind")
	}
}

func TestToGetJobResponse(t *testing.T) {
	started := time.Now().UTC()
	job := &core.Job{
		ID:         uuid.New(),
		Kind:       core.TaskKindTraining,
		ModelID:    "pubmed-bert",
		Status:     core.JobStatusRunning,
		Progress:   60,
		Step:       3,
		TotalSteps: 5,
		Metric:     core.Metric{Loss: 0.4, Accuracy: 0.8},
		Attempt:    1,
		CreatedAt:  started.Add(-time.Minute),
		StartedAt:  &started,
	}

	resp := ToGetJobResponse(job)
	if resp.JobID != job.ID.String() {
		t.Errorf("Expected job id %s, got %s", job.ID, resp.JobID)
	}
	if resp.Status != "running" || resp.Progress != 60 || resp.Step != 3 {
		t.Errorf("Mapped snapshot mismatch: %+v", resp)
	}
	if resp.Metric.Accuracy != 0.8 {
		t.Errorf("Expected accuracy 0.8, got %f", resp.Metric.Accuracy)
	}
	if resp.CompletedAt != nil {
		t.Error("Expected no completion timestamp")
	}
}
