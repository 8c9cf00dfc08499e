package worker

import (
	"context"
	"sync"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/service"
)

// InferenceRunner executes a batch_inference job through the batch
// coordinator. Progress is reported per completed chunk; individual item
// failures are recorded in the result set and never fail the job.
type InferenceRunner struct {
	Coordinator *service.BatchCoordinator
}

func NewInferenceRunner(coordinator *service.BatchCoordinator) *InferenceRunner {
	return &InferenceRunner{Coordinator: coordinator}
}

func (r *InferenceRunner) Run(ctx context.Context, job *core.Job, report ReportFunc, cancelled CancelledFunc) (*Outcome, error) {
	params := job.Params.Inference
	if params == nil {
		return nil, core.Fatal("inference job without inference parameters")
	}
	if cancelled() {
		return nil, ErrCancelled
	}

	// Chunks finish concurrently; serialize reports and keep them
	// monotonic.
	var (
		mu        sync.Mutex
		maxDone   int
		reportErr error
	)
	result := r.Coordinator.Run(ctx, job.ModelID, params.Items, params.Threshold, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if reportErr != nil || done <= maxDone {
			return
		}
		maxDone = done
		progress := float64(done) / float64(total) * 100
		step := done * len(params.Items) / total
		if err := report(progress, step, core.Metric{}); err != nil {
			reportErr = err
		}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reportErr != nil {
		return nil, core.Transient("%v", reportErr)
	}

	failed := 0
	for _, item := range result.Results {
		if item.Error != "" {
			failed++
		}
	}
	return &Outcome{
		Metrics: map[string]float64{
			"items":         float64(len(result.Results)),
			"failed_items":  float64(failed),
			"total_time_ms": float64(result.TotalTimeMS),
		},
	}, nil
}
