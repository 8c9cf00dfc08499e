package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/medlit/orchestrator/internal/core"
)

// TrainingRunner drives the epoch loop for a training job. The model math
// itself lives behind the registry artifact; what matters to the engine is
// the checkpoint discipline: progress is reported and the cancellation flag
// observed once per epoch, which bounds cancellation latency to one epoch.
type TrainingRunner struct {
	// EpochDuration simulates the cost of one epoch. Tests set it to zero.
	EpochDuration time.Duration
}

func NewTrainingRunner(epochDuration time.Duration) *TrainingRunner {
	return &TrainingRunner{EpochDuration: epochDuration}
}

func (r *TrainingRunner) Run(ctx context.Context, job *core.Job, report ReportFunc, cancelled CancelledFunc) (*Outcome, error) {
	params := job.Params.Training
	if params == nil {
		return nil, core.Fatal("training job without training parameters")
	}

	var metric core.Metric
	for epoch := job.Step + 1; epoch <= params.TotalEpochs; epoch++ {
		if cancelled() {
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if r.EpochDuration > 0 {
			select {
			case <-time.After(r.EpochDuration):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		metric = epochMetric(epoch, params)
		progress := float64(epoch) / float64(params.TotalEpochs) * 100
		if err := report(progress, epoch, metric); err != nil {
			return nil, core.Transient("%v", err)
		}
	}

	return &Outcome{
		ArtifactRef: fmt.Sprintf("models/%s/artifact.json", job.ModelID),
		Metrics: map[string]float64{
			"loss":     metric.Loss,
			"accuracy": metric.Accuracy,
			"epochs":   float64(params.TotalEpochs),
		},
	}, nil
}

// epochMetric produces a deterministic convergence curve: loss decays with
// the epoch count, accuracy approaches an asymptote set by the learning
// rate.
func epochMetric(epoch int, params *core.TrainingParams) core.Metric {
	t := float64(epoch)
	loss := 2.0 * math.Exp(-0.35*t)
	ceiling := 0.95 - 0.05*math.Abs(math.Log10(params.LearningRate)+4.5)
	accuracy := ceiling * (1 - math.Exp(-0.5*t))
	return core.Metric{
		Loss:     loss,
		Accuracy: math.Max(0, math.Min(1, accuracy)),
	}
}
