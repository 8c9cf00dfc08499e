package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/medlit/orchestrator/internal/core"
)

// ErrCancelled is returned by a runner that observed the cancellation flag
// at a checkpoint. It is a cooperative signal, not a failure.
var ErrCancelled = errors.New("cancellation observed")

// ReportFunc pushes a progress update to the job store and the broadcast
// channel. A non-nil error means the worker lost ownership of the job and
// the run must stop.
type ReportFunc func(progress float64, step int, metric core.Metric) error

// CancelledFunc is polled by the task body at its own safe checkpoints,
// such as epoch or trial boundaries.
type CancelledFunc func() bool

// Outcome carries what a successful run produced. ArtifactRef and Metrics
// feed the model registry for training and optimization jobs.
type Outcome struct {
	ArtifactRef string
	Metrics     map[string]float64
}

// Runner is the single polymorphic contract every task kind runs behind.
// The three kinds differ only in what happens inside Run; the surrounding
// orchestration is identical.
type Runner interface {
	Run(ctx context.Context, job *core.Job, report ReportFunc, cancelled CancelledFunc) (*Outcome, error)
}

// Registry maps task kinds to their runners.
type Registry struct {
	runners map[core.TaskKind]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[core.TaskKind]Runner)}
}

func (r *Registry) Register(kind core.TaskKind, runner Runner) error {
	if _, exists := r.runners[kind]; exists {
		return fmt.Errorf("runner already registered for kind %q", kind)
	}
	r.runners[kind] = runner
	return nil
}

func (r *Registry) Get(kind core.TaskKind) (Runner, error) {
	runner, exists := r.runners[kind]
	if !exists {
		return nil, fmt.Errorf("no runner registered for kind %q", kind)
	}
	return runner, nil
}
