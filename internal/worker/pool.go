package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/shared/logging"
)

// Pool runs a fixed number of workers that lease jobs from the task queue
// and drive them through the execution harness. Worker-side errors never
// escape the harness: they are classified, recorded on the job, and the
// loop keeps going.
type Pool struct {
	queue             core.TaskQueue
	store             core.JobStore
	registry          core.ModelRegistry
	broadcaster       core.Broadcaster
	runners           *Registry
	size              int
	heartbeatInterval time.Duration
	logger            logging.Logger

	wg sync.WaitGroup
}

func NewPool(
	queue core.TaskQueue,
	store core.JobStore,
	registry core.ModelRegistry,
	broadcaster core.Broadcaster,
	runners *Registry,
	size int,
	heartbeatInterval time.Duration,
	logger logging.Logger,
) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		queue:             queue,
		store:             store,
		registry:          registry,
		broadcaster:       broadcaster,
		runners:           runners,
		size:              size,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

// Start launches the workers. They stop when ctx is done; Wait blocks until
// all of them returned.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		workerID := i
		p.wg.Go(func() {
			p.runLoop(ctx, workerID)
		})
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	for {
		lease, err := p.queue.Acquire(ctx)
		if err != nil {
			return // ctx done
		}
		p.handleLease(ctx, workerID, lease)
	}
}

func (p *Pool) handleLease(ctx context.Context, workerID int, lease *core.Lease) {
	job, err := p.store.GetJob(lease.JobID)
	if err != nil {
		p.logger.Error("Failed to load leased job", "job_id", lease.JobID, "error", err)
		p.queue.Complete(lease)
		return
	}

	// A duplicate delivery for a job that already finished is a no-op.
	if job.Status.IsTerminal() {
		p.queue.Complete(lease)
		return
	}

	// Cancelled before pickup: no work was started, transition directly.
	if job.CancelRequested && job.Status == core.JobStatusPending {
		p.finish(job, core.JobStatusCancelled, "")
		p.queue.Complete(lease)
		return
	}

	job.Attempt = lease.Attempt
	if job.Status == core.JobStatusPending {
		now := time.Now().UTC()
		job.Status = core.JobStatusRunning
		job.StartedAt = &now
		if err := p.store.UpdateJob(job); err != nil {
			// Another worker won the version race; drop the lease.
			p.logger.Warn("Lost pickup race", "job_id", job.ID.String(), "error", err)
			p.queue.Complete(lease)
			return
		}
		p.broadcaster.Publish(core.SnapshotOf(job))
	} else if err := p.store.UpdateJob(job); err != nil {
		p.logger.Warn("Failed to adopt requeued job", "job_id", job.ID.String(), "error", err)
		p.queue.Complete(lease)
		return
	}

	p.logger.Info("Worker picked up job",
		"worker", workerID,
		"job_id", job.ID.String(),
		"kind", job.Kind,
		"attempt", lease.Attempt,
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var hbWG sync.WaitGroup
	hbWG.Go(func() {
		p.heartbeatLoop(runCtx, lease, cancelRun)
	})

	outcome, runErr := p.invoke(runCtx, job)

	cancelRun()
	hbWG.Wait()

	p.settle(ctx, job, lease, outcome, runErr)
}

// heartbeatLoop renews the lease until the run ends. A revoked lease means
// the reaper handed the job to someone else; cancelling the run context
// stops our worker from doing further conflicting work.
func (p *Pool) heartbeatLoop(ctx context.Context, lease *core.Lease, cancelRun context.CancelFunc) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(lease); err != nil {
				p.logger.Warn("Lease lost mid-run", "job_id", lease.JobID)
				cancelRun()
				return
			}
		}
	}
}

// invoke runs the task-kind-specific operation behind the harness boundary.
// Panics are recovered and classified fatal.
func (p *Pool) invoke(ctx context.Context, job *core.Job) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Fatal("task panicked: %v", r)
		}
	}()

	runner, err := p.runners.Get(job.Kind)
	if err != nil {
		return nil, core.Fatal("%v", err)
	}

	report := func(progress float64, step int, metric core.Metric) error {
		job.Progress = progress
		job.Step = step
		job.Metric = metric
		if err := p.store.UpdateJob(job); err != nil {
			return fmt.Errorf("report progress: %w", err)
		}
		p.broadcaster.Publish(core.SnapshotOf(job))
		return nil
	}

	cancelled := func() bool {
		fresh, err := p.store.GetJob(job.ID)
		if err != nil {
			return false
		}
		job.CancelRequested = fresh.CancelRequested
		return fresh.CancelRequested
	}

	return runner.Run(ctx, job, report, cancelled)
}

// settle maps the run outcome onto the state machine.
func (p *Pool) settle(ctx context.Context, job *core.Job, lease *core.Lease, outcome *Outcome, runErr error) {
	switch {
	case runErr == nil:
		// Registry first, then the status flip. A crash in between is
		// resolved on retry because the registry write is idempotent per
		// job id.
		if outcome != nil && job.ModelID != "" && job.Kind != core.TaskKindInference {
			entry := core.ModelEntry{
				ModelID:     job.ModelID,
				JobID:       job.ID,
				Trained:     true,
				ArtifactRef: outcome.ArtifactRef,
				Metrics:     outcome.Metrics,
				RecordedAt:  time.Now().UTC(),
			}
			if err := p.registry.Record(entry); err != nil {
				p.logger.Error("Registry write failed", "job_id", job.ID.String(), "error", err)
				p.queue.Release(lease)
				return
			}
		}
		job.Progress = 100
		p.finish(job, core.JobStatusCompleted, "")
		p.queue.Complete(lease)

	case errors.Is(runErr, ErrCancelled):
		p.finish(job, core.JobStatusCancelled, "")
		p.queue.Complete(lease)

	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		if ctx.Err() != nil {
			// Shutting down: hand the job back for another worker.
			p.queue.Release(lease)
			return
		}
		// Lease revoked mid-run; the reaper already requeued the job.
		p.logger.Info("Abandoning run after lease loss", "job_id", job.ID.String())

	case core.IsTransient(runErr):
		if lease.Attempt+1 > job.MaxRetries {
			p.finish(job, core.JobStatusFailed,
				fmt.Sprintf("retries exhausted after %d attempts: %v", lease.Attempt+1, runErr))
			p.queue.Complete(lease)
			return
		}
		p.logger.Warn("Transient failure, requeuing",
			"job_id", job.ID.String(),
			"attempt", lease.Attempt,
			"error", runErr,
		)
		p.queue.Release(lease)

	default:
		// Fatal and unclassified errors fail the job immediately.
		p.finish(job, core.JobStatusFailed, runErr.Error())
		p.queue.Complete(lease)
	}
}

// finish commits a terminal transition and emits the final broadcast event.
func (p *Pool) finish(job *core.Job, status core.JobStatus, errMsg string) {
	now := time.Now().UTC()
	job.Status = status
	job.ErrorMessage = errMsg
	job.CompletedAt = &now
	if err := p.store.UpdateJob(job); err != nil {
		p.logger.Error("Failed to finalize job",
			"job_id", job.ID.String(),
			"status", status,
			"error", err,
		)
		return
	}
	p.logger.Info("Job finished",
		"job_id", job.ID.String(),
		"status", status,
		"progress", job.Progress,
		"duration_ms", job.Duration().Milliseconds(),
	)
	p.broadcaster.Publish(core.SnapshotOf(job))
}
