package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/shared/logging"
)

// Reaper watches lease expiry and orphaned jobs. A worker that stops
// heartbeating loses its lease here: the job is requeued for another worker
// while its status stays running, and the attempt counter increments.
// Exceeding the retry bound fails the job with a lease-timeout message so it
// never silently disappears.
type Reaper struct {
	queue        *LeaseQueue
	store        core.JobStore
	broadcaster  core.Broadcaster
	reapInterval time.Duration
	stuckTimeout time.Duration
	logger       logging.Logger
}

func NewReaper(
	queue *LeaseQueue,
	store core.JobStore,
	broadcaster core.Broadcaster,
	reapInterval time.Duration,
	stuckTimeout time.Duration,
	logger logging.Logger,
) *Reaper {
	return &Reaper{
		queue:        queue,
		store:        store,
		broadcaster:  broadcaster,
		reapInterval: reapInterval,
		stuckTimeout: stuckTimeout,
		logger:       logger,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapExpiredLeases()
			r.recoverOrphanedJobs()
		}
	}
}

func (r *Reaper) reapExpiredLeases() {
	for _, lease := range r.queue.Reap() {
		job, err := r.store.GetJob(lease.JobID)
		if err != nil {
			r.logger.Error("Failed to load job for expired lease", "job_id", lease.JobID, "error", err)
			continue
		}
		if job.Status.IsTerminal() {
			continue
		}

		nextAttempt := lease.Attempt + 1
		if nextAttempt > job.MaxRetries {
			r.logger.Warn("Job exhausted lease retries",
				"job_id", job.ID.String(),
				"attempts", nextAttempt,
				"max_retries", job.MaxRetries,
			)
			r.failJob(job, fmt.Sprintf("lease timeout: no heartbeat after %d attempts", nextAttempt))
			continue
		}

		r.logger.Info("Lease expired, requeuing job",
			"job_id", job.ID.String(),
			"attempt", nextAttempt,
		)
		r.queue.Requeue(job.ID, nextAttempt)
	}
}

// recoverOrphanedJobs picks up non-terminal jobs that hold no queue entry
// and no lease, as after a process restart. Jobs past the stuck timeout are
// failed; anything younger is requeued.
func (r *Reaper) recoverOrphanedJobs() {
	for _, status := range []core.JobStatus{core.JobStatusPending, core.JobStatusRunning} {
		s := status
		jobs, _, err := r.store.ListJobs(core.JobFilter{Status: &s})
		if err != nil {
			r.logger.Error("Failed to list jobs for orphan scan", "status", s, "error", err)
			continue
		}
		for _, job := range jobs {
			if r.queue.Tracked(job.ID) {
				continue
			}
			if time.Since(job.CreatedAt) > r.stuckTimeout {
				r.logger.Warn("Failing stuck orphaned job", "job_id", job.ID.String(), "status", job.Status)
				if job.Status == core.JobStatusPending {
					r.cancelOrphanedPending(job)
				} else {
					r.failJob(job, "job was orphaned and exceeded the stuck-job timeout")
				}
				continue
			}
			r.logger.Info("Requeuing orphaned job", "job_id", job.ID.String(), "attempt", job.Attempt)
			r.queue.Requeue(job.ID, job.Attempt)
		}
	}
}

func (r *Reaper) failJob(job *core.Job, message string) {
	now := time.Now().UTC()
	job.Status = core.JobStatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	if err := r.store.UpdateJob(job); err != nil {
		r.logger.Error("Failed to mark job failed", "job_id", job.ID.String(), "error", err)
		return
	}
	r.queue.Forget(job.ID)
	r.broadcaster.Publish(core.SnapshotOf(job))
}

// cancelOrphanedPending resolves a stuck pending job. The state machine has
// no pending -> failed edge, so the orphan is retired through cancellation.
func (r *Reaper) cancelOrphanedPending(job *core.Job) {
	now := time.Now().UTC()
	job.Status = core.JobStatusCancelled
	job.ErrorMessage = "job was orphaned before pickup and exceeded the stuck-job timeout"
	job.CompletedAt = &now
	if err := r.store.UpdateJob(job); err != nil {
		r.logger.Error("Failed to cancel orphaned job", "job_id", job.ID.String(), "error", err)
		return
	}
	r.queue.Forget(job.ID)
	r.broadcaster.Publish(core.SnapshotOf(job))
}
