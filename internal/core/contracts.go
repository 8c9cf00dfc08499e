package core

import (
	"context"

	"github.com/google/uuid"
)

// JobStore is the durable record of job identity, status, progress, and
// result metadata. Implementations must enforce the state machine on every
// write: stale versions, terminal mutations, illegal transitions, and
// progress regressions are rejected with the corresponding sentinel error.
type JobStore interface {
	// CreateJob persists a new pending job.
	CreateJob(job *Job) error

	// GetJob returns a copy of the job, or ErrJobNotFound.
	GetJob(id uuid.UUID) (*Job, error)

	// ListJobs returns a page of jobs matching the filter plus the total
	// match count.
	ListJobs(filter JobFilter) ([]*Job, int, error)

	// UpdateJob commits the given record if job.Version matches the stored
	// version, then increments it. The lease-holding worker is the only
	// expected caller for status and progress fields.
	UpdateJob(job *Job) error

	// RequestCancel sets the cancellation flag without touching status,
	// preserving single-writer status semantics, and returns the updated
	// snapshot.
	RequestCancel(id uuid.UUID) (*Job, error)

	// HasActiveJobForModel reports whether a pending or running job targets
	// the given model id.
	HasActiveJobForModel(modelID string) (bool, error)
}

// Lease is a time-bounded claim by one worker on one job, renewed by
// heartbeats.
type Lease struct {
	JobID   uuid.UUID
	Attempt int
	Token   uuid.UUID
}

// TaskQueue is the at-least-once delivery channel between submission and
// worker pickup. Enqueues deduplicate by job id; ordering across distinct
// jobs is not guaranteed.
type TaskQueue interface {
	// Enqueue makes the job available for pickup. A job id already queued or
	// leased is not enqueued twice.
	Enqueue(jobID uuid.UUID)

	// Acquire blocks until a lease is available or ctx is done.
	Acquire(ctx context.Context) (*Lease, error)

	// Heartbeat extends the lease. It fails if the lease was revoked.
	Heartbeat(lease *Lease) error

	// Complete retires the lease after the job reached a terminal state.
	Complete(lease *Lease)

	// Release returns the job to the queue for another attempt, as after a
	// transient failure.
	Release(lease *Lease)
}

// Broadcaster fans job snapshots out to subscribers without ever blocking
// the producer.
type Broadcaster interface {
	// Publish delivers the snapshot to every subscriber of its job id. A
	// terminal snapshot closes those subscriptions.
	Publish(snap Snapshot)

	// Subscribe registers an observer for one job id. The returned cancel
	// func tears the subscription down; it is safe to call more than once.
	Subscribe(jobID uuid.UUID) (<-chan Snapshot, func())
}

// ModelRegistry stores the durable artifact reference and final metrics
// produced by completed jobs. Writes are append-once per job id: recording
// an already-applied job id is a no-op, which lets crash recovery re-derive
// the write idempotently.
type ModelRegistry interface {
	Record(entry ModelEntry) error
	Get(modelID string) (*ModelEntry, error)
	Applied(jobID uuid.UUID) bool
}
