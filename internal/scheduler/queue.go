package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
)

// ErrLeaseRevoked is returned by Heartbeat when the lease no longer exists,
// typically because the reaper expired it and requeued the job.
var ErrLeaseRevoked = errors.New("lease revoked")

type leaseState struct {
	jobID     uuid.UUID
	attempt   int
	expiresAt time.Time
}

// LeaseQueue is the in-process task queue. Delivery is at-least-once: a job
// id is enqueued once (duplicates are dropped while it is queued or leased)
// and handed to exactly one worker under a time-bounded lease. Heartbeats
// extend the lease; Reap collects the ones that lapsed.
type LeaseQueue struct {
	leaseTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	pending  []uuid.UUID
	queued   map[uuid.UUID]struct{}
	leases   map[uuid.UUID]*leaseState // lease token -> state
	leased   map[uuid.UUID]uuid.UUID   // job id -> lease token
	attempts map[uuid.UUID]int

	notify chan struct{}
}

func NewLeaseQueue(leaseTimeout time.Duration) *LeaseQueue {
	return &LeaseQueue{
		leaseTimeout: leaseTimeout,
		now:          time.Now,
		queued:       make(map[uuid.UUID]struct{}),
		leases:       make(map[uuid.UUID]*leaseState),
		leased:       make(map[uuid.UUID]uuid.UUID),
		attempts:     make(map[uuid.UUID]int),
		notify:       make(chan struct{}, 1),
	}
}

func (q *LeaseQueue) Enqueue(jobID uuid.UUID) {
	q.mu.Lock()
	if _, dup := q.queued[jobID]; dup {
		q.mu.Unlock()
		return
	}
	if _, held := q.leased[jobID]; held {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, jobID)
	q.queued[jobID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *LeaseQueue) Acquire(ctx context.Context) (*core.Lease, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			jobID := q.pending[0]
			q.pending = q.pending[1:]
			delete(q.queued, jobID)

			token := uuid.New()
			attempt := q.attempts[jobID]
			q.leases[token] = &leaseState{
				jobID:     jobID,
				attempt:   attempt,
				expiresAt: q.now().Add(q.leaseTimeout),
			}
			q.leased[jobID] = token
			q.mu.Unlock()

			return &core.Lease{JobID: jobID, Attempt: attempt, Token: token}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *LeaseQueue) Heartbeat(lease *core.Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	state, held := q.leases[lease.Token]
	if !held {
		return ErrLeaseRevoked
	}
	state.expiresAt = q.now().Add(q.leaseTimeout)
	return nil
}

func (q *LeaseQueue) Complete(lease *core.Lease) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, held := q.leases[lease.Token]; !held {
		return
	}
	delete(q.leases, lease.Token)
	delete(q.leased, lease.JobID)
	delete(q.attempts, lease.JobID)
}

// Release returns the job to the queue for another attempt. Used by the
// harness for transient failures.
func (q *LeaseQueue) Release(lease *core.Lease) {
	q.mu.Lock()
	if _, held := q.leases[lease.Token]; !held {
		q.mu.Unlock()
		return
	}
	delete(q.leases, lease.Token)
	delete(q.leased, lease.JobID)
	q.attempts[lease.JobID] = lease.Attempt + 1
	q.pending = append(q.pending, lease.JobID)
	q.queued[lease.JobID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Reap removes every lease whose expiry has passed and returns them. The
// caller decides whether each job is requeued or failed.
func (q *LeaseQueue) Reap() []core.Lease {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var expired []core.Lease
	for token, state := range q.leases {
		if now.After(state.expiresAt) {
			expired = append(expired, core.Lease{
				JobID:   state.jobID,
				Attempt: state.attempt,
				Token:   token,
			})
			delete(q.leases, token)
			delete(q.leased, state.jobID)
		}
	}
	return expired
}

// Requeue makes the job available again with the given attempt count.
func (q *LeaseQueue) Requeue(jobID uuid.UUID, attempt int) {
	q.mu.Lock()
	q.attempts[jobID] = attempt
	if _, dup := q.queued[jobID]; !dup {
		if _, held := q.leased[jobID]; !held {
			q.pending = append(q.pending, jobID)
			q.queued[jobID] = struct{}{}
		}
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Forget drops the attempt counter for a job that will not be requeued.
// Workers clear it through Complete; the reaper calls this when it retires a
// job itself, so the counter does not outlive the job.
func (q *LeaseQueue) Forget(jobID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.attempts, jobID)
}

// Tracked reports whether the job is currently queued or leased. The reaper
// uses it to tell a slow job from an orphaned one.
func (q *LeaseQueue) Tracked(jobID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, queued := q.queued[jobID]; queued {
		return true
	}
	_, held := q.leased[jobID]
	return held
}
