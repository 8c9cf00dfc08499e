package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAcquire(t *testing.T) {
	queue := NewLeaseQueue(30 * time.Second)
	jobID := uuid.New()

	queue.Enqueue(jobID)

	lease, err := queue.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, lease.JobID)
	require.Equal(t, 0, lease.Attempt)
	require.True(t, queue.Tracked(jobID))

	queue.Complete(lease)
	require.False(t, queue.Tracked(jobID))
}

func TestEnqueueDeduplicates(t *testing.T) {
	queue := NewLeaseQueue(30 * time.Second)
	jobID := uuid.New()

	queue.Enqueue(jobID)
	queue.Enqueue(jobID)

	lease, err := queue.Acquire(context.Background())
	require.NoError(t, err)

	// Still leased: a duplicate enqueue is dropped.
	queue.Enqueue(jobID)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = queue.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	queue.Complete(lease)
}

func TestAcquireBlocksUntilEnqueue(t *testing.T) {
	queue := NewLeaseQueue(30 * time.Second)
	jobID := uuid.New()

	done := make(chan uuid.UUID, 1)
	go func() {
		lease, err := queue.Acquire(context.Background())
		if err != nil {
			return
		}
		done <- lease.JobID
	}()

	time.Sleep(20 * time.Millisecond)
	queue.Enqueue(jobID)

	select {
	case got := <-done:
		require.Equal(t, jobID, got)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not wake up after Enqueue")
	}
}

func TestHeartbeatExtendsLease(t *testing.T) {
	queue := NewLeaseQueue(time.Minute)

	current := time.Now()
	queue.now = func() time.Time { return current }

	jobID := uuid.New()
	queue.Enqueue(jobID)
	lease, err := queue.Acquire(context.Background())
	require.NoError(t, err)

	// Just before expiry, a heartbeat pushes the deadline out.
	current = current.Add(59 * time.Second)
	require.NoError(t, queue.Heartbeat(lease))

	current = current.Add(59 * time.Second)
	require.Empty(t, queue.Reap())

	current = current.Add(2 * time.Second)
	expired := queue.Reap()
	require.Len(t, expired, 1)
	require.Equal(t, jobID, expired[0].JobID)

	require.ErrorIs(t, queue.Heartbeat(lease), ErrLeaseRevoked)
}

func TestReapOnlyCollectsExpired(t *testing.T) {
	queue := NewLeaseQueue(time.Minute)

	current := time.Now()
	queue.now = func() time.Time { return current }

	queue.Enqueue(uuid.New())
	first, err := queue.Acquire(context.Background())
	require.NoError(t, err)

	current = current.Add(30 * time.Second)
	queue.Enqueue(uuid.New())
	second, err := queue.Acquire(context.Background())
	require.NoError(t, err)

	current = current.Add(31 * time.Second)
	expired := queue.Reap()
	require.Len(t, expired, 1)
	require.Equal(t, first.JobID, expired[0].JobID)
	require.NoError(t, queue.Heartbeat(second))
}

func TestReleaseIncrementsAttempt(t *testing.T) {
	queue := NewLeaseQueue(30 * time.Second)
	jobID := uuid.New()
	queue.Enqueue(jobID)

	lease, err := queue.Acquire(context.Background())
	require.NoError(t, err)
	queue.Release(lease)

	retried, err := queue.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, retried.JobID)
	require.Equal(t, 1, retried.Attempt)

	queue.Complete(retried)

	// Completion clears the attempt counter.
	queue.Enqueue(jobID)
	fresh, err := queue.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, fresh.Attempt)
}

func TestRequeueAfterReap(t *testing.T) {
	queue := NewLeaseQueue(time.Minute)

	current := time.Now()
	queue.now = func() time.Time { return current }

	jobID := uuid.New()
	queue.Enqueue(jobID)
	lease, err := queue.Acquire(context.Background())
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	expired := queue.Reap()
	require.Len(t, expired, 1)
	require.False(t, queue.Tracked(jobID))

	queue.Requeue(jobID, expired[0].Attempt+1)
	require.True(t, queue.Tracked(jobID))

	retried, err := queue.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, retried.Attempt)

	// The old lease is dead.
	require.ErrorIs(t, queue.Heartbeat(lease), ErrLeaseRevoked)
	queue.Complete(retried)
}

func TestForgetClearsAttemptCounter(t *testing.T) {
	queue := NewLeaseQueue(time.Minute)

	current := time.Now()
	queue.now = func() time.Time { return current }

	jobID := uuid.New()
	queue.Enqueue(jobID)
	_, err := queue.Acquire(context.Background())
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	require.Len(t, queue.Reap(), 1)
	queue.Requeue(jobID, 2)

	queue.mu.Lock()
	_, present := queue.attempts[jobID]
	queue.mu.Unlock()
	require.True(t, present)

	queue.Forget(jobID)

	queue.mu.Lock()
	_, present = queue.attempts[jobID]
	queue.mu.Unlock()
	require.False(t, present)
}
