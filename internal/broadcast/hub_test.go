package broadcast

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
)

func snapshot(jobID uuid.UUID, status core.JobStatus, progress float64, step int) core.Snapshot {
	return core.Snapshot{
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	hub := NewHub(4)
	jobID := uuid.New()

	ch1, cancel1 := hub.Subscribe(jobID)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(jobID)
	defer cancel2()

	hub.Publish(snapshot(jobID, core.JobStatusRunning, 20, 1))

	for i, ch := range []<-chan core.Snapshot{ch1, ch2} {
		select {
		case snap := <-ch:
			if snap.Progress != 20 {
				t.Errorf("Subscriber %d got progress %.0f, want 20", i, snap.Progress)
			}
		default:
			t.Errorf("Subscriber %d received nothing", i)
		}
	}
}

func TestPublishIsScopedToJob(t *testing.T) {
	hub := NewHub(4)
	jobA := uuid.New()
	jobB := uuid.New()

	chA, cancelA := hub.Subscribe(jobA)
	defer cancelA()
	chB, cancelB := hub.Subscribe(jobB)
	defer cancelB()

	hub.Publish(snapshot(jobA, core.JobStatusRunning, 50, 1))

	select {
	case <-chA:
	default:
		t.Error("Subscriber for job A received nothing")
	}
	select {
	case snap := <-chB:
		t.Errorf("Subscriber for job B received event for %s", snap.JobID)
	default:
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub(2)
	jobID := uuid.New()

	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	// Nobody drains; the buffer holds two and the producer never blocks.
	for step := 1; step <= 5; step++ {
		hub.Publish(snapshot(jobID, core.JobStatusRunning, float64(step)*20, step))
	}

	var got []int
	for {
		select {
		case snap := <-ch:
			got = append(got, snap.Step)
			continue
		default:
		}
		break
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 buffered snapshots, got %d", len(got))
	}
	// The most recent snapshot always survives.
	if got[len(got)-1] != 5 {
		t.Errorf("Expected last snapshot to be step 5, got step %d", got[len(got)-1])
	}
}

func TestTerminalSnapshotClosesSubscriptions(t *testing.T) {
	hub := NewHub(4)
	jobID := uuid.New()

	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	hub.Publish(snapshot(jobID, core.JobStatusRunning, 60, 3))
	hub.Publish(snapshot(jobID, core.JobStatusCompleted, 100, 5))

	var last core.Snapshot
	for snap := range ch {
		last = snap
	}

	if last.Status != core.JobStatusCompleted {
		t.Errorf("Expected final snapshot to be completed, got %s", last.Status)
	}
	if hub.SubscriberCount(jobID) != 0 {
		t.Errorf("Expected 0 subscribers after terminal event, got %d", hub.SubscriberCount(jobID))
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	hub := NewHub(4)
	jobID := uuid.New()

	_, cancel := hub.Subscribe(jobID)
	cancel()
	cancel()

	if hub.SubscriberCount(jobID) != 0 {
		t.Errorf("Expected 0 subscribers, got %d", hub.SubscriberCount(jobID))
	}

	// Publishing to a job with no subscribers is a no-op.
	hub.Publish(snapshot(jobID, core.JobStatusRunning, 10, 1))
}

func TestSubscribeAfterTerminalGetsNothing(t *testing.T) {
	hub := NewHub(4)
	jobID := uuid.New()

	hub.Publish(snapshot(jobID, core.JobStatusCompleted, 100, 5))

	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	select {
	case snap := <-ch:
		t.Errorf("Expected no delivery, got step %d", snap.Step)
	default:
	}
}
