package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
)

// Hub fans job snapshots out to any number of subscribers, keyed by job id.
// Every subscriber has its own bounded buffer; when a subscriber falls
// behind, the oldest buffered snapshot is dropped so the producer never
// blocks. A terminal snapshot is the last delivery: the hub closes those
// subscriptions after sending it.
type Hub struct {
	bufferSize int

	mu   sync.Mutex
	subs map[uuid.UUID]map[uuid.UUID]chan core.Snapshot
}

func NewHub(bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		bufferSize: bufferSize,
		subs:       make(map[uuid.UUID]map[uuid.UUID]chan core.Snapshot),
	}
}

func (h *Hub) Subscribe(jobID uuid.UUID) (<-chan core.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subID := uuid.New()
	ch := make(chan core.Snapshot, h.bufferSize)

	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[uuid.UUID]chan core.Snapshot)
	}
	h.subs[jobID][subID] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, exists := h.subs[jobID][subID]; exists {
			delete(h.subs[jobID], subID)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			close(sub)
		}
	}
	return ch, cancel
}

func (h *Hub) Publish(snap core.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[snap.JobID] {
		h.offer(ch, snap)
	}

	if snap.Status.IsTerminal() {
		for subID, ch := range h.subs[snap.JobID] {
			delete(h.subs[snap.JobID], subID)
			close(ch)
		}
		delete(h.subs, snap.JobID)
	}
}

// offer enqueues without blocking: on a full buffer the oldest snapshot is
// discarded in favor of the newest (last-value-wins).
func (h *Hub) offer(ch chan core.Snapshot, snap core.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// SubscriberCount reports the number of observers for a job id.
func (h *Hub) SubscriberCount(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
