package storage

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
)

// InMemoryJobStore keeps jobs in a map guarded by a RWMutex. Concurrent
// readers always see the latest committed snapshot; writers go through the
// same transition checks as the Postgres store.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*core.Job
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs: make(map[uuid.UUID]*core.Job),
	}
}

func (s *InMemoryJobStore) CreateJob(job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *InMemoryJobStore) GetJob(id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *InMemoryJobStore) ListJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*core.Job
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.ModelID != "" && job.ModelID != filter.ModelID {
			continue
		}
		copied := *job
		matched = append(matched, &copied)
	}

	// Newest first, for stable pagination.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

// UpdateJob commits the record under optimistic concurrency and state
// machine rules. The version check makes the leasing worker the only
// effective writer: a duplicate worker holding a stale read loses here.
func (s *InMemoryJobStore) UpdateJob(job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.jobs[job.ID]
	if !exists {
		return core.ErrJobNotFound
	}
	if stored.Version != job.Version {
		return core.ErrVersionConflict
	}
	if stored.Status.IsTerminal() {
		return core.ErrJobTerminal
	}
	if job.Status != stored.Status && !core.CanTransition(stored.Status, job.Status) {
		return core.ErrIllegalTransition
	}
	if stored.Status == core.JobStatusRunning && job.Status == core.JobStatusRunning &&
		job.Progress < stored.Progress {
		return core.ErrProgressRegression
	}

	committed := *job
	committed.Version = stored.Version + 1
	// The flag is owned by RequestCancel; a worker write must not clear it.
	committed.CancelRequested = committed.CancelRequested || stored.CancelRequested
	s.jobs[job.ID] = &committed
	job.Version = committed.Version
	return nil
}

func (s *InMemoryJobStore) RequestCancel(id uuid.UUID) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrJobNotFound
	}
	if !stored.Status.IsTerminal() {
		stored.CancelRequested = true
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemoryJobStore) HasActiveJobForModel(modelID string) (bool, error) {
	if modelID == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.ModelID == modelID && job.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}
