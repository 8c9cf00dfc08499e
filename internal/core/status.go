package core

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// validTransitions is the single authority on status changes. Terminal
// states have no successors.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether a job in this status still holds its model
// target. Used by the submission-time conflict check.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Valid reports whether the value names a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}
