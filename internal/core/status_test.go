package core

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusCancelled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusPending, JobStatusFailed, false},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusCancelled, JobStatusPending, false},
		{JobStatusCancelled, JobStatusRunning, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	active := []JobStatus{JobStatusPending, JobStatusRunning}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("Expected %s not to be terminal", s)
		}
		if !s.IsActive() {
			t.Errorf("Expected %s to be active", s)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !s.Valid() {
			t.Errorf("Expected %s to be valid", s)
		}
	}
	if JobStatus("paused").Valid() {
		t.Error("Expected unknown status to be invalid")
	}
}
