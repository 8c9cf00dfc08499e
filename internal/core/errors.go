package core

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrModelNotFound is returned when the registry has no entry for a model.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelBusy is returned at submission time when an active job already
	// targets the requested model.
	ErrModelBusy = errors.New("an active job already targets this model")

	// ErrVersionConflict is returned when an update presents a stale version.
	ErrVersionConflict = errors.New("job version conflict")

	// ErrProgressRegression is returned when a progress update carries a
	// value lower than the stored one. Duplicate deliveries from a requeued
	// worker surface here.
	ErrProgressRegression = errors.New("progress must not decrease")

	// ErrJobTerminal is returned when a mutation targets a job that already
	// reached a terminal status.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrIllegalTransition is returned for any status change outside the
	// state machine.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// ValidationError rejects a malformed submission before any job is created.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// TransientError marks a worker-side failure worth retrying, such as a lost
// lease or a flaky I/O path. The harness requeues the job up to its retry
// bound before escalating to failed.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError marks an unrecoverable task failure. The job fails immediately
// with no retry.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Fatal wraps err as unrecoverable.
func Fatal(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is classified retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is classified unrecoverable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
