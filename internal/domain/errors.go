// Package domain defines core types, interfaces, and errors for the query cache service.
package domain

import (
	"errors"
	"fmt"
)

// ErrSchedulerClosed is returned when work is submitted after shutdown began.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// NotFoundError indicates a job, object, or file was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// DuplicateKeyError indicates an insert collided with an existing primary key.
type DuplicateKeyError struct {
	Message string
}

func (e *DuplicateKeyError) Error() string { return e.Message }

// InvalidTransitionError indicates a job state machine violation. Seeing one
// means a caller tried to move a job out of a terminal state.
type InvalidTransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %q: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// NotReadyError indicates a job exists but has not finished yet.
type NotReadyError struct {
	JobID string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job %q is not ready", e.JobID)
}

// JobFailedError carries the stored error detail of a failed job.
type JobFailedError struct {
	JobID  string
	Detail string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %q failed: %s", e.JobID, e.Detail)
}

// CacheInconsistencyError indicates the registry references an object the
// store no longer has. Callers recover by re-executing.
type CacheInconsistencyError struct {
	Key string
}

func (e *CacheInconsistencyError) Error() string {
	return fmt.Sprintf("cached result %q is missing from the object store", e.Key)
}

// ExecutionError wraps a failure reported by the query engine.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "query execution failed: " + e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// StoreWriteError wraps a failure to persist a result object.
type StoreWriteError struct {
	Key string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %q failed: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// CapacityExceededError indicates the scheduler admission queue is full.
type CapacityExceededError struct {
	QueueSize int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("execution queue is full (capacity %d)", e.QueueSize)
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrDuplicateKey creates a DuplicateKeyError with a formatted message.
func ErrDuplicateKey(format string, args ...interface{}) *DuplicateKeyError {
	return &DuplicateKeyError{Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
