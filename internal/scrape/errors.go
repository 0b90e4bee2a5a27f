package scrape

import (
	"errors"
	"fmt"
)

// ErrQueueEmpty signals that no task became available within the pop timeout.
// It is the normal stop condition for a worker, not a failure.
var ErrQueueEmpty = errors.New("task queue empty")

// FaultError marks a failure of the worker's execution environment itself.
// Workers never recover from it; the supervisor replaces the whole unit.
type FaultError struct {
	// Task is the in-flight task lost with the worker, if any.
	Task Task
	Err  error
}

// NewFault wraps err as a worker fault.
func NewFault(err error) *FaultError {
	return &FaultError{Err: err}
}

func (e *FaultError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("worker fault on %s: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("worker fault: %v", e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// IsFault reports whether err is, or wraps, a FaultError.
func IsFault(err error) bool {
	var fault *FaultError
	return errors.As(err, &fault)
}

// AsFault extracts the FaultError from err.
func AsFault(err error) (*FaultError, bool) {
	var fault *FaultError
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}
