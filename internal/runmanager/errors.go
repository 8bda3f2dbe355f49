package runmanager

import (
	"errors"
	"fmt"
)

// RunManagerError is a typed error that can be inspected for proper HTTP
// status mapping.
type RunManagerError struct {
	Kind    ErrorKind
	RunID   string
	State   RunState
	Message string
	Cause   error
}

// ErrorKind categorizes the error for HTTP status mapping.
type ErrorKind int

const (
	ErrKindValidation ErrorKind = iota
	ErrKindConflict
	ErrKindNotFound
	ErrKindSpawn
	ErrKindInternal
)

func (e *RunManagerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RunManagerError) Unwrap() error {
	return e.Cause
}

// NewValidationError wraps a request validation failure.
func NewValidationError(cause error) *RunManagerError {
	return &RunManagerError{
		Kind:    ErrKindValidation,
		Message: "load test request validation failed",
		Cause:   cause,
	}
}

// NewConflictError reports a start attempt while another run is active.
func NewConflictError(runID string) *RunManagerError {
	return &RunManagerError{
		Kind:    ErrKindConflict,
		RunID:   runID,
		State:   RunStateRunning,
		Message: fmt.Sprintf("a load test is already running: %s", runID),
	}
}

// NewNotFoundError reports an operation against an absent or finished run.
func NewNotFoundError(operation string) *RunManagerError {
	return &RunManagerError{
		Kind:    ErrKindNotFound,
		Message: fmt.Sprintf("cannot %s: no active load test", operation),
	}
}

// NewSpawnError wraps a failure to launch the stressor process.
func NewSpawnError(runID string, cause error) *RunManagerError {
	return &RunManagerError{
		Kind:    ErrKindSpawn,
		RunID:   runID,
		State:   RunStateFailed,
		Message: "failed to launch stressor process",
		Cause:   cause,
	}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(cause error) *RunManagerError {
	return &RunManagerError{
		Kind:    ErrKindInternal,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// AsRunManagerError attempts to convert an error to a RunManagerError.
// Returns nil if not possible.
func AsRunManagerError(err error) *RunManagerError {
	var rmErr *RunManagerError
	if errors.As(err, &rmErr) {
		return rmErr
	}
	return nil
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	rmErr := AsRunManagerError(err)
	return rmErr != nil && rmErr.Kind == ErrKindConflict
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	rmErr := AsRunManagerError(err)
	return rmErr != nil && rmErr.Kind == ErrKindNotFound
}
