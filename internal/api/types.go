package api

import (
	"github.com/perfbench/stressd/internal/runmanager"
	"github.com/perfbench/stressd/internal/stressor"
)

// StartTestResponse is returned when a load test is accepted.
type StartTestResponse struct {
	RunID   string           `json:"run_id"`
	State   string           `json:"state"`
	Request stressor.Request `json:"request"`
}

// StopTestResponse is returned when a stop request is accepted.
type StopTestResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// StatusResponse reports the tracked run, flattened into the envelope so
// run_id and request sit at the top level. An idle slot carries state only.
type StatusResponse struct {
	State        string            `json:"state"`
	RunID        string            `json:"run_id,omitempty"`
	Request      *stressor.Request `json:"request,omitempty"`
	StartedAtMs  int64             `json:"started_at_ms,omitempty"`
	FinishedAtMs int64             `json:"finished_at_ms,omitempty"`
	ExitCode     *int              `json:"exit_code,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ResetResponse is returned after clearing a finished run.
type ResetResponse struct {
	State string `json:"state"`
}

// EventsResponse is the envelope for the event tail endpoint.
type EventsResponse struct {
	RunID  string                `json:"run_id"`
	Events []runmanager.RunEvent `json:"events"`
	Count  int                   `json:"count"`
}

// HealthResponse is the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness probe response.
type ReadyResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	ErrorType    string                 `json:"error_type"`
	ErrorCode    string                 `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	Retryable    bool                   `json:"retryable"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// ErrorType constants for API errors.
const (
	ErrorTypeInvalidArgument = "invalid_argument"
	ErrorTypeNotFound        = "not_found"
	ErrorTypeRateLimited     = "rate_limited"
	ErrorTypeConflict        = "conflict"
	ErrorTypeInternal        = "internal"
	ErrorTypeUnavailable     = "unavailable"
)

// ErrorCode constants for specific error conditions.
const (
	ErrorCodeValidationFailed  = "VALIDATION_FAILED"
	ErrorCodeTestAlreadyActive = "TEST_ALREADY_ACTIVE"
	ErrorCodeNoActiveTest      = "NO_ACTIVE_TEST"
	ErrorCodeSpawnFailed       = "SPAWN_FAILED"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
	ErrorCodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	ErrorCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// NewErrorResponse creates a new ErrorResponse.
func NewErrorResponse(errorType, errorCode, message string, retryable bool, details map[string]interface{}) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    errorType,
		ErrorCode:    errorCode,
		ErrorMessage: message,
		Retryable:    retryable,
		Details:      details,
	}
}

// NewValidationErrorResponse creates an error response for request validation failures.
func NewValidationErrorResponse(message string, details map[string]interface{}) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    ErrorCodeValidationFailed,
		ErrorMessage: message,
		Retryable:    false,
		Details:      details,
	}
}

// NewConflictErrorResponse creates an error response for starting over an active run.
func NewConflictErrorResponse(runID string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeConflict,
		ErrorCode:    ErrorCodeTestAlreadyActive,
		ErrorMessage: "A load test is already running",
		Retryable:    true,
		Details: map[string]interface{}{
			"run_id": runID,
		},
	}
}

// NewNoActiveTestErrorResponse creates an error response for operations requiring an active run.
func NewNoActiveTestErrorResponse(operation string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeNotFound,
		ErrorCode:    ErrorCodeNoActiveTest,
		ErrorMessage: "No active load test",
		Retryable:    false,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewSpawnErrorResponse creates an error response for stressor launch failures.
func NewSpawnErrorResponse(runID, message string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeInternal,
		ErrorCode:    ErrorCodeSpawnFailed,
		ErrorMessage: message,
		Retryable:    false,
		Details: map[string]interface{}{
			"run_id": runID,
		},
	}
}

// NewInternalErrorResponse creates an error response for unexpected errors.
func NewInternalErrorResponse(message string) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeInternal,
		ErrorCode:    ErrorCodeInternalError,
		ErrorMessage: message,
		Retryable:    true,
	}
}

// NewInvalidRequestErrorResponse creates an error response for malformed requests.
func NewInvalidRequestErrorResponse(message string, details map[string]interface{}) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    ErrorCodeValidationFailed,
		ErrorMessage: message,
		Retryable:    false,
		Details:      details,
	}
}
