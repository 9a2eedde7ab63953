package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Orchestration error codes
const (
	ErrValidation      ErrorCode = "VALIDATION_ERROR"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrConflict        ErrorCode = "CONFLICT"
	ErrExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrNoActiveAgents  ErrorCode = "NO_ACTIVE_AGENTS"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewValidationError reports a request that was rejected before anything was persisted.
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...)).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError reports an unknown agent, connection, document, run or step.
func NewNotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %q not found", kind, id)).WithHTTPStatus(http.StatusNotFound)
}

// NewConflictError reports a request that clashes with current state.
func NewConflictError(format string, args ...any) *Error {
	return NewError(ErrConflict, fmt.Sprintf(format, args...)).WithHTTPStatus(http.StatusConflict)
}

// NewExternalServiceError wraps a failure of the agent executor or the queue broker.
func NewExternalServiceError(service string, cause error) *Error {
	return NewError(ErrExternalService, fmt.Sprintf("%s call failed", service)).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

// NewTimeoutError describes work abandoned by the cleanup sweep.
func NewTimeoutError(message string) *Error {
	return NewError(ErrTimeout, message).WithHTTPStatus(http.StatusGatewayTimeout)
}

// NewNoActiveAgentsError is returned when a run is requested against an empty pipeline.
func NewNoActiveAgentsError() *Error {
	return NewError(ErrNoActiveAgents, "no active agents configured").WithHTTPStatus(http.StatusBadRequest)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternalError, message).WithCause(cause).WithHTTPStatus(http.StatusInternalServerError)
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
