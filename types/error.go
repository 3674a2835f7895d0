package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the sandbox.
type ErrorCode string

// Validation error codes. These are resolved locally, before any side effect.
const (
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrQuoting      ErrorCode = "QUOTING"
	ErrSchemaCycle  ErrorCode = "SCHEMA_CYCLE"
	ErrSchema       ErrorCode = "SCHEMA_VALIDATION"
)

// Policy error codes.
const (
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCommandBlocked   ErrorCode = "COMMAND_BLOCKED"
	ErrSSRFBlocked      ErrorCode = "SSRF_BLOCKED"
)

// Execution and upstream error codes.
const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrSyntax            ErrorCode = "SYNTAX_ERROR"
	ErrRuntime           ErrorCode = "RUNTIME_ERROR"
	ErrUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrSessionLimit      ErrorCode = "SESSION_LIMIT"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
// Every public sandbox operation returns one of these rather than an
// unrecoverable fault, so the calling agent loop can branch on Code to
// decide retry/replan policy.
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
