package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the library.
type ErrorCode string

// Retrieval error codes. Soft codes are recoverable: the caller degrades to
// the other retrieval source instead of failing the query.
const (
	ErrIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"
	ErrGraphUnavailable ErrorCode = "GRAPH_UNAVAILABLE"
	ErrJudgeParseError  ErrorCode = "JUDGE_PARSE_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
)

// Configuration error codes. These are programming or setup errors and are
// surfaced immediately to the caller, never retried.
const (
	ErrDimensionMismatch   ErrorCode = "DIMENSION_MISMATCH"
	ErrMalformedGraphQuery ErrorCode = "MALFORMED_GRAPH_QUERY"
	ErrInvalidConfig       ErrorCode = "INVALID_CONFIG"
)

// Collaborator error codes
const (
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component,omitempty"`
	Cause     error     `json:"-"`
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

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent sets the component name that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
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

// IsSoft reports whether the error is a soft retrieval failure that the
// retrieval pipeline can absorb by degrading to the other source.
func IsSoft(err error) bool {
	switch GetErrorCode(err) {
	case ErrIndexUnavailable, ErrGraphUnavailable, ErrJudgeParseError, ErrTimeout, ErrProviderUnavailable:
		return true
	}
	return false
}

// IsFatal reports whether the error indicates a configuration or programming
// error that must abort the query.
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrDimensionMismatch, ErrMalformedGraphQuery, ErrInvalidConfig:
		return true
	}
	return false
}
