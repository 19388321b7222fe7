// Package types holds the data model shared by every component of the
// generation pipeline. It has zero dependencies on other pipeline packages
// so it can be imported everywhere without import cycles.
package types

import (
	"fmt"
	"time"
)

// ErrorCode is the unified, surfaced error taxonomy (spec §7). Internal
// failure classifications (transient/input/auth/unavailable, spec §4.1) are
// resolved into one of these before they leave the Provider Gateway.
type ErrorCode string

const (
	ErrBadRequest        ErrorCode = "BAD_REQUEST"
	ErrAuth              ErrorCode = "AUTH"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrTooManyInflight   ErrorCode = "TOO_MANY_INFLIGHT"
	ErrTransientProvider ErrorCode = "TRANSIENT_PROVIDER"
	ErrAllBackendsFailed ErrorCode = "ALL_BACKENDS_FAILED"
	ErrSchemaMismatch    ErrorCode = "SCHEMA_MISMATCH"
	ErrParseFailure      ErrorCode = "PARSE_FAILURE"
	ErrDegraded          ErrorCode = "DEGRADED"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrCanceled          ErrorCode = "CANCELED"
	ErrInternal          ErrorCode = "INTERNAL"
)

// Error is a structured error carrying the surfaced code, a human message,
// an optional HTTP-equivalent status for transport layers, a retryable
// flag, the backend that produced it (if any), and the wrapped cause.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	Backend    string        `json:"backend,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
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

// WithHTTPStatus sets the HTTP-equivalent status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithBackend sets the backend family that produced the error.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithRetryAfter attaches the duration a rate-limited caller should wait
// before resubmitting (spec §6, §8 scenario 6).
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// IsRetryable reports whether err is a *Error marked retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the ErrorCode from err, or "" if err is not a *Error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// ErrParseFailureDetail is returned by the Prompt Composer when a stage's
// raw text cannot be parsed into its typed value (spec §4.2). It carries
// the stage name and the raw reason separately from the generic Error so
// the Orchestrator can decide on a retry without string-matching.
type ErrParseFailureDetail struct {
	Stage  string
	Reason string
	Raw    string
}

func (e *ErrParseFailureDetail) Error() string {
	return fmt.Sprintf("parse failure in stage %q: %s", e.Stage, e.Reason)
}
