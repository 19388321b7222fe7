// Package llm implements the Provider Gateway (spec §4.1): a unified
// interface over heterogeneous LLM backends with failover, retry, timeout
// discipline, and token accounting.
package llm

import (
	"context"
	"time"

	"github.com/inkforge/pipeline/types"
)

// FailureClass is the Provider Gateway's internal failure classification
// (spec §4.1), resolved from a backend-specific error before the gateway
// decides whether to retry, fail over, or surface the error.
type FailureClass int

const (
	// ClassTransient covers timeouts, connection resets, 5xx, and
	// documented rate-limit responses — retriable with backoff.
	ClassTransient FailureClass = iota
	// ClassInput covers 4xx (other than rate-limit) and content-policy
	// rejections — non-retriable, surfaces as ErrBadRequest.
	ClassInput
	// ClassAuth covers missing/invalid credentials — non-retriable,
	// surfaces as ErrAuth.
	ClassAuth
)

// BackendError is the error type every Backend implementation must return
// so the gateway can classify the failure without string-matching.
type BackendError struct {
	Class   FailureClass
	Backend string
	Err     error
}

func (e *BackendError) Error() string { return e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

// Request is a single GenerateText call (spec §4.1).
type Request struct {
	Messages        []types.Message
	MaxOutputTokens int
	Temperature     float64
	ModelOverride   string
	Deadline        time.Time
	IdempotencyKey  string

	// RequireJSON asks the backend for JSON mode when it supports one.
	// Schema is the fingerprint the gateway validates the response
	// against when the backend has no native JSON mode, or as a
	// belt-and-braces check when it does.
	RequireJSON bool
	Schema      *types.JSONSchema
}

// Response is the result of one successful backend attempt.
type Response struct {
	Text  string
	Usage types.TokenUsage
	Model string
}

// Backend is the capability every LLM provider family implements. The
// gateway is polymorphic over this single interface; all failover and
// retry logic lives above it, never inside an implementation.
type Backend interface {
	// Name returns the backend's unique identifier ("anthropic", "openai", "gemini", ...).
	Name() string
	// SupportsJSONMode reports whether the backend has a native
	// structured-output mode the gateway can request.
	SupportsJSONMode() bool
	// GenerateText executes one synchronous completion request. ctx
	// carries the per-attempt deadline computed by the gateway.
	GenerateText(ctx context.Context, req Request) (Response, error)
}
