package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/inkforge/pipeline/internal/ctxkeys"
	"github.com/inkforge/pipeline/llm/circuitbreaker"
	"github.com/inkforge/pipeline/llm/retry"
	"github.com/inkforge/pipeline/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// EventRecorder is the Gateway's narrow view of the Conversation Log: it
// only needs to append provider_call events (spec §4.1), never to read
// them back. Kept as an interface so this package never imports convlog.
type EventRecorder interface {
	RecordProviderCall(ctx context.Context, conversationID string, payload types.ProviderCallPayload)
}

// MetricsRecorder is the Gateway's narrow view of internal/metrics.Collector,
// kept as an interface so this package never imports internal/metrics.
type MetricsRecorder interface {
	RecordProviderCall(backend, model, status string, duration time.Duration, promptTokens, completionTokens int)
	SetGlobalInflight(n int)
}

// MaxAttempts bounds total cross-backend attempts per call, regardless of
// how many backends are registered (spec §4.1).
const MaxAttempts = 3

// defaultAttemptCap is the per-attempt timeout ceiling before it is further
// divided by the remaining attempt budget.
const defaultAttemptCap = 5 * time.Second

// Gateway is the Provider Gateway (spec §4.1): a single GenerateText
// operation that fans a request out across backends in preference order,
// retrying transient failures with backoff and failing over to the next
// backend, while a per-backend circuit breaker skips unhealthy backends
// outright.
type Gateway struct {
	registry *Registry
	policy   *retry.Policy
	logger   *zap.Logger
	recorder EventRecorder
	metrics  MetricsRecorder
	global   *semaphore.Weighted
	inflight int64

	breakers map[string]circuitbreaker.CircuitBreaker
}

// DefaultGlobalInflight is the system-wide cap on concurrent in-flight
// provider calls across every job (spec §5 back-pressure: "default 64").
const DefaultGlobalInflight = 64

// NewGateway builds a Gateway over registry. policy defaults to
// retry.DefaultPolicy when nil. breakerConfig defaults to
// circuitbreaker.DefaultConfig when nil and is shared as a template across
// one breaker instance per registered backend.
func NewGateway(registry *Registry, policy *retry.Policy, breakerConfig *circuitbreaker.Config, logger *zap.Logger) *Gateway {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breakers := make(map[string]circuitbreaker.CircuitBreaker, registry.Len())
	for _, name := range registry.Names() {
		cfg := *breakerConfigOrDefault(breakerConfig)
		breakers[name] = circuitbreaker.NewCircuitBreaker(&cfg, logger.Named("breaker." + name))
	}

	return &Gateway{
		registry: registry,
		policy:   policy,
		logger:   logger,
		breakers: breakers,
		global:   semaphore.NewWeighted(DefaultGlobalInflight),
	}
}

// SetGlobalInflightLimit replaces the system-wide concurrent-call cap
// (spec §5 back-pressure). Call before serving traffic; changing it
// concurrently with in-flight calls only affects calls that start after
// the swap.
func (g *Gateway) SetGlobalInflightLimit(n int64) {
	g.global = semaphore.NewWeighted(n)
}

// contextLogger returns g.logger annotated with meta's job id and stage and
// with the subject the Orchestrator attached to ctx via internal/ctxkeys,
// so call-level log lines carry job/subject correlation without every call
// site building those fields by hand.
func (g *Gateway) contextLogger(ctx context.Context, meta CallMeta) *zap.Logger {
	logger := g.logger.With(zap.String("job_id", meta.JobID), zap.String("stage", meta.Stage))
	if subject, ok := ctxkeys.Subject(ctx); ok {
		logger = logger.With(zap.String("subject", subject))
	}
	return logger
}

// adjustInflight updates the in-flight call counter by delta and reports
// the new value to the metrics sink, if any.
func (g *Gateway) adjustInflight(delta int64) {
	n := atomic.AddInt64(&g.inflight, delta)
	if g.metrics != nil {
		g.metrics.SetGlobalInflight(int(n))
	}
}

func breakerConfigOrDefault(cfg *circuitbreaker.Config) *circuitbreaker.Config {
	if cfg != nil {
		return cfg
	}
	return circuitbreaker.DefaultConfig()
}

// SetEventRecorder attaches the Conversation Log sink. Optional; a Gateway
// with no recorder simply doesn't emit provider_call events.
func (g *Gateway) SetEventRecorder(r EventRecorder) {
	g.recorder = r
}

// SetMetricsRecorder attaches the metrics sink. Optional; a Gateway with
// no recorder simply doesn't record provider-call or in-flight metrics.
func (g *Gateway) SetMetricsRecorder(m MetricsRecorder) {
	g.metrics = m
}

// breakerFor returns the circuit breaker for backend, lazily creating one
// with defaults if the backend was registered after NewGateway ran.
func (g *Gateway) breakerFor(name string) circuitbreaker.CircuitBreaker {
	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), g.logger.Named("breaker."+name))
	g.breakers[name] = b
	return b
}

// CallMeta carries labels used for logging and conversation-log events, not
// part of the wire request. ConversationID is the Conversation Log key the
// resulting provider_call event is appended under.
type CallMeta struct {
	ConversationID string
	JobID          string
	Stage          string
}

// GenerateText implements the Gateway's single operation (spec §4.1):
// unified text generation with failover, retry, per-attempt deadlines, and
// token accounting. ctx's deadline, if any, bounds the whole call; req's
// own Deadline (if set) is honored as a tighter ceiling.
func (g *Gateway) GenerateText(ctx context.Context, req Request, meta CallMeta) (Response, error) {
	callLogger := g.contextLogger(ctx, meta)

	if g.global != nil {
		if err := g.global.Acquire(ctx, 1); err != nil {
			return Response{}, types.NewError(types.ErrTimeout, "in-flight cap wait exceeded the caller's context").WithCause(err)
		}
		defer g.global.Release(1)
		g.adjustInflight(1)
		defer g.adjustInflight(-1)
	}

	deadline, ok := g.effectiveDeadline(ctx, req)
	if ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	backends := g.registry.Ordered()
	if len(backends) == 0 {
		return Response{}, types.NewError(types.ErrAllBackendsFailed, "no backends registered")
	}

	lastErrors := make(map[string]error, len(backends))
	attempt := 0

	for _, backend := range backends {
		if attempt >= MaxAttempts {
			break
		}
		attempt++

		breaker := g.breakerFor(backend.Name())
		if breaker.State() == circuitbreaker.StateOpen {
			lastErrors[backend.Name()] = fmt.Errorf("circuit breaker open")
			continue
		}

		attemptCtx, cancel := g.attemptContext(ctx, attempt)
		started := time.Now()
		resp, err := g.callOnce(attemptCtx, breaker, backend, req)
		cancel()

		elapsed := time.Since(started)
		if g.recorder != nil {
			g.recorder.RecordProviderCall(ctx, meta.ConversationID, types.ProviderCallPayload{
				JobID:      meta.JobID,
				Stage:      meta.Stage,
				Backend:    backend.Name(),
				Model:      resp.Model,
				Attempt:    attempt,
				Usage:      resp.Usage,
				DurationMS: elapsed.Milliseconds(),
			})
		}
		if g.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			g.metrics.RecordProviderCall(backend.Name(), resp.Model, status, elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		if err == nil {
			if req.RequireJSON && req.Schema != nil {
				if verr := req.Schema.Validate([]byte(resp.Text)); verr != nil {
					return Response{}, types.NewError(types.ErrSchemaMismatch, verr.Error()).
						WithBackend(backend.Name()).WithCause(verr)
				}
			}
			callLogger.Debug("provider call succeeded",
				zap.String("backend", backend.Name()), zap.Int("attempt", attempt), zap.Duration("elapsed", elapsed))
			return resp, nil
		}
		callLogger.Warn("provider call attempt failed",
			zap.String("backend", backend.Name()), zap.Int("attempt", attempt), zap.Error(err))

		var backendErr *BackendError
		if !asBackendError(err, &backendErr) {
			lastErrors[backend.Name()] = err
			continue
		}
		lastErrors[backend.Name()] = backendErr

		switch backendErr.Class {
		case ClassInput:
			return Response{}, types.NewError(types.ErrBadRequest, backendErr.Error()).
				WithBackend(backend.Name()).WithCause(backendErr.Err)
		case ClassAuth:
			return Response{}, types.NewError(types.ErrAuth, backendErr.Error()).
				WithBackend(backend.Name()).WithCause(backendErr.Err)
		case ClassTransient:
			if attempt < MaxAttempts {
				select {
				case <-ctx.Done():
					return Response{}, g.allFailedError(lastErrors, ctx.Err())
				case <-time.After(retry.Delay(g.policy, attempt)):
				}
			}
		}
	}

	return Response{}, g.allFailedError(lastErrors, nil)
}

// callOnce runs a single backend attempt through its circuit breaker.
func (g *Gateway) callOnce(ctx context.Context, breaker circuitbreaker.CircuitBreaker, backend Backend, req Request) (Response, error) {
	result, err := breaker.CallWithResult(ctx, func() (any, error) {
		return backend.GenerateText(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	resp, _ := result.(Response)
	return resp, nil
}

// attemptContext derives the per-attempt deadline: min(5s, remaining
// deadline / remaining attempts), per spec §4.1's timeout discipline.
func (g *Gateway) attemptContext(ctx context.Context, attempt int) (context.Context, context.CancelFunc) {
	budget := defaultAttemptCap
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		remainingAttempts := MaxAttempts - attempt + 1
		if remainingAttempts < 1 {
			remainingAttempts = 1
		}
		share := remaining / time.Duration(remainingAttempts)
		if share < budget {
			budget = share
		}
	}
	if budget <= 0 {
		budget = time.Millisecond
	}
	return context.WithTimeout(ctx, budget)
}

// effectiveDeadline picks the tighter of ctx's existing deadline and
// req.Deadline, if either is set.
func (g *Gateway) effectiveDeadline(ctx context.Context, req Request) (time.Time, bool) {
	ctxDeadline, ctxOK := ctx.Deadline()
	if req.Deadline.IsZero() {
		return ctxDeadline, ctxOK
	}
	if !ctxOK || req.Deadline.Before(ctxDeadline) {
		return req.Deadline, true
	}
	return ctxDeadline, ctxOK
}

func (g *Gateway) allFailedError(lastErrors map[string]error, cause error) error {
	detail := make(map[string]string, len(lastErrors))
	for backend, err := range lastErrors {
		detail[backend] = err.Error()
	}
	e := types.NewError(types.ErrAllBackendsFailed, fmt.Sprintf("all backends failed: %v", detail))
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// asBackendError is errors.As spelled out for *BackendError, kept local so
// callers don't need to import errors just for this one check.
func asBackendError(err error, target **BackendError) bool {
	for err != nil {
		if be, ok := err.(*BackendError); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
