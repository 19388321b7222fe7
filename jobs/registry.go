// Package jobs implements the Job Registry (spec §4.6): job lifecycle
// tracking, idempotency, and cancellation token propagation. Grounded on
// the teacher's agent/skills/registry.go Registry: a sync.RWMutex-guarded
// map with reader methods using RLock and mutation methods using Lock,
// generalized from skill registration to job lifecycle transitions.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/inkforge/pipeline/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// entry is the registry's internal record. The cancellation func and
// context never leave the package; callers only ever see a Snapshot.
type entry struct {
	job    types.Job
	cancel context.CancelFunc
	ctx    context.Context
}

// Observer receives job lifecycle notifications, letting a metrics sink
// track submission counts, queue depth, and terminal durations without
// this package importing internal/metrics.
type Observer interface {
	JobCreated(kind types.ArtifactKind)
	JobFinished(kind types.ArtifactKind, state types.JobState, duration time.Duration)
}

// Registry is the Job Registry: Create/Start/Cancel/Get/List plus the
// idempotency and in-flight-count queries the Rate Limiter depends on
// (ratelimit.InflightCounter).
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*entry
	byIdemp  map[string]string // (subject, idempotency_key) -> job id, non-terminal jobs only
	logger   *zap.Logger
	observer Observer
}

// SetObserver attaches a lifecycle observer. Optional; a Registry with no
// observer simply doesn't report job metrics.
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// NewRegistry creates an empty Job Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:    make(map[string]*entry),
		byIdemp: make(map[string]string),
		logger:  logger.With(zap.String("component", "job_registry")),
	}
}

func idempKey(subject, idempotencyKey string) string {
	return subject + "|" + idempotencyKey
}

// Create allocates a new job in state queued. If spec carries a non-empty
// idempotency key and a non-terminal job already exists for (subject,
// idempotency key), that job is returned instead of a new one (spec
// §4.6: "idempotency keyed on (subject, idempotency-key), matching only
// non-terminal jobs").
func (r *Registry) Create(ctx context.Context, subject string, kind types.ArtifactKind, conversationID, idempotencyKey string, article *types.ArticleSpec, book *types.BookSpec) (types.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idempotencyKey != "" {
		key := idempKey(subject, idempotencyKey)
		if existingID, ok := r.byIdemp[key]; ok {
			if e, ok := r.jobs[existingID]; ok && !e.job.State.IsTerminal() {
				return types.Snapshot{Job: e.job}, nil
			}
			delete(r.byIdemp, key)
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := types.Job{
		ID:             uuid.New().String(),
		Subject:        subject,
		ConversationID: conversationID,
		Kind:           kind,
		ArticleSpec:    article,
		BookSpec:       book,
		State:          types.JobQueued,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}
	r.jobs[job.ID] = &entry{job: job, cancel: cancel, ctx: jobCtx}
	if idempotencyKey != "" {
		r.byIdemp[idempKey(subject, idempotencyKey)] = job.ID
	}

	r.logger.Info("job created", zap.String("job_id", job.ID), zap.String("subject", subject), zap.String("kind", string(kind)))
	if r.observer != nil {
		r.observer.JobCreated(kind)
	}
	return types.Snapshot{Job: job}, nil
}

// Start transitions a queued job to running. Returns false if the job is
// missing or not in state queued.
func (r *Registry) Start(jobID string) (types.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobID]
	if !ok || e.job.State != types.JobQueued {
		return types.Snapshot{}, false
	}
	e.job.State = types.JobRunning
	return types.Snapshot{Job: e.job}, true
}

// Context returns the job's cancellation-aware context, or (nil, false)
// if the job is unknown. The Orchestrator derives its per-stage contexts
// from this one so Cancel propagates everywhere.
func (r *Registry) Context(jobID string) (context.Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Finish records a terminal outcome: success with an artifact, or
// failure/cancellation with err. Idempotent — finishing an
// already-terminal job is a no-op.
func (r *Registry) Finish(jobID string, state types.JobState, article *types.Article, book *types.Book, tokens types.TokenUsage, finishErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobID]
	if !ok || e.job.State.IsTerminal() {
		return
	}
	e.job.State = state
	e.job.TerminalAt = time.Now()
	e.job.Article = article
	e.job.Book = book
	e.job.TokensUsed = tokens
	if finishErr != nil {
		if te, ok := finishErr.(*types.Error); ok {
			e.job.Err = te
		} else {
			e.job.Err = types.NewError(types.ErrInternal, finishErr.Error())
		}
	}
	if e.job.IdempotencyKey != "" {
		delete(r.byIdemp, idempKey(e.job.Subject, e.job.IdempotencyKey))
	}
	e.cancel()

	r.logger.Info("job finished", zap.String("job_id", jobID), zap.String("state", string(state)))
	if r.observer != nil {
		r.observer.JobFinished(e.job.Kind, state, e.job.TerminalAt.Sub(e.job.CreatedAt))
	}
}

// Cancel requests cancellation of jobID's context. Idempotent; returns
// false only if the job is unknown. Cancellation is cooperative: the
// job transitions to canceled once the Orchestrator observes ctx.Done
// and calls Finish, not immediately here.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.RLock()
	e, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Get returns a point-in-time snapshot of jobID.
func (r *Registry) Get(jobID string) (types.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[jobID]
	if !ok {
		return types.Snapshot{}, false
	}
	return types.Snapshot{Job: e.job}, true
}

// List returns every job belonging to subject, most recently created
// first.
func (r *Registry) List(subject string) []types.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Snapshot, 0)
	for _, e := range r.jobs {
		if e.job.Subject == subject {
			out = append(out, types.Snapshot{Job: e.job})
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// InflightCount implements ratelimit.InflightCounter: the number of
// subject's jobs that have not yet reached a terminal state.
func (r *Registry) InflightCount(subject string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.jobs {
		if e.job.Subject == subject && !e.job.State.IsTerminal() {
			count++
		}
	}
	return count
}
