// Package orchestrator implements the Pipeline Orchestrator (spec §4.3):
// the article and book stage graphs, bounded fan-out, progress/stage
// events, cancellation propagation, and whole-job deadline enforcement.
// It is the one component that wires the Provider Gateway, the Prompt
// Composer, the Conversation Log, and the Job Registry together.
//
// Bounded worker pools are golang.org/x/sync/errgroup with SetLimit,
// grounded on the teacher's agent/guardrails/chain.go parallel-validator
// pattern: an indexed results slice filled by goroutines under a shared
// errgroup so the gather is deterministic regardless of completion order.
package orchestrator

import (
	"context"
	"time"

	"github.com/inkforge/pipeline/convlog"
	"github.com/inkforge/pipeline/internal/ctxkeys"
	"github.com/inkforge/pipeline/jobs"
	"github.com/inkforge/pipeline/llm"
	"github.com/inkforge/pipeline/types"
	"go.uber.org/zap"
)

// DegradedBodyPlaceholder is substituted for a subtopic/topic body that
// failed generation after every gateway retry (spec §4.3 item 3).
const DegradedBodyPlaceholder = "[content unavailable: generation failed after retries]"

// SuccessFloor is the minimum fraction of subtopics/topics that must
// succeed for a job to complete rather than fail with ErrDegraded (spec
// §4.3 item 3: "75%").
const SuccessFloor = 0.75

// Defaults for concurrency bounds and job deadlines (spec §4.3, §5).
const (
	DefaultMaxParallelSections = 4
	DefaultMaxParallelChapters = 2
	DefaultArticleDeadline     = 180 * time.Second
	DefaultBookDeadline        = 900 * time.Second
	DefaultGracePeriod         = 2 * time.Second
)

// Config tunes concurrency bounds and deadlines. Zero values fall back to
// spec defaults.
type Config struct {
	MaxParallelSections int
	MaxParallelChapters int
	ArticleDeadline     time.Duration
	BookDeadline        time.Duration
	GracePeriod         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParallelSections <= 0 {
		c.MaxParallelSections = DefaultMaxParallelSections
	}
	if c.MaxParallelChapters <= 0 {
		c.MaxParallelChapters = DefaultMaxParallelChapters
	}
	if c.ArticleDeadline <= 0 {
		c.ArticleDeadline = DefaultArticleDeadline
	}
	if c.BookDeadline <= 0 {
		c.BookDeadline = DefaultBookDeadline
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// ResearchResult is one item the ResearchSource capability returns.
type ResearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// ResearchSource is the outbound capability interface for optional
// research (spec §6). Declared here as a narrow interface, not imported
// from package research, so orchestrator never depends on a specific
// implementation; research.Source (or a stub) satisfies it.
type ResearchSource interface {
	Search(ctx context.Context, query string, maxResults int) ([]ResearchResult, error)
}

// Orchestrator runs article and book jobs end to end.
type Orchestrator struct {
	gateway  *llm.Gateway
	log      *convlog.Log
	registry *jobs.Registry
	research ResearchSource
	cfg      Config
	logger   *zap.Logger
}

// New creates an Orchestrator. research may be nil; jobs requesting
// research then proceed with an empty research block and a warning
// event, matching the non-fatal-research rule (spec §4.3 item 1).
func New(gateway *llm.Gateway, log *convlog.Log, registry *jobs.Registry, research ResearchSource, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gateway:  gateway,
		log:      log,
		registry: registry,
		research: research,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// Run drives jobID to completion: it loads the job from the registry,
// marks it running, executes the appropriate graph under a whole-job
// deadline layered on the registry's cancellation context, and records
// the terminal outcome via registry.Finish. Run blocks until the job
// reaches a terminal state; callers typically invoke it in its own
// goroutine right after SubmitArticleJob/SubmitBookJob.
func (o *Orchestrator) Run(jobID string) {
	snap, ok := o.registry.Get(jobID)
	if !ok {
		o.logger.Error("orchestrator: run called for unknown job", zap.String("job_id", jobID))
		return
	}
	jobCtx, ok := o.registry.Context(jobID)
	if !ok {
		o.logger.Error("orchestrator: no context for job", zap.String("job_id", jobID))
		return
	}
	if _, ok := o.registry.Start(jobID); !ok {
		return
	}

	deadline := o.cfg.ArticleDeadline
	if snap.Kind == types.KindBook {
		deadline = o.cfg.BookDeadline
	}
	ctx, cancel := context.WithTimeout(jobCtx, deadline)
	defer cancel()
	ctx = ctxkeys.WithJobID(ctx, jobID)
	ctx = ctxkeys.WithSubject(ctx, snap.Subject)
	ctx = ctxkeys.WithConversationID(ctx, snap.ConversationID)

	run := &jobRun{
		o:              o,
		ctx:            ctx,
		jobID:          jobID,
		conversationID: snap.ConversationID,
	}

	var (
		article *types.Article
		book    *types.Book
		err     error
	)
	if snap.Kind == types.KindBook {
		book, err = run.runBook(snap.BookSpec)
	} else {
		article, err = run.runArticle(snap.ArticleSpec)
	}

	// A stage failure caused by the job's own deadline or an explicit
	// Cancel always classifies as ErrTimeout/ErrCanceled, regardless of
	// which specific gateway error the stage that lost the race surfaced
	// (spec §5: "Exceeding the deadline is a cancellation with reason
	// ErrTimeout").
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			err = types.NewError(types.ErrTimeout, "job deadline exceeded").WithCause(err)
		case context.Canceled:
			err = types.NewError(types.ErrCanceled, "job canceled").WithCause(err)
		}
	}

	o.finish(jobID, run.conversationID, article, book, run.tokens, err)
}

func (o *Orchestrator) finish(jobID, conversationID string, article *types.Article, book *types.Book, tokens types.TokenUsage, err error) {
	if err == nil {
		o.registry.Finish(jobID, types.JobSucceeded, article, book, tokens, nil)
		payload := map[string]any{"job_id": jobID}
		if article != nil {
			payload["artifact"] = article
		} else {
			payload["artifact"] = book
		}
		o.appendEvent(conversationID, types.EventFinalArtifact, payload)
		return
	}

	state := types.JobFailed
	code := types.GetErrorCode(err)
	if code == types.ErrTimeout || code == types.ErrCanceled {
		state = types.JobCanceled
		o.appendEvent(conversationID, types.EventCanceled, map[string]any{"job_id": jobID, "reason": err.Error()})
	}
	o.registry.Finish(jobID, state, nil, nil, tokens, err)
}

func (o *Orchestrator) appendEvent(conversationID string, kind types.EventKind, payload map[string]any) {
	if o.log == nil {
		return
	}
	o.log.Append(context.Background(), conversationID, types.Event{Kind: kind, Role: types.RoleAssistant, Payload: payload})
}
