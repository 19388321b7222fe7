package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkforge/pipeline/convlog"
	"github.com/inkforge/pipeline/jobs"
	"github.com/inkforge/pipeline/llm"
	"github.com/inkforge/pipeline/llm/circuitbreaker"
	"github.com/inkforge/pipeline/llm/retry"
	"github.com/inkforge/pipeline/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedBackend answers every stage by inspecting the rendered system
// prompt, the way a human reading the prompt would. respond is shared
// across goroutines and must be safe for concurrent use.
type scriptedBackend struct {
	name    string
	respond func(system, user string) (string, error)
	// before runs before respond, with the live request context: it can
	// block (to simulate a slow call) while still honoring ctx.Done(), the
	// way a real HTTP round trip would.
	before func(ctx context.Context, system, user string) error
	calls  int32
}

func (b *scriptedBackend) Name() string          { return b.name }
func (b *scriptedBackend) SupportsJSONMode() bool { return false }

func (b *scriptedBackend) GenerateText(ctx context.Context, req llm.Request) (llm.Response, error) {
	atomic.AddInt32(&b.calls, 1)
	var system, user string
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			system = m.Content
		case types.RoleUser:
			user = m.Content
		}
	}
	if b.before != nil {
		if err := b.before(ctx, system, user); err != nil {
			return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: b.name, Err: err}
		}
	}
	text, err := b.respond(system, user)
	if err != nil {
		return llm.Response{}, &llm.BackendError{Class: llm.ClassTransient, Backend: b.name, Err: err}
	}
	return llm.Response{Text: text, Usage: types.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, Model: "test-model"}, nil
}

func extractAfter(s, marker string) string {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return rest
}

// happyRespond answers every stage with a valid, deterministic response.
// failSectionTitles and failTopicTitles name subtopics/topics that should
// fail generation instead (to exercise per-item degradation).
func happyRespond(failSectionTitles, failTopicTitles map[string]bool) func(system, user string) (string, error) {
	return func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "expert content strategist"):
			return `{"title":"Batch Processing Explained","description":"An overview of batch processing.","tags":["batch","pipelines"],"sections":[` +
				`{"title":"Getting Started","sub_topics":["Sub A","Sub B","Sub C"]},` +
				`{"title":"Core Concepts","sub_topics":["Sub D","Sub E","Sub F"]},` +
				`{"title":"Advanced Usage","sub_topics":["Sub G","Sub H","Sub I"]},` +
				`{"title":"Wrapping Up","sub_topics":["Sub J","Sub K","Sub L"]}]}`, nil
		case strings.Contains(system, "one prose section of a long-form article"):
			title := extractAfter(user, "Subtopic: ")
			if failSectionTitles[title] {
				return "", errors.New("simulated section failure")
			}
			return "Body for " + title, nil
		case strings.Contains(system, "engaging, factual article introductions"):
			return "This is the intro.", nil
		case strings.Contains(system, "concise Markdown conclusion"):
			return "This is the conclusion.", nil
		case strings.Contains(system, "frequently-asked-questions"):
			return `{"faqs":[{"question":"What is it?","answer":"It is a thing."}]}`, nil
		case strings.Contains(system, "SEO meta description"):
			return "A meta description for the article that is reasonably descriptive.", nil
		case strings.Contains(system, "Proofread the given"):
			return user, nil
		case strings.Contains(system, "Rewrite the given Markdown passage"):
			return user, nil
		case strings.Contains(system, "book editor"):
			return `{"title":"The Batch Processing Book","chapters":["Foundations","Practice"]}`, nil
		case strings.Contains(system, "topic list for one book chapter"):
			return `{"topics":["Topic A","Topic B"]}`, nil
		case strings.Contains(system, "one prose topic section of a book chapter"):
			title := extractAfter(user, "Topic: ")
			if failTopicTitles[title] {
				return "", errors.New("simulated topic failure")
			}
			return "Body for " + title, nil
		default:
			return "", errors.New("orchestrator_test: no script for prompt: " + system)
		}
	}
}

type harness struct {
	t       *testing.T
	log     *convlog.Log
	jobs    *jobs.Registry
	orch    *Orchestrator
	backend *scriptedBackend
}

func newHarness(t *testing.T, cfg Config, backends ...*scriptedBackend) *harness {
	t.Helper()
	logger := zap.NewNop()
	registry := llm.NewRegistry()
	for _, b := range backends {
		registry.Register(b)
	}
	policy := &retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 1.0}
	gateway := llm.NewGateway(registry, policy, circuitbreaker.DefaultConfig(), logger)
	convLog := convlog.NewLog(nil, logger)
	gateway.SetEventRecorder(convLog)
	jobRegistry := jobs.NewRegistry(logger)
	orch := New(gateway, convLog, jobRegistry, nil, cfg, logger)
	h := &harness{t: t, log: convLog, jobs: jobRegistry, orch: orch}
	if len(backends) > 0 {
		h.backend = backends[0]
	}
	return h
}

func fastConfig() Config {
	return Config{
		MaxParallelSections: 4,
		MaxParallelChapters: 2,
		ArticleDeadline:     5 * time.Second,
		BookDeadline:        5 * time.Second,
		GracePeriod:         50 * time.Millisecond,
	}
}

func TestRunArticle_MinimalSucceeds(t *testing.T) {
	backend := &scriptedBackend{name: "primary", respond: happyRespond(nil, nil)}
	h := newHarness(t, fastConfig(), backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-1", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative,
	}, nil)
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobSucceeded, final.State)
	require.NotNil(t, final.Article)
	assert.Equal(t, "Batch Processing Explained", final.Article.Title)
	assert.Len(t, final.Article.Sections, 4)
	for _, s := range final.Article.Sections {
		assert.Len(t, s.SubTopics, 3)
		for _, st := range s.SubTopics {
			assert.Contains(t, st.Body, "Body for ")
		}
	}
	assert.Equal(t, "This is the intro.", final.Article.Intro)
	assert.Equal(t, "This is the conclusion.", final.Article.Conclusion)
	require.Len(t, final.Article.FAQs, 1)
	assert.NotEmpty(t, final.Article.Description)

	events, err := h.log.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	var sawFinal bool
	for _, e := range events {
		if e.Kind == types.EventFinalArtifact {
			sawFinal = true
		}
		assert.NotEqual(t, types.EventWarning, e.Kind, "minimal happy-path run should not warn")
	}
	assert.True(t, sawFinal)
}

func TestRunArticle_DegradesAboveFloorStillSucceeds(t *testing.T) {
	backend := &scriptedBackend{name: "primary", respond: happyRespond(map[string]bool{"Sub A": true}, nil)}
	h := newHarness(t, fastConfig(), backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-2", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative,
	}, nil)
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobSucceeded, final.State, "11/12 subtopics succeeding is above the 75%% floor")

	var placeholders int
	for _, s := range final.Article.Sections {
		for _, st := range s.SubTopics {
			if st.Body == DegradedBodyPlaceholder {
				placeholders++
			}
		}
	}
	assert.Equal(t, 1, placeholders)

	events, err := h.log.Snapshot(context.Background(), "conv-2")
	require.NoError(t, err)
	var sawWarning bool
	for _, e := range events {
		if e.Kind == types.EventWarning {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning)
}

func TestRunArticle_DegradesBelowFloorFails(t *testing.T) {
	failing := map[string]bool{"Sub A": true, "Sub D": true, "Sub G": true, "Sub J": true}
	backend := &scriptedBackend{name: "primary", respond: happyRespond(failing, nil)}
	h := newHarness(t, fastConfig(), backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-3", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative,
	}, nil)
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobFailed, final.State, "8/12 succeeding is below the 75%% floor")
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrDegraded, final.Err.Code)
}

func TestRunBook_FailoverToSecondBackend(t *testing.T) {
	broken := &scriptedBackend{name: "a", respond: func(system, user string) (string, error) {
		return "", errors.New("backend a is down")
	}}
	healthy := &scriptedBackend{name: "b", respond: happyRespond(nil, nil)}
	h := newHarness(t, fastConfig(), broken, healthy)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindBook, "conv-4", "", nil, &types.BookSpec{
		Title: "Batch Processing", Tone: types.ToneTechnical, ChapterCount: 2, TopicsPerChapter: 2,
	})
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobSucceeded, final.State)
	require.NotNil(t, final.Book)
	assert.Equal(t, "The Batch Processing Book", final.Book.Title)
	require.Len(t, final.Book.Chapters, 2)

	events, err := h.log.Snapshot(context.Background(), "conv-4")
	require.NoError(t, err)
	var sawBBackend bool
	for _, e := range events {
		if e.Kind != types.EventProviderCall {
			continue
		}
		if backend, _ := e.Payload["backend"].(string); backend == "b" {
			sawBBackend = true
		}
	}
	assert.True(t, sawBBackend, "at least one provider_call event should record the healthy backend")
	assert.True(t, atomic.LoadInt32(&broken.calls) > 0, "the broken backend should have been attempted at least once")
}

func TestRunArticle_OutlineSchemaMismatchRetriesOnceThenFails(t *testing.T) {
	var attempts int32
	backend := &scriptedBackend{name: "primary", respond: func(system, user string) (string, error) {
		if strings.Contains(system, "expert content strategist") {
			atomic.AddInt32(&attempts, 1)
			return "not valid json at all", nil
		}
		return happyRespond(nil, nil)(system, user)
	}}
	h := newHarness(t, fastConfig(), backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-5", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative,
	}, nil)
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobFailed, final.State)
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrParseFailure, final.Err.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "a parse failure retries exactly once at a raised temperature")
}

func TestRunArticle_DeadlineExceededSurfacesAsTimeout(t *testing.T) {
	backend := &scriptedBackend{
		name:    "primary",
		respond: happyRespond(nil, nil),
		before: func(ctx context.Context, system, user string) error {
			if !strings.Contains(system, "one prose section of a long-form article") {
				return nil
			}
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cfg := fastConfig()
	cfg.ArticleDeadline = 50 * time.Millisecond
	h := newHarness(t, cfg, backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-6", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative,
	}, nil)
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobCanceled, final.State)
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrTimeout, final.Err.Code)
}

func TestRunArticle_CancelMidRunSurfacesAsCanceled(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	backend := &scriptedBackend{
		name:    "primary",
		respond: happyRespond(nil, nil),
		before: func(ctx context.Context, system, user string) error {
			if !strings.Contains(system, "one prose section of a long-form article") {
				return nil
			}
			select {
			case started <- struct{}{}:
			default:
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	h := newHarness(t, fastConfig(), backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-7", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative,
	}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.orch.Run(snap.ID)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for section generation to start")
	}
	require.True(t, h.jobs.Cancel(snap.ID))
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for orchestrator run to finish")
	}

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobCanceled, final.State)
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrCanceled, final.Err.Code)
}

func TestRunBook_NestedFanOutRespectsBothBounds(t *testing.T) {
	backend := &scriptedBackend{name: "primary", respond: happyRespond(nil, nil)}
	cfg := fastConfig()
	cfg.MaxParallelChapters = 2
	cfg.MaxParallelSections = 2
	h := newHarness(t, cfg, backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindBook, "conv-8", "", nil, &types.BookSpec{
		Title: "Batch Processing", Tone: types.ToneTechnical, ChapterCount: 2, TopicsPerChapter: 2,
	})
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobSucceeded, final.State)
	require.Len(t, final.Book.Chapters, 2)
	for _, c := range final.Book.Chapters {
		require.Len(t, c.Topics, 2)
		for _, topic := range c.Topics {
			assert.Contains(t, topic.Body, "Body for ")
		}
	}
}

func TestRunArticle_ProofreadRunsBeforeHumanize(t *testing.T) {
	backend := &scriptedBackend{name: "primary", respond: func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "Proofread the given"):
			return user + " [proofread]", nil
		case strings.Contains(system, "Rewrite the given Markdown passage"):
			assert.Contains(t, user, "[proofread]", "humanize must see the proofread output, not the raw body")
			return user + " [humanized]", nil
		default:
			return happyRespond(nil, nil)(system, user)
		}
	}}
	h := newHarness(t, fastConfig(), backend)

	snap, err := h.jobs.Create(context.Background(), "tester", types.KindArticle, "conv-9", "", &types.ArticleSpec{
		Topic: "batch processing", Tone: types.ToneInformative, Proofread: true, Humanize: true,
	}, nil)
	require.NoError(t, err)

	h.orch.Run(snap.ID)

	final, ok := h.jobs.Get(snap.ID)
	require.True(t, ok)
	require.Equal(t, types.JobSucceeded, final.State)
	for _, s := range final.Article.Sections {
		for _, st := range s.SubTopics {
			assert.Contains(t, st.Body, "[proofread]")
			assert.Contains(t, st.Body, "[humanized]")
		}
	}
}
