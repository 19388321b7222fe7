// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package service is the external façade (spec §6): it validates inbound
// request shapes, applies admission control, and wires the Provider
// Gateway, Prompt Composer, Pipeline Orchestrator, Conversation Log, Rate
// Limiter and Job Registry into the six operations a transport layer
// (HTTP, gRPC, or an in-process caller) actually calls. Spec §6 specifies
// these as "shape, not transport" — Service is that shape; nothing here
// assumes HTTP.
package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkforge/pipeline/config"
	"github.com/inkforge/pipeline/convlog"
	"github.com/inkforge/pipeline/internal/cache"
	"github.com/inkforge/pipeline/internal/telemetry"
	"github.com/inkforge/pipeline/jobs"
	"github.com/inkforge/pipeline/llm"
	"github.com/inkforge/pipeline/llm/providers"
	"github.com/inkforge/pipeline/llm/providers/anthropic"
	"github.com/inkforge/pipeline/llm/providers/gemini"
	"github.com/inkforge/pipeline/llm/providers/openai"
	"github.com/inkforge/pipeline/orchestrator"
	"github.com/inkforge/pipeline/ratelimit"
	"github.com/inkforge/pipeline/research"
	"github.com/inkforge/pipeline/types"
)

// Endpoint classes the Rate Limiter buckets independently (spec §4.5:
// "per (subject, endpoint-class)").
const (
	EndpointSubmitArticle = "submit_article"
	EndpointSubmitBook    = "submit_book"
	EndpointGetJob        = "get_job"
	EndpointCancelJob     = "cancel_job"
)

// Service wires every core component behind the six operations spec §6
// enumerates. Construct one with New and keep it for the process lifetime.
type Service struct {
	gateway  *llm.Gateway
	orch     *orchestrator.Orchestrator
	registry *jobs.Registry
	convLog  *convlog.Log
	admitter *ratelimit.Admitter
	logger   *zap.Logger
	tel      *telemetry.Telemetry

	hasCredential bool
}

// New wires a Service from cfg. searchFunc may be nil, in which case jobs
// requesting research proceed with an empty research block and a warning
// event (orchestrator's non-fatal-research rule); otherwise it is wrapped
// in a caching research.Source.
func New(cfg *config.PipelineConfig, searchFunc research.SearchFunc, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("service: invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tel := telemetry.Init(cfg.Telemetry, logger)

	registry, hasCredential := buildProviderRegistry(cfg, logger)
	registry.SetOrder(cfg.Providers.Preference)

	gateway := llm.NewGateway(registry, nil, nil, logger)
	gateway.SetGlobalInflightLimit(cfg.Providers.GlobalInflightLimit)
	if tel.Enabled {
		gateway.SetMetricsRecorder(tel.Collector)
	}

	convLog := convlog.NewLog(buildDurable(cfg, logger), logger)
	convLog.SetRetention(cfg.ConvLog.Retention)
	convLog.SetBufferSize(cfg.ConvLog.SubscriberBuffer)
	gateway.SetEventRecorder(convLog)

	jobRegistry := jobs.NewRegistry(logger)
	if tel.Enabled {
		jobRegistry.SetObserver(newJobObserver(tel.Collector))
	}

	admitter := ratelimit.NewAdmitter(ratelimit.Config{
		BurstCapacity:     cfg.RateLimit.BurstCapacity,
		BurstRefillPerSec: cfg.RateLimit.BurstRefillPerSec,
		SustainedCapacity: cfg.RateLimit.SustainedCapacity,
		SustainedPerMin:   cfg.RateLimit.SustainedPerMin,
		MaxInflight:       cfg.RateLimit.MaxInflight,
		DevMode:           cfg.RateLimit.DevMode,
	}, jobRegistry)

	var researchSource orchestrator.ResearchSource
	if searchFunc != nil {
		src := research.New(searchFunc, research.Config{}, logger)
		if store := buildResearchStore(cfg, logger); store != nil {
			src.SetStore(store)
		}
		researchSource = src
	}

	orchCfg := orchestrator.Config{
		MaxParallelSections: cfg.Orchestrator.MaxParallelSections,
		MaxParallelChapters: cfg.Orchestrator.MaxParallelChapters,
		ArticleDeadline:     cfg.Orchestrator.ArticleDeadline,
		BookDeadline:        cfg.Orchestrator.BookDeadline,
		GracePeriod:         cfg.Orchestrator.GracePeriod,
	}
	orch := orchestrator.New(gateway, convLog, jobRegistry, researchSource, orchCfg, logger)

	return &Service{
		gateway:       gateway,
		orch:          orch,
		registry:      jobRegistry,
		convLog:       convLog,
		admitter:      admitter,
		logger:        logger.With(zap.String("component", "service")),
		tel:           tel,
		hasCredential: hasCredential || cfg.RateLimit.DevMode,
	}, nil
}

// buildProviderRegistry registers a backend for every family carrying a
// non-empty API key, so the Gateway only fails over across credentialed
// backends. It reports whether at least one backend was registered.
func buildProviderRegistry(cfg *config.PipelineConfig, logger *zap.Logger) (*llm.Registry, bool) {
	registry := llm.NewRegistry()
	registered := false

	if cfg.Providers.Anthropic.APIKey != "" {
		registry.Register(anthropic.New(providers.AnthropicConfig{
			BaseConfig: toBaseConfig(cfg.Providers.Anthropic),
		}, logger))
		registered = true
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(openai.New(providers.OpenAIConfig{
			BaseConfig: toBaseConfig(cfg.Providers.OpenAI),
		}, logger))
		registered = true
	}
	if cfg.Providers.Gemini.APIKey != "" {
		registry.Register(gemini.New(providers.GeminiConfig{
			BaseConfig: toBaseConfig(cfg.Providers.Gemini),
		}, logger))
		registered = true
	}
	return registry, registered
}

func toBaseConfig(b config.BackendConfig) providers.BaseConfig {
	return providers.BaseConfig{
		APIKey:  b.APIKey,
		BaseURL: b.BaseURL,
		Model:   b.Model,
		Timeout: b.Timeout,
	}
}

// buildDurable wires a Redis-checkpointed Conversation Log when an address
// is configured, or an in-memory-only log (durable == nil) otherwise.
func buildDurable(cfg *config.PipelineConfig, logger *zap.Logger) convlog.Durable {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	logger.Info("conversation log durability backed by redis", zap.String("addr", cfg.Redis.Addr))
	return convlog.NewRedisDurable(client, "")
}

// buildResearchStore wires a Redis-backed second-level cache for research
// query results (internal/cache.Manager) onto the same Redis instance the
// Conversation Log checkpoints to, so a restarted or horizontally scaled
// pipeline instance doesn't repeat search-provider calls for a query
// another instance already resolved. Returns nil (no store) when no Redis
// address is configured, or when the connection check fails — research
// caching is a latency optimization, never a hard dependency (orchestrator's
// non-fatal-research rule extends to its cache backend too).
func buildResearchStore(cfg *config.PipelineConfig, logger *zap.Logger) research.Store {
	if cfg.Redis.Addr == "" {
		return nil
	}
	mgr, err := cache.NewManager(cache.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, logger)
	if err != nil {
		logger.Warn("research cache store unavailable, falling back to in-process cache only", zap.Error(err))
		return nil
	}
	return mgr
}

// Start launches the Rate Limiter's idle-bucket eviction sweep. It blocks
// until ctx is canceled; call it in its own goroutine.
func (s *Service) Start(ctx context.Context) {
	s.admitter.Run(ctx)
}

// SubmitArticleJob validates spec, admits the request, creates a queued
// job and starts the Orchestrator in its own goroutine. conversationID may
// be empty, in which case a fresh one is minted.
func (s *Service) SubmitArticleJob(ctx context.Context, subject string, spec types.ArticleSpec, conversationID string) (string, error) {
	if subject == "" {
		return "", types.NewError(types.ErrBadRequest, "subject is required")
	}
	normalized, err := validateArticleSpec(spec)
	if err != nil {
		return "", err
	}
	if err := s.admit(subject, EndpointSubmitArticle); err != nil {
		return "", err
	}
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	snap, err := s.registry.Create(ctx, subject, types.KindArticle, conversationID, normalized.IdempotKey, &normalized, nil)
	if err != nil {
		return "", err
	}
	s.appendIntent(conversationID, map[string]any{"kind": types.KindArticle, "topic": normalized.Topic})
	go s.orch.Run(snap.ID)
	return snap.ID, nil
}

// SubmitBookJob mirrors SubmitArticleJob for book specs.
func (s *Service) SubmitBookJob(ctx context.Context, subject string, spec types.BookSpec, conversationID string) (string, error) {
	if subject == "" {
		return "", types.NewError(types.ErrBadRequest, "subject is required")
	}
	normalized, err := validateBookSpec(spec)
	if err != nil {
		return "", err
	}
	if err := s.admit(subject, EndpointSubmitBook); err != nil {
		return "", err
	}
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	snap, err := s.registry.Create(ctx, subject, types.KindBook, conversationID, normalized.IdempotKey, nil, &normalized)
	if err != nil {
		return "", err
	}
	s.appendIntent(conversationID, map[string]any{"kind": types.KindBook, "title": normalized.Title})
	go s.orch.Run(snap.ID)
	return snap.ID, nil
}

// GetJob returns jobID's snapshot, provided it belongs to subject.
func (s *Service) GetJob(subject, jobID string) (types.Snapshot, error) {
	if err := s.admit(subject, EndpointGetJob); err != nil {
		return types.Snapshot{}, err
	}
	snap, ok := s.registry.Get(jobID)
	if !ok || snap.Subject != subject {
		return types.Snapshot{}, types.NewError(types.ErrBadRequest, "job not found")
	}
	return snap, nil
}

// CancelJob requests cancellation of jobID, provided it belongs to subject.
// Cancellation is cooperative: the job reaches a terminal state within the
// Orchestrator's grace period, not synchronously here.
func (s *Service) CancelJob(subject, jobID string) error {
	if err := s.admit(subject, EndpointCancelJob); err != nil {
		return err
	}
	snap, ok := s.registry.Get(jobID)
	if !ok || snap.Subject != subject {
		return types.NewError(types.ErrBadRequest, "job not found")
	}
	if !s.registry.Cancel(jobID) {
		return types.NewError(types.ErrBadRequest, "job not found")
	}
	return nil
}

// GetConversation returns every event recorded for conversationID so far.
func (s *Service) GetConversation(ctx context.Context, conversationID string) ([]types.Event, error) {
	return s.convLog.Snapshot(ctx, conversationID)
}

// SubscribeConversation streams conversationID's events from strictly
// after fromSeq. The returned unsubscribe func must be called once the
// caller stops reading.
func (s *Service) SubscribeConversation(ctx context.Context, conversationID string, fromSeq uint64) (<-chan types.Event, func(), error) {
	return s.convLog.Subscribe(ctx, conversationID, fromSeq)
}

func (s *Service) admit(subject, endpointClass string) error {
	decision, err := s.admitter.Admit(subject, endpointClass, s.hasCredential)
	if err != nil {
		return err
	}
	if s.tel.Enabled {
		s.tel.Collector.RecordAdmission(endpointClass, decision.Admitted)
	}
	if !decision.Admitted {
		return types.NewError(types.ErrRateLimited, "rate limit exceeded").WithRetryAfter(decision.RetryAfter)
	}
	return nil
}

// MetricsHandler returns the Prometheus scrape endpoint for mounting on an
// HTTP mux. Safe to call even when telemetry is disabled.
func (s *Service) MetricsHandler() http.Handler {
	return s.tel.Handler()
}

func (s *Service) appendIntent(conversationID string, payload map[string]any) {
	_, err := s.convLog.Append(context.Background(), conversationID, types.Event{Role: types.RoleUser, Kind: types.EventUserIntent, Payload: payload})
	if err != nil {
		s.logger.Warn("failed to append user_intent event", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
