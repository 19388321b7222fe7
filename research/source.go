// Package research implements the optional research lookup the article and
// book graphs call before drafting an outline (spec §4.3 item 1). It
// decouples the Orchestrator from any specific search provider the way the
// teacher's rag.WebRetriever decouples retrieval from a concrete web search
// backend: callers inject a SearchFunc, this package only caches and shapes
// its results.
package research

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/inkforge/pipeline/orchestrator"
	"go.uber.org/zap"
)

// Result is one hit a SearchFunc returns.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// SearchFunc performs the actual lookup against a concrete provider. It is
// the research-package analogue of the teacher's rag.WebSearchFunc: callers
// wrap whatever search API they have (a SERP API, an internal index, a
// fixture in tests) behind this signature.
type SearchFunc func(ctx context.Context, query string, maxResults int) ([]Result, error)

// Config tunes caching around a SearchFunc.
type Config struct {
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 15 * time.Minute
	}
	return c
}

// Store is a distributed second-level cache a Source can sit in front of,
// so repeated queries for the same topic are shared across every pipeline
// instance rather than re-hitting the search provider once per process.
// internal/cache.Manager's GetJSON/SetJSON satisfy this directly; it is
// declared here as a narrow interface so this package never imports
// internal/cache.
type Store interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Source adapts a SearchFunc into orchestrator.ResearchSource, caching
// results per query the way the teacher's webResultCache
// (rag/web_retrieval.go) caches web search hits: a case-insensitive,
// trimmed query key with a fixed TTL. An in-process map always backs the
// cache; an optional Store layered on top (SetStore) extends the same
// cache key space across process restarts and sibling instances.
type Source struct {
	search SearchFunc
	cfg    Config
	logger *zap.Logger
	store  Store

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	results   []Result
	expiresAt time.Time
}

// New builds a Source over search. logger defaults to a no-op logger.
func New(search SearchFunc, cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		search:  search,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("component", "research")),
		entries: make(map[string]cacheEntry),
	}
}

// SetStore attaches a distributed second-level cache. Optional; a Source
// with no store falls back to its in-process map alone.
func (s *Source) SetStore(store Store) {
	s.store = store
}

// Search implements orchestrator.ResearchSource.
func (s *Source) Search(ctx context.Context, query string, maxResults int) ([]orchestrator.ResearchResult, error) {
	if cached, ok := s.lookup(ctx, query); ok {
		return toOrchestratorResults(cached), nil
	}

	results, err := s.search(ctx, query, maxResults)
	if err != nil {
		s.logger.Warn("research lookup failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}

	s.save(ctx, query, results)
	return toOrchestratorResults(results), nil
}

func (s *Source) lookup(ctx context.Context, query string) ([]Result, bool) {
	s.mu.RLock()
	entry, ok := s.entries[cacheKey(query)]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.results, true
	}

	if s.store == nil {
		return nil, false
	}
	var results []Result
	if err := s.store.GetJSON(ctx, storeKey(query), &results); err != nil {
		return nil, false
	}
	s.cacheLocally(query, results)
	return results, true
}

func (s *Source) save(ctx context.Context, query string, results []Result) {
	s.cacheLocally(query, results)
	if s.store == nil {
		return
	}
	if err := s.store.SetJSON(ctx, storeKey(query), results, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("research cache write-through failed", zap.String("query", query), zap.Error(err))
	}
}

func (s *Source) cacheLocally(query string, results []Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cacheKey(query)] = cacheEntry{results: results, expiresAt: time.Now().Add(s.cfg.CacheTTL)}
}

// storeKey namespaces the distributed cache key so a shared Redis instance
// can't collide with unrelated keys under the same prefix.
func storeKey(query string) string {
	return "research:" + cacheKey(query)
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func toOrchestratorResults(results []Result) []orchestrator.ResearchResult {
	out := make([]orchestrator.ResearchResult, len(results))
	for i, r := range results {
		out[i] = orchestrator.ResearchResult{Title: r.Title, URL: r.URL, Snippet: r.Snippet}
	}
	return out
}

// NoOp is a SearchFunc that returns no results without error, for
// deployments that run the pipeline without a configured search provider.
// A job with Research requested against a NoOp source completes with an
// empty research block rather than failing (spec §4.3 item 1: research is
// never fatal).
func NoOp(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return nil, nil
}
