// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector is the generation pipeline's Prometheus metrics collector:
// job lifecycle counts and durations, provider-call outcomes and token
// usage, and queue-depth/back-pressure gauges (spec §6 ambient
// observability, grounded on the teacher's own promauto-based Collector).
type Collector struct {
	// 任务指标
	jobsSubmittedTotal *prometheus.CounterVec
	jobsTerminalTotal  *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec

	// Provider Gateway 指标
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerTokensUsed   *prometheus.CounterVec

	// 准入控制指标
	admissionsTotal *prometheus.CounterVec
	globalInflight  prometheus.Gauge

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector creates a Collector whose metric names are namespaced
// under namespace so multiple processes (or test instances) don't
// collide on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 任务指标
	c.jobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of article/book jobs submitted",
		},
		[]string{"kind"},
	)

	c.jobsTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_terminal_total",
			Help:      "Total number of jobs reaching a terminal state",
		},
		[]string{"kind", "state"},
	)

	c.jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration from job creation to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"kind"},
	)

	c.queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current count of non-terminal (queued or running) jobs",
		},
		[]string{"kind"},
	)

	// Provider Gateway 指标
	c.providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of Provider Gateway backend calls",
		},
		[]string{"backend", "model", "status"},
	)

	c.providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider backend call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend", "model"},
	)

	c.providerTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_used_total",
			Help:      "Total number of tokens used per backend/model",
		},
		[]string{"backend", "model", "type"}, // type: prompt, completion
	)

	// 准入控制指标
	c.admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Total number of Rate Limiter admission decisions",
		},
		[]string{"endpoint_class", "result"}, // result: admitted, rejected
	)

	c.globalInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "global_inflight_calls",
			Help:      "Current count of in-flight provider calls across all jobs",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🧮 任务指标记录
// =============================================================================

// RecordJobSubmitted increments the submitted-job counter for kind
// ("article" or "book").
func (c *Collector) RecordJobSubmitted(kind string) {
	c.jobsSubmittedTotal.WithLabelValues(kind).Inc()
}

// RecordJobTerminal records a job reaching state ("succeeded", "failed",
// "canceled") and its end-to-end duration.
func (c *Collector) RecordJobTerminal(kind, state string, duration time.Duration) {
	c.jobsTerminalTotal.WithLabelValues(kind, state).Inc()
	c.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetQueueDepth sets the current non-terminal job count for kind.
func (c *Collector) SetQueueDepth(kind string, depth int) {
	c.queueDepth.WithLabelValues(kind).Set(float64(depth))
}

// =============================================================================
// 🔌 Provider Gateway 指标记录
// =============================================================================

// RecordProviderCall records one Provider Gateway attempt: its outcome
// ("success", "error"), duration, and token usage.
func (c *Collector) RecordProviderCall(backend, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.providerCallsTotal.WithLabelValues(backend, model, status).Inc()
	c.providerCallDuration.WithLabelValues(backend, model).Observe(duration.Seconds())
	c.providerTokensUsed.WithLabelValues(backend, model, "prompt").Add(float64(promptTokens))
	c.providerTokensUsed.WithLabelValues(backend, model, "completion").Add(float64(completionTokens))
}

// SetGlobalInflight reports the Provider Gateway's current in-flight call
// count against its global semaphore (spec §5 back-pressure).
func (c *Collector) SetGlobalInflight(n int) {
	c.globalInflight.Set(float64(n))
}

// =============================================================================
// 🚦 准入控制指标记录
// =============================================================================

// RecordAdmission records one Rate Limiter decision for endpointClass.
func (c *Collector) RecordAdmission(endpointClass string, admitted bool) {
	result := "admitted"
	if !admitted {
		result = "rejected"
	}
	c.admissionsTotal.WithLabelValues(endpointClass, result).Inc()
}
