package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, ProvidersConfig{}, cfg.Providers)
	assert.NotEqual(t, OrchestratorConfig{}, cfg.Orchestrator)
	assert.NotEqual(t, RateLimitConfig{}, cfg.RateLimit)
	assert.NotEqual(t, ConvLogConfig{}, cfg.ConvLog)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.DevMode)
}

func TestDefaultProvidersConfig(t *testing.T) {
	cfg := DefaultProvidersConfig()
	assert.Equal(t, []string{"anthropic", "openai", "gemini"}, cfg.Preference)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Anthropic.Model)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Empty(t, cfg.Anthropic.APIKey, "credentials must never be defaulted")
	assert.EqualValues(t, 64, cfg.GlobalInflightLimit)
}

func TestDefaultOrchestratorConfig(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	assert.Equal(t, 4, cfg.MaxParallelSections)
	assert.Equal(t, 2, cfg.MaxParallelChapters)
	assert.Equal(t, 180*time.Second, cfg.ArticleDeadline)
	assert.Equal(t, 900*time.Second, cfg.BookDeadline)
	assert.Equal(t, 2*time.Second, cfg.GracePeriod)
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.Equal(t, 10, cfg.BurstCapacity)
	assert.Equal(t, 60, cfg.SustainedCapacity)
	assert.Equal(t, 3, cfg.MaxInflight)
	assert.False(t, cfg.DevMode)
}

func TestDefaultConvLogConfig(t *testing.T) {
	cfg := DefaultConvLogConfig()
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "generation-pipeline", cfg.ServiceName)
}
