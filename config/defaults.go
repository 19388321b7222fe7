package config

import "time"

// DefaultConfig returns a PipelineConfig populated with the values the
// spec itself states as defaults (§4.3 fan-out bounds, §4.5 rate limits,
// §4.4 retention, §5 back-pressure cap, §6 job deadlines).
func DefaultConfig() *PipelineConfig {
	return &PipelineConfig{
		Server:       DefaultServerConfig(),
		Providers:    DefaultProvidersConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		RateLimit:    DefaultRateLimitConfig(),
		ConvLog:      DefaultConvLogConfig(),
		Redis:        DefaultRedisConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns default process-level settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		DevMode:         false,
	}
}

// DefaultProvidersConfig returns an empty credential set with the
// spec's suggested backend preference order and the global in-flight
// cap (spec §5: "default 64"). Credentials themselves are never
// defaulted; they come from the YAML file or environment only.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Preference:          []string{"anthropic", "openai", "gemini"},
		Anthropic:           BackendConfig{Model: "claude-sonnet-4-5", Timeout: 30 * time.Second},
		OpenAI:              BackendConfig{Model: "gpt-4o", Timeout: 30 * time.Second},
		Gemini:              BackendConfig{Model: "gemini-2.0-flash", Timeout: 30 * time.Second},
		GlobalInflightLimit: 64,
	}
}

// DefaultOrchestratorConfig mirrors the orchestrator package's own
// defaults without importing it (config stays a leaf dependency).
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxParallelSections: 4,
		MaxParallelChapters: 2,
		ArticleDeadline:     180 * time.Second,
		BookDeadline:        900 * time.Second,
		GracePeriod:         2 * time.Second,
	}
}

// DefaultRateLimitConfig mirrors ratelimit's own package defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		BurstCapacity:     10,
		BurstRefillPerSec: 1,
		SustainedCapacity: 60,
		SustainedPerMin:   60,
		MaxInflight:       3,
		DevMode:           false,
	}
}

// DefaultConvLogConfig mirrors convlog's own defaults (24h retention,
// 64-deep subscriber buffer).
func DefaultConvLogConfig() ConvLogConfig {
	return ConvLogConfig{
		Retention:        24 * time.Hour,
		SubscriberBuffer: 64,
	}
}

// DefaultRedisConfig returns default Redis connection settings for the
// Conversation Log's durability checkpoint (spec §4.4).
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig returns default zap logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns default metrics-exporter settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     true,
		ServiceName: "generation-pipeline",
	}
}
