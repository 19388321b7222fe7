// Package config loads the pipeline's PipelineConfig from defaults, an
// optional YAML file, then environment variables, in that priority
// order, via a chainable Loader builder.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the root configuration struct covering every item
// in spec §6's "Environment configuration (enumerated)" list: provider
// credentials and default models, fan-out concurrency caps and the
// global in-flight cap, per-endpoint-class rate limits, job deadlines,
// conversation retention, and a permissive dev-mode flag.
type PipelineConfig struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Providers    ProvidersConfig    `yaml:"providers" env:"PROVIDERS"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" env:"RATE_LIMIT"`
	ConvLog      ConvLogConfig      `yaml:"conversation_log" env:"CONVLOG"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds process-level HTTP/metrics listener settings.
type ServerConfig struct {
	// HTTP port the service façade listens on.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics port for the Prometheus exporter.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// DevMode relaxes rate limiting and validation for local development
	// (spec §6: "a permissive dev-mode flag"). Never set in production.
	DevMode bool `yaml:"dev_mode" env:"DEV_MODE"`
}

// BackendConfig configures one LLM backend family: its credential,
// optional base URL override, default model, and call timeout.
type BackendConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ProvidersConfig is the credential and concurrency configuration for
// the Provider Gateway (spec §4.1, §5).
type ProvidersConfig struct {
	// Preference is the backend failover order the Gateway tries in
	// (spec §4.1: "backends in preference order").
	Preference []string      `yaml:"preference" env:"PREFERENCE"`
	Anthropic  BackendConfig `yaml:"anthropic" env:"ANTHROPIC"`
	OpenAI     BackendConfig `yaml:"openai" env:"OPENAI"`
	Gemini     BackendConfig `yaml:"gemini" env:"GEMINI"`
	// GlobalInflightLimit is the system-wide concurrent-call cap (spec
	// §5 back-pressure, default 64).
	GlobalInflightLimit int64 `yaml:"global_inflight_limit" env:"GLOBAL_INFLIGHT_LIMIT"`
}

// OrchestratorConfig bounds the Stage Orchestrator's fan-out and job
// deadlines (spec §4.3).
type OrchestratorConfig struct {
	// MaxParallelSections bounds concurrent subtopic-body generation
	// within one article job.
	MaxParallelSections int `yaml:"max_parallel_sections" env:"MAX_PARALLEL_SECTIONS"`
	// MaxParallelChapters bounds concurrent chapter processing within
	// one book job.
	MaxParallelChapters int `yaml:"max_parallel_chapters" env:"MAX_PARALLEL_CHAPTERS"`
	// ArticleDeadline is the wall-clock budget for one article job.
	ArticleDeadline time.Duration `yaml:"article_deadline" env:"ARTICLE_DEADLINE"`
	// BookDeadline is the wall-clock budget for one book job.
	BookDeadline time.Duration `yaml:"book_deadline" env:"BOOK_DEADLINE"`
	// GracePeriod is extra time granted after the deadline fires for
	// in-flight stage calls to unwind cleanly.
	GracePeriod time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
}

// RateLimitConfig configures the per-(subject,endpoint-class) admission
// policy (spec §4.5).
type RateLimitConfig struct {
	BurstCapacity     int     `yaml:"burst_capacity" env:"BURST_CAPACITY"`
	BurstRefillPerSec float64 `yaml:"burst_refill_per_sec" env:"BURST_REFILL_PER_SEC"`
	SustainedCapacity int     `yaml:"sustained_capacity" env:"SUSTAINED_CAPACITY"`
	SustainedPerMin   float64 `yaml:"sustained_per_min" env:"SUSTAINED_PER_MIN"`
	MaxInflight       int     `yaml:"max_inflight" env:"MAX_INFLIGHT"`
	// DevMode admits every request unconditionally (spec §6 dev-mode
	// flag). Mirrors ServerConfig.DevMode but scoped to the limiter so
	// the two can be toggled independently in tests.
	DevMode bool `yaml:"dev_mode" env:"DEV_MODE"`
}

// ConvLogConfig configures the Conversation Log's retention window and
// subscriber buffering (spec §4.4).
type ConvLogConfig struct {
	// Retention is how long a conversation's events stay queryable
	// after its last append.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// SubscriberBuffer bounds each subscriber's undelivered-event queue.
	SubscriberBuffer int `yaml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`
}

// RedisConfig configures the Conversation Log's durability checkpoint
// backend.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig configures the zap logger shared across every package.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the Prometheus metrics exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Loader loads a PipelineConfig: defaults, then an optional YAML file,
// then environment variable overrides, then validators.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*PipelineConfig) error
}

// NewLoader creates a loader with the pipeline's default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "PIPELINE",
		validators: make([]func(*PipelineConfig) error, 0),
	}
}

// WithConfigPath sets the YAML file to merge over the defaults.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers a validation pass run after loading.
func (l *Loader) WithValidator(v func(*PipelineConfig) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves a PipelineConfig: defaults -> YAML file -> environment
// variables -> validators, in that order.
func (l *Loader) Load() (*PipelineConfig, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *PipelineConfig) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *PipelineConfig) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks cfg's fields recursively, applying an
// environment variable override wherever one is set, using the `env`
// struct tag to build PREFIX_FIELD_SUBFIELD lookup keys.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads a PipelineConfig from path, panicking on failure. For
// use only at process startup in cmd/pipeline/main.go.
func MustLoad(path string) *PipelineConfig {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads a PipelineConfig from defaults and environment
// variables only, with no YAML file.
func LoadFromEnv() (*PipelineConfig, error) {
	return NewLoader().Load()
}

// Validate checks the cross-field invariants the reflection-based env
// loader cannot express: HTTP port range, positive fan-out bounds and job
// deadlines, a positive global in-flight cap, a non-empty backend
// preference, and a positive retention window.
func (c *PipelineConfig) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Orchestrator.MaxParallelSections <= 0 {
		errs = append(errs, "max_parallel_sections must be positive")
	}
	if c.Orchestrator.MaxParallelChapters <= 0 {
		errs = append(errs, "max_parallel_chapters must be positive")
	}
	if c.Orchestrator.ArticleDeadline <= 0 {
		errs = append(errs, "article_deadline must be positive")
	}
	if c.Orchestrator.BookDeadline <= 0 {
		errs = append(errs, "book_deadline must be positive")
	}
	if c.Providers.GlobalInflightLimit <= 0 {
		errs = append(errs, "global_inflight_limit must be positive")
	}
	if len(c.Providers.Preference) == 0 {
		errs = append(errs, "providers.preference must name at least one backend")
	}
	if c.ConvLog.Retention <= 0 {
		errs = append(errs, "conversation_log.retention must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
