// =============================================================================
// Generation pipeline entry point
// =============================================================================
// Starts the HTTP surface over service.Service: job submission, job/
// conversation reads, cancellation, and a Prometheus scrape endpoint.
// Authentication and billing are out of scope; subject is an opaque
// identifier supplied by an out-of-scope auth layer via the X-Subject
// header.
//
// Usage:
//
//	pipeline serve                       # start the server
//	pipeline serve --config config.yaml  # specify a config file
//	pipeline version                     # print version info
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inkforge/pipeline/config"
	"github.com/inkforge/pipeline/internal/server"
	"github.com/inkforge/pipeline/service"
	"github.com/inkforge/pipeline/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting generation pipeline",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	svc, err := service.New(cfg, nil, logger)
	if err != nil {
		logger.Fatal("failed to build service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	mux := newMux(svc, logger)
	mgr := server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	metricsMgr := server.NewManager(svc.MetricsHandler(), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, logger.Named("metrics"))

	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}
	if err := metricsMgr.Start(); err != nil {
		logger.Fatal("failed to start metrics server", zap.Error(err))
	}

	mgr.WaitForShutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	_ = metricsMgr.Shutdown(shutdownCtx)

	logger.Info("generation pipeline stopped")
}

// newMux wires the HTTP surface over svc. Each handler validates only the
// shape HTTP adds (subject header, JSON body, path segments) and otherwise
// defers entirely to service.Service for admission, validation, and
// business logic.
func newMux(svc *service.Service, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/v1/articles", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Spec           types.ArticleSpec `json:"spec"`
			ConversationID string            `json:"conversation_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, types.NewError(types.ErrBadRequest, "malformed request body"))
			return
		}
		jobID, err := svc.SubmitArticleJob(r.Context(), subjectOf(r), body.Spec, body.ConversationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	})

	mux.HandleFunc("/v1/books", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Spec           types.BookSpec `json:"spec"`
			ConversationID string         `json:"conversation_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, types.NewError(types.ErrBadRequest, "malformed request body"))
			return
		}
		jobID, err := svc.SubmitBookJob(r.Context(), subjectOf(r), body.Spec, body.ConversationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	})

	mux.HandleFunc("/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
		if jobID == "" {
			writeError(w, types.NewError(types.ErrBadRequest, "job id is required"))
			return
		}
		switch r.Method {
		case http.MethodGet:
			snap, err := svc.GetJob(subjectOf(r), jobID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		case http.MethodDelete:
			if err := svc.CancelJob(subjectOf(r), jobID); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/conversations/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		conversationID := strings.TrimPrefix(r.URL.Path, "/v1/conversations/")
		if conversationID == "" {
			writeError(w, types.NewError(types.ErrBadRequest, "conversation id is required"))
			return
		}
		events, err := svc.GetConversation(r.Context(), conversationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	})

	return mux
}

func subjectOf(r *http.Request) string {
	return r.Header.Get("X-Subject")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	pe, ok := err.(*types.Error)
	if ok {
		if pe.HTTPStatus != 0 {
			status = pe.HTTPStatus
		} else {
			status = httpStatusFor(pe.Code)
		}
		if pe.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", pe.RetryAfter.Seconds()))
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func httpStatusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrBadRequest, types.ErrSchemaMismatch:
		return http.StatusBadRequest
	case types.ErrAuth:
		return http.StatusUnauthorized
	case types.ErrRateLimited, types.ErrTooManyInflight:
		return http.StatusTooManyRequests
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrAllBackendsFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func printVersion() {
	fmt.Printf("pipeline %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`pipeline - generation pipeline core

Usage:
  pipeline <command> [options]

Commands:
  serve     Start the HTTP server
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  pipeline serve
  pipeline serve --config /etc/pipeline/config.yaml
  pipeline version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if len(zapConfig.OutputPaths) == 0 {
		zapConfig.OutputPaths = []string{"stdout"}
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
