// =============================================================================
// Pipeline telemetry initialization
// =============================================================================
// Wraps metrics.Collector construction and the Prometheus scrape handler.
// When telemetry is disabled, Init returns a nil Collector and Handler
// still serves the default Prometheus registry without pipeline metrics,
// so callers never need a nil check before wiring a route.
// =============================================================================

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inkforge/pipeline/config"
	"github.com/inkforge/pipeline/internal/metrics"
)

// defaultNamespace is used when cfg.ServiceName is empty.
const defaultNamespace = "pipeline"

// Telemetry holds the process-wide metrics Collector and its scrape
// handler. A disabled Telemetry (cfg.Enabled == false) has a nil
// Collector; every Record* call against a nil Collector is guarded by
// callers checking Enabled first, mirroring how the teacher's noop OTel
// providers absorbed calls when disabled.
type Telemetry struct {
	Collector *metrics.Collector
	Enabled   bool
}

// Init builds a Telemetry from cfg. When cfg.Enabled is false, it returns
// a disabled Telemetry without registering any Prometheus collectors.
func Init(cfg config.TelemetryConfig, logger *zap.Logger) *Telemetry {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Telemetry{}
	}

	namespace := cfg.ServiceName
	if namespace == "" {
		namespace = defaultNamespace
	}

	return &Telemetry{
		Collector: metrics.NewCollector(sanitizeNamespace(namespace), logger),
		Enabled:   true,
	}
}

// Handler returns the Prometheus scrape endpoint. Safe to mount even when
// telemetry is disabled; it then serves the default Prometheus registry,
// on which Init registered no pipeline metrics.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// sanitizeNamespace replaces characters Prometheus metric names disallow
// (everything but [a-zA-Z0-9_]) with underscores.
func sanitizeNamespace(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
