// Package telemetry wires the pipeline's Prometheus metrics Collector and
// scrape handler from config.TelemetryConfig. When telemetry is disabled,
// Init returns a Telemetry with a nil Collector, and Handler still serves
// the default Prometheus registry (with no pipeline metrics registered on
// it), so callers never need a nil check before mounting a route.
package telemetry
