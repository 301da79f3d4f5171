// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and health probes for the data room service.
//
// # Logging
//
// Logger wraps log/slog with a JSON handler and a small fluent API:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("link_id", id).Info("share link revoked")
//
// Request-scoped fields (request ID, actor ID) travel through the context
// and are attached via FromContext.
//
// # Metrics
//
// NewMetrics registers all counters, histograms, and gauges on a private
// Prometheus registry. Authorization decisions, link gate outcomes, and
// rate limiter verdicts each have dedicated series.
//
// # Tracing
//
// InitOTel wires OTLP gRPC exporters for traces and metrics when enabled;
// the HTTP surface is wrapped with otelhttp in cmd/dataroom.
package observability
