// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes the logging, metrics and tracing setup shared by
// the workspace engine, the CLI and the status server.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, "json", os.Stderr)
//	logger.WithField("project", "com.acme.api").Info("build complete")
//
// Context-aware logging:
//
//	ctx = observability.WithLogger(ctx, logger.WithField("run", runID))
//	observability.FromContext(ctx).Warn("project is stale")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordResolution("highest", "resolved")
//
// All recording helpers accept a nil *Metrics so components can run without
// instrumentation.
//
// # Tracing
//
// InitTracing installs an OTLP gRPC exporter when enabled. Components create
// spans through otel.Tracer and stay silent when tracing is disabled.
package observability
