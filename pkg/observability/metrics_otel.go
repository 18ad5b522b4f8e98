package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for the build engine. They
// mirror the Prometheus counters for collectors that only speak OTLP.
type OTelMetrics struct {
	buildsTotal        metric.Int64Counter
	buildDuration      metric.Float64Histogram
	resolutionsTotal   metric.Int64Counter
	downloadsTotal     metric.Int64Counter
	baselineMismatches metric.Int64Counter
}

// NewOTelMetrics creates the instruments on provider, or on the global
// meter provider when provider is nil
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/platinummonkey/lathe")

	m := &OTelMetrics{}
	var err error

	m.buildsTotal, err = meter.Int64Counter(
		"lathe.builds",
		metric.WithDescription("Total number of project builds"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create builds counter: %w", err)
	}

	m.buildDuration, err = meter.Float64Histogram(
		"lathe.build.duration",
		metric.WithDescription("Project build duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create build duration histogram: %w", err)
	}

	m.resolutionsTotal, err = meter.Int64Counter(
		"lathe.resolutions",
		metric.WithDescription("Total number of container resolutions"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	m.downloadsTotal, err = meter.Int64Counter(
		"lathe.downloads",
		metric.WithDescription("Total number of repository downloads"),
		metric.WithUnit("{download}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create downloads counter: %w", err)
	}

	m.baselineMismatches, err = meter.Int64Counter(
		"lathe.baseline.mismatches",
		metric.WithDescription("Total number of baseline version mismatches"),
		metric.WithUnit("{mismatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create baseline mismatch counter: %w", err)
	}

	return m, nil
}

// RecordBuild records a finished project build
func (m *OTelMetrics) RecordBuild(ctx context.Context, project, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.buildsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.buildDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("project", project)))
}

// RecordResolution records a container resolution
func (m *OTelMetrics) RecordResolution(ctx context.Context, strategy, outcome string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}

// RecordDownload records a repository download
func (m *OTelMetrics) RecordDownload(ctx context.Context, repository, outcome string) {
	if m == nil {
		return
	}
	m.downloadsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("outcome", outcome),
	))
}

// RecordBaselineMismatch records one baseline mismatch
func (m *OTelMetrics) RecordBaselineMismatch(ctx context.Context, bsn string) {
	if m == nil {
		return
	}
	m.baselineMismatches.Add(ctx, 1, metric.WithAttributes(attribute.String("bsn", bsn)))
}
