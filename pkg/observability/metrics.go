package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution metrics
	ResolutionsTotal *prometheus.CounterVec
	DownloadsTotal   *prometheus.CounterVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Build metrics
	BuildsTotal          *prometheus.CounterVec
	BuildDuration        *prometheus.HistogramVec
	StaleChecksTotal     *prometheus.CounterVec
	ArtifactWriteRetries *prometheus.CounterVec

	// Baseline metrics
	BaselineMismatchesTotal *prometheus.CounterVec

	// Workspace metrics
	ProjectsTotal prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lathe_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_resolutions_total",
				Help: "Total number of dependency resolutions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		DownloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_downloads_total",
				Help: "Total number of repository downloads",
			},
			[]string{"repository", "outcome"},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_version_cache_requests_total",
				Help: "Total number of version cache lookups",
			},
			[]string{"repository", "result"},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_builds_total",
				Help: "Total number of project builds by outcome",
			},
			[]string{"outcome"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lathe_build_duration_seconds",
				Help:    "Project build duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"project"},
		),
		StaleChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_stale_checks_total",
				Help: "Total number of staleness checks",
			},
			[]string{"result"},
		),
		ArtifactWriteRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_artifact_write_retries_total",
				Help: "Total number of retried artifact writes",
			},
			[]string{"strategy"},
		),
		BaselineMismatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lathe_baseline_mismatches_total",
				Help: "Total number of baseline version mismatches",
			},
			[]string{"bsn"},
		),
		ProjectsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lathe_workspace_projects",
				Help: "Number of projects discovered in the workspace",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.DownloadsTotal,
		m.CacheRequestsTotal,
		m.BuildsTotal,
		m.BuildDuration,
		m.StaleChecksTotal,
		m.ArtifactWriteRetries,
		m.BaselineMismatchesTotal,
		m.ProjectsTotal,
	)

	return m
}

// AttachOTel forwards build, resolution, download and baseline records to o
func (m *Metrics) AttachOTel(o *OTelMetrics) {
	if m == nil {
		return
	}
	m.otel = o
}

// RecordResolution counts a container resolution
func (m *Metrics) RecordResolution(strategy, outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(strategy, outcome).Inc()
	m.otel.RecordResolution(context.Background(), strategy, outcome)
}

// RecordDownload counts a repository download
func (m *Metrics) RecordDownload(repository, outcome string) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(repository, outcome).Inc()
	m.otel.RecordDownload(context.Background(), repository, outcome)
}

// RecordCache counts a version cache lookup
func (m *Metrics) RecordCache(repository, result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(repository, result).Inc()
}

// RecordBuild counts a build and observes its duration
func (m *Metrics) RecordBuild(project, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BuildsTotal.WithLabelValues(outcome).Inc()
	m.BuildDuration.WithLabelValues(project).Observe(duration.Seconds())
	m.otel.RecordBuild(context.Background(), project, outcome, duration)
}

// RecordStaleCheck counts a staleness decision
func (m *Metrics) RecordStaleCheck(stale bool) {
	if m == nil {
		return
	}
	result := "fresh"
	if stale {
		result = "stale"
	}
	m.StaleChecksTotal.WithLabelValues(result).Inc()
}

// RecordWriteRetry counts an artifact write retry
func (m *Metrics) RecordWriteRetry(strategy string) {
	if m == nil {
		return
	}
	m.ArtifactWriteRetries.WithLabelValues(strategy).Inc()
}

// RecordBaselineMismatch counts a baseline mismatch
func (m *Metrics) RecordBaselineMismatch(bsn string) {
	if m == nil {
		return
	}
	m.BaselineMismatchesTotal.WithLabelValues(bsn).Inc()
	m.otel.RecordBaselineMismatch(context.Background(), bsn)
}

// SetProjects sets the workspace project gauge
func (m *Metrics) SetProjects(n int) {
	if m == nil {
		return
	}
	m.ProjectsTotal.Set(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathFn maps a request to a low cardinality label; nil uses the URL path.
func HTTPMetricsMiddleware(metrics *Metrics, pathFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}
			path := r.URL.Path
			if pathFn != nil {
				path = pathFn(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
