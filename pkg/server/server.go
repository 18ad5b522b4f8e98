// Package server exposes a workspace over a small JSON status API.
package server

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/lathe/pkg/build"
	"github.com/platinummonkey/lathe/pkg/httputil"
	"github.com/platinummonkey/lathe/pkg/observability"
	"github.com/platinummonkey/lathe/pkg/releases"
)

// maxBodyBytes bounds POST bodies
const maxBodyBytes = 1 << 20

// Options configures the server
type Options struct {
	Logger logrus.FieldLogger
	// Registry is served on /metrics when set
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	// Health answers /healthz and /readyz, a dependency free checker when nil
	Health *observability.HealthChecker
	// Releases enables GET /releases/{bsn}
	Releases *releases.Index
	// BaselineOptions is used by builds that ask for a baseline
	BaselineOptions build.BaselineOptions
}

// Server serves the status API of one workspace
type Server struct {
	ws       *build.Workspace
	orch     *build.Orchestrator
	router   *mux.Router
	opts     Options
	log      logrus.FieldLogger
	building atomic.Bool
}

// New creates a server for ws
func New(ws *build.Workspace, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker(nil, nil, "")
	}
	s := &Server{
		ws:     ws,
		orch:   build.NewOrchestrator(ws),
		router: mux.NewRouter(),
		opts:   opts,
		log:    opts.Logger.WithField("component", "server"),
	}
	s.setupRoutes()
	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics, routeTemplate))
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.opts.Health.Liveness).Methods("GET")
	s.router.HandleFunc("/readyz", s.opts.Health.Readiness).Methods("GET")

	s.router.HandleFunc("/projects", s.listProjects).Methods("GET")
	s.router.HandleFunc("/projects/{name}", s.getProject).Methods("GET")
	s.router.HandleFunc("/projects/{name}/stale", s.getStale).Methods("GET")
	s.router.HandleFunc("/buildorder", s.getBuildOrder).Methods("GET")
	s.router.HandleFunc("/build", s.postBuild).Methods("POST")

	if s.opts.Releases != nil {
		s.router.HandleFunc("/releases/{bsn}", s.listReleases).Methods("GET")
	}
	if s.opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Registry)).Methods("GET")
	}
}

// routeTemplate labels metrics with the matched route instead of the path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// Handler returns the instrumented handler
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware(s.log),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	return otelhttp.NewHandler(chain(s.router), "lathe")
}

// ServeHTTP implements http.Handler without the middleware chain
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
