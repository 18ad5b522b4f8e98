package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/lathe/pkg/build"
	"github.com/platinummonkey/lathe/pkg/httputil"
)

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.ws.Projects()
	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, summarize(p))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// project looks the {name} path parameter up and writes a 404 when absent
func (s *Server) project(w http.ResponseWriter, r *http.Request) (*build.Project, bool) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return nil, false
	}
	p, err := s.ws.MustProject(name)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return nil, false
	}
	return p, true
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}

	deps, err := p.Dependencies(r.Context())
	if err != nil {
		s.writeBuildError(w, err)
		return
	}

	detail := ProjectDetail{
		ProjectSummary: summarize(p),
		Buildpath:      containers(p.Buildpath()),
		Testpath:       containers(p.Testpath()),
		Runbundles:     containers(p.Runbundles()),
		Dependencies:   deps,
		Dependents:     p.Dependents(),
		Errors:         p.Reporter().Errors(),
		Warnings:       p.Reporter().Warnings(),
	}
	if detail.Dependencies == nil {
		detail.Dependencies = []string{}
	}
	if detail.Dependents == nil {
		detail.Dependents = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (s *Server) getStale(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(w, r)
	if !ok {
		return
	}
	stale, err := p.IsStale(r.Context())
	if err != nil {
		s.writeBuildError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StaleResponse{Project: p.Name(), Stale: stale})
}

func (s *Server) getBuildOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.ws.BuildOrder(r.Context())
	if err != nil {
		s.writeBuildError(w, err)
		return
	}
	names := make([]string, 0, len(order))
	for _, p := range order {
		names = append(names, p.Name())
	}
	httputil.WriteJSON(w, http.StatusOK, names)
}

func (s *Server) postBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	force, err := httputil.ParseQueryBool(r, "force", req.Force)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if !s.building.CompareAndSwap(false, true) {
		httputil.WriteConflict(w, "a build is already running")
		return
	}
	defer s.building.Store(false)

	run, err := s.orch.Build(r.Context(), build.RunOptions{
		Projects:        req.Projects,
		UnderTest:       req.UnderTest,
		Force:           force,
		Baseline:        req.Baseline,
		BaselineOptions: s.opts.BaselineOptions,
	})
	if err != nil {
		s.writeBuildError(w, err)
		return
	}

	s.log.WithField("run_id", run.ID).WithField("failed", run.Failed()).Info("Build requested over HTTP finished")
	status := http.StatusOK
	if run.Failed() {
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, buildResponse(run))
}

func (s *Server) listReleases(w http.ResponseWriter, r *http.Request) {
	bsn, ok := httputil.ParsePathStringOrError(w, r, "bsn")
	if !ok {
		return
	}
	rels, err := s.opts.Releases.Releases(r.Context(), bsn)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	out := make([]ReleaseInfo, 0, len(rels))
	for _, rel := range rels {
		out = append(out, ReleaseInfo{
			Version:    rel.Version.String(),
			Repository: rel.Repository,
			Location:   rel.Location,
			Digest:     rel.Digest,
			Phase:      rel.Phase.String(),
			CreatedAt:  rel.CreatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// writeBuildError maps engine errors to status codes
func (s *Server) writeBuildError(w http.ResponseWriter, err error) {
	var cycle *build.CircularDependencyError
	switch {
	case errors.As(err, &cycle):
		httputil.WriteDetailedError(w, http.StatusConflict, err, map[string]string{
			"chain": strings.Join(cycle.Chain, ","),
		})
	case errors.Is(err, build.ErrProjectNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, build.ErrWorkspaceClosed):
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, err)
	}
}
