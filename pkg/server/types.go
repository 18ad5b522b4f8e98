package server

import (
	"time"

	"github.com/platinummonkey/lathe/pkg/build"
	"github.com/platinummonkey/lathe/pkg/report"
)

// ProjectSummary is one entry of GET /projects
type ProjectSummary struct {
	Name      string `json:"name"`
	Bsn       string `json:"bsn"`
	Version   string `json:"version"`
	State     string `json:"state"`
	NoBundles bool   `json:"nobundles,omitempty"`
}

// ContainerInfo describes a resolved path entry
type ContainerInfo struct {
	Bsn     string `json:"bsn"`
	Version string `json:"version"`
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Project string `json:"project,omitempty"`
}

// ProjectDetail is the body of GET /projects/{name}
type ProjectDetail struct {
	ProjectSummary
	Buildpath    []ContainerInfo  `json:"buildpath"`
	Testpath     []ContainerInfo  `json:"testpath"`
	Runbundles   []ContainerInfo  `json:"runbundles,omitempty"`
	Dependencies []string         `json:"dependencies"`
	Dependents   []string         `json:"dependents"`
	Errors       []report.Message `json:"errors,omitempty"`
	Warnings     []report.Message `json:"warnings,omitempty"`
}

// StaleResponse is the body of GET /projects/{name}/stale
type StaleResponse struct {
	Project string `json:"project"`
	Stale   bool   `json:"stale"`
}

// BuildRequest is the optional body of POST /build
type BuildRequest struct {
	Projects  []string `json:"projects,omitempty"`
	UnderTest bool     `json:"test,omitempty"`
	Force     bool     `json:"force,omitempty"`
	Baseline  bool     `json:"baseline,omitempty"`
}

// ProjectResult is the outcome of one project in a build response
type ProjectResult struct {
	Project  string   `json:"project"`
	Status   string   `json:"status"`
	Files    []string `json:"files,omitempty"`
	Error    string   `json:"error,omitempty"`
	Duration string   `json:"duration"`
}

// BuildResponse is the body of POST /build
type BuildResponse struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Duration string          `json:"duration"`
	Failed   bool            `json:"failed"`
	Results  []ProjectResult `json:"results"`
}

// ReleaseInfo is one entry of GET /releases/{bsn}
type ReleaseInfo struct {
	Version    string    `json:"version"`
	Repository string    `json:"repository"`
	Location   string    `json:"location"`
	Digest     string    `json:"digest,omitempty"`
	Phase      string    `json:"phase"`
	CreatedAt  time.Time `json:"created_at"`
}

func summarize(p *build.Project) ProjectSummary {
	return ProjectSummary{
		Name:      p.Name(),
		Bsn:       p.Bsn(),
		Version:   p.Version().String(),
		State:     p.State().String(),
		NoBundles: p.IsNoBundles(),
	}
}

func containers(cs []*build.Container) []ContainerInfo {
	out := make([]ContainerInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, ContainerInfo{
			Bsn:     c.Bsn(),
			Version: c.Version(),
			Type:    c.Type().String(),
			Path:    c.Path(),
			Project: c.Project(),
		})
	}
	return out
}

func buildResponse(run *build.Run) BuildResponse {
	resp := BuildResponse{
		ID:       run.ID,
		Started:  run.Started,
		Duration: run.Duration.String(),
		Failed:   run.Failed(),
		Results:  make([]ProjectResult, 0, len(run.Results)),
	}
	for _, r := range run.Results {
		pr := ProjectResult{
			Project:  r.Project,
			Status:   string(r.Status),
			Files:    r.Files,
			Duration: r.Duration.String(),
		}
		if r.Err != nil {
			pr.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, pr)
	}
	return resp
}
