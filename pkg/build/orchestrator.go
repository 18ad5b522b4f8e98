package build

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/lathe/pkg/baseline"
	"github.com/platinummonkey/lathe/pkg/observability"
)

var buildTracer = otel.Tracer("lathe/build")

// Status is the outcome of one project in a run
type Status string

const (
	StatusBuilt   Status = "built"
	StatusFresh   Status = "fresh"
	StatusNone    Status = "none"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// RunOptions selects what Orchestrator.Build does
type RunOptions struct {
	// Projects restricts the run to these projects and their
	// dependencies; empty means every project
	Projects  []string
	UnderTest bool
	// Force builds projects that are not stale
	Force    bool
	Baseline bool
	// BaselineOptions is used when Baseline is set
	BaselineOptions BaselineOptions
}

// Result is the outcome for one project
type Result struct {
	Project  string
	Status   Status
	Files    []string
	Err      error
	Duration time.Duration
	Baseline *baseline.Result
}

// Run is one orchestrated build
type Run struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

// Failed reports whether any project failed or was skipped
func (r *Run) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusSkipped {
			return true
		}
	}
	return false
}

// Result returns the result for a project
func (r *Run) Result(project string) (Result, bool) {
	for _, res := range r.Results {
		if res.Project == project {
			return res, true
		}
	}
	return Result{}, false
}

// Orchestrator builds workspace projects in dependency order
type Orchestrator struct {
	ws  *Workspace
	log logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator for w
func NewOrchestrator(w *Workspace) *Orchestrator {
	return &Orchestrator{ws: w, log: w.log.WithField("component", "orchestrator")}
}

// Build builds every selected project after its dependencies. Projects
// whose dependencies failed are skipped. Only cycles, cancellation and
// unknown project names are returned as errors; per project failures are
// in the run results.
func (o *Orchestrator) Build(ctx context.Context, opts RunOptions) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Started: time.Now()}
	ctx = observability.WithRunID(ctx, run.ID)
	log := o.log.WithField("run_id", run.ID)

	ctx, span := buildTracer.Start(ctx, "Build",
		trace.WithAttributes(
			attribute.String("run_id", run.ID),
			attribute.StringSlice("projects", opts.Projects),
		),
	)
	defer span.End()

	ctx, done := o.ws.begin(ctx)
	defer done()

	selected := o.ws.Projects()
	if len(opts.Projects) > 0 {
		selected = nil
		for _, name := range opts.Projects {
			p, err := o.ws.MustProject(name)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "unknown project")
				return nil, err
			}
			selected = append(selected, p)
		}
	}

	order, err := o.ws.buildOrder(ctx, selected)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compute build order")
		return nil, err
	}
	log.WithField("projects", len(order)).Info("Starting build")

	failed := make(map[string]bool)
	for _, p := range order {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		res, err := o.buildProject(ctx, p, opts, failed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build aborted")
			return run, err
		}
		if res.Status == StatusFailed || res.Status == StatusSkipped {
			failed[p.name] = true
		}
		run.Results = append(run.Results, res)
	}

	run.Duration = time.Since(run.Started)
	if run.Failed() {
		span.SetStatus(codes.Error, "projects failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	log.WithFields(logrus.Fields{
		"duration": run.Duration,
		"failed":   run.Failed(),
	}).Info("Build finished")
	return run, nil
}

func (o *Orchestrator) buildProject(ctx context.Context, p *Project, opts RunOptions, failed map[string]bool) (Result, error) {
	ctx, span := buildTracer.Start(ctx, "BuildProject",
		trace.WithAttributes(attribute.String("project", p.name)),
	)
	defer span.End()

	start := time.Now()
	res := Result{Project: p.name}
	log := observability.WithTraceContext(ctx, p.log)

	deps, err := p.dependencies(ctx)
	if err != nil {
		return res, err
	}
	for _, d := range deps {
		if failed[d] {
			res.Status = StatusSkipped
			res.Err = errors.New("dependency " + d + " failed")
			log.WithField("dependency", d).Warn("Skipping project")
			o.ws.metrics.RecordBuild(p.name, string(StatusSkipped), 0)
			return res, nil
		}
	}

	if p.IsNoBundles() {
		res.Status = StatusNone
		return res, nil
	}

	stale := true
	if !opts.Force {
		if stale, err = p.isStale(ctx, make(map[string]bool)); err != nil {
			var cycle *CircularDependencyError
			if errors.As(err, &cycle) {
				return res, err
			}
			res.Status, res.Err = StatusFailed, err
			return res, nil
		}
		o.ws.metrics.RecordStaleCheck(stale)
	}

	if stale {
		res.Files, err = p.buildLocal(ctx, opts.UnderTest)
		res.Status = StatusBuilt
	} else {
		res.Files, err = p.buildFiles(ctx, false)
		res.Status = StatusFresh
		o.ws.metrics.RecordBuild(p.name, string(StatusFresh), 0)
	}
	if err != nil {
		var cycle *CircularDependencyError
		if errors.As(err, &cycle) || ctx.Err() != nil {
			return res, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		log.WithError(err).Error("Project build failed")
		res.Status, res.Err = StatusFailed, err
		res.Duration = time.Since(start)
		return res, nil
	}

	if opts.Baseline && res.Status == StatusBuilt {
		bopts := opts.BaselineOptions
		if res.Baseline, err = p.runBaseline(ctx, bopts); err != nil {
			log.WithError(err).Warn("Baseline failed")
			p.reporter.Warnf("baseline failed: %v", err)
		} else if res.Baseline != nil && len(res.Baseline.Mismatches()) > 0 {
			res.Status = StatusFailed
			res.Err = res.Baseline.Mismatches()[0]
		}
	}

	res.Duration = time.Since(start)
	span.SetAttributes(attribute.String("status", string(res.Status)))
	return res, nil
}
