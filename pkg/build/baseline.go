package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/baseline"
	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/report"
	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

// BaselineOptions configures Project.Baseline
type BaselineOptions struct {
	// Extractor reads artifact APIs, SidecarExtractor when nil
	Extractor baseline.Extractor
	// Phases tells staged from final releases. The baseline repository
	// is asked when it reports phases and Phases is nil.
	Phases    baseline.PhaseSource
	Baseliner *baseline.Baseliner
}

// Baseline compares the API of the current build with the closest earlier
// release. Mismatches are recorded on the project reporter. A nil result
// means there was nothing to compare against.
func (p *Project) Baseline(ctx context.Context, opts BaselineOptions) (*baseline.Result, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.runBaseline(ctx, opts)
}

func (p *Project) runBaseline(ctx context.Context, opts BaselineOptions) (*baseline.Result, error) {
	if opts.Extractor == nil {
		opts.Extractor = baseline.SidecarExtractor{}
	}
	if opts.Baseliner == nil {
		opts.Baseliner = baseline.NewBaseliner(p.log, p.ws.metrics)
	}

	files, err := p.buildFiles(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	newer, err := opts.Extractor.Extract(ctx, files[0])
	if err != nil {
		if errors.Is(err, baseline.ErrNoAPI) {
			p.log.Debug("Artifact carries no API, skipping baseline")
			return nil, nil
		}
		return nil, err
	}

	bsn := p.Bsn()
	repo, err := p.baselineRepository(ctx)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, nil
	}

	var pinned *version.Version
	if text := p.Property(PropBaseline, ""); text != "" {
		v, err := version.Parse(text)
		if err != nil {
			loc := p.Descriptor().Location(PropBaseline)
			p.reporter.ErrorAt(loc, "%v", &ConfigurationError{Location: &loc, Text: text, Err: err})
			return nil, nil
		}
		pinned = &v
	}

	versions, err := repo.Versions(ctx, bsn)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("baseline versions of %s: %w", bsn, err)
	}

	phases := opts.Phases
	if phases == nil {
		if pr, ok := repo.(repository.PhaseReporter); ok {
			phases = pr
		}
	}
	older, ok := baseline.SelectBaseline(ctx, versions, bsn, p.Version(), pinned, phases)
	if !ok {
		if pinned != nil {
			p.reporter.ErrorAt(p.Descriptor().Location(PropBaseline),
				"baseline %s;version=%s not found in %s", bsn, pinned, repo.Name())
		}
		p.log.WithField("bsn", bsn).Info("No earlier release to baseline against")
		return nil, nil
	}

	blocker := download.NewBlocker()
	if _, err := repo.Get(ctx, bsn, older, nil, blocker); err != nil {
		return nil, fmt.Errorf("baseline %s;version=%s: %w", bsn, older, err)
	}
	path, err := blocker.FileContext(ctx)
	if err != nil {
		return nil, err
	}
	olderAPI, err := opts.Extractor.Extract(ctx, path)
	if err != nil {
		if errors.Is(err, baseline.ErrNoAPI) {
			p.reporter.Warnf("baseline %s;version=%s carries no API", bsn, older)
			return nil, nil
		}
		return nil, err
	}

	result, err := opts.Baseliner.Check(olderAPI, newer, p.locatePackage)
	if err != nil {
		return nil, err
	}
	result.Report(p.reporter)

	p.log.WithFields(logrus.Fields{
		"baseline":   older.String(),
		"mismatches": len(result.Mismatches()),
	}).Info("Baseline complete")
	return result, nil
}

// baselineRepository returns the baselinerepo repository, else the first
// writable one, else the first one. nil means no repository exists.
func (p *Project) baselineRepository(ctx context.Context) (repository.Plugin, error) {
	repos, err := p.ws.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	if name := p.Property(PropBaselineRepo, ""); name != "" {
		for _, r := range repos {
			if r.Name() == name {
				return r, nil
			}
		}
		p.reporter.ErrorAt(p.Descriptor().Location(PropBaselineRepo), "baseline repository %s not found", name)
		return nil, nil
	}
	for _, r := range repos {
		if r.CanWrite() {
			return r, nil
		}
	}
	if len(repos) > 0 {
		return repos[0], nil
	}
	return nil, nil
}

func (p *Project) locatePackage(pkg string) *report.Location {
	desc := p.Descriptor()
	if pkg == "" {
		loc := desc.Location(PropVersion)
		return &loc
	}
	if prop, ok := desc.Package(pkg); ok {
		loc := prop.Location()
		return &loc
	}
	return nil
}
