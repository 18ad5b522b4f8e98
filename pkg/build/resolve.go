package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/clause"
	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

// Strategy selects among versions satisfying a range
type Strategy int

const (
	StrategyHighest Strategy = iota
	StrategyLowest
	StrategyExact
)

func (s Strategy) String() string {
	return []string{"HIGHEST", "LOWEST", "EXACT"}[s]
}

// ParseStrategy parses a strategy name, ignoring case
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highest":
		return StrategyHighest, true
	case "lowest":
		return StrategyLowest, true
	case "exact":
		return StrategyExact, true
	}
	return StrategyHighest, false
}

// Reserved version attribute values
const (
	VersionProject  = "project"
	VersionSnapshot = "snapshot"
	VersionLatest   = "latest"
	VersionFile     = "file"
	VersionHash     = "hash"
)

// GetBundle resolves one dependency. Failures are returned as a TypeError
// container; the error result is reserved for cancellation.
func (p *Project) GetBundle(ctx context.Context, bsn, rng string, strategy Strategy, attrs map[string]string) (*Container, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.getBundle(ctx, bsn, rng, strategy, attrs)
}

func (p *Project) getBundle(ctx context.Context, bsn, rng string, strategy Strategy, attrs map[string]string) (*Container, error) {
	if rng == "" {
		rng = "0"
	}

	switch rng {
	case VersionSnapshot, VersionProject:
		if c := p.bundleFromProject(bsn, rng, attrs); c != nil {
			return c, nil
		}
		return p.failed(bsn, rng, strategy, nil, "no such project in workspace"), nil
	case VersionFile:
		return p.fileContainer(bsn, attrs), nil
	case VersionHash:
		return p.hashContainer(ctx, bsn, attrs)
	case VersionLatest:
		if c := p.bundleFromProject(bsn, rng, attrs); c != nil {
			return c, nil
		}
		strategy = StrategyHighest
		rng = "0"
	default:
		strategy = p.overrideStrategy(attrs, strategy)
	}

	repos, err := p.ws.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	repos = repository.Filter(repos, attrs["repo"])

	if strategy == StrategyExact {
		return p.exact(ctx, bsn, rng, repos, attrs)
	}

	r, err := version.ParseRange(rng)
	if err != nil {
		return p.failed(bsn, rng, strategy, nil, (&ConfigurationError{Text: rng, Err: err}).Error()), nil
	}
	return p.selectVersion(ctx, bsn, rng, r, strategy, repos, attrs)
}

func (p *Project) overrideStrategy(attrs map[string]string, strategy Strategy) Strategy {
	text := attrs["strategy"]
	if text == "" {
		return strategy
	}
	s, ok := ParseStrategy(text)
	if !ok {
		p.reporter.Warnf("unknown strategy %q, using %s", text, strategy)
		return strategy
	}
	return s
}

// bundleFromProject finds the workspace project providing bsn. Trailing
// dot separated segments are dropped until a project matches.
func (p *Project) bundleFromProject(bsn, rng string, attrs map[string]string) *Container {
	name := bsn
	for {
		if q, ok := p.ws.Project(name); ok {
			return p.projectContainer(q, bsn, rng, attrs)
		}
		i := strings.LastIndex(name, ".")
		if i <= 0 {
			return nil
		}
		name = name[:i]
	}
}

func (p *Project) projectContainer(q *Project, bsn, rng string, attrs map[string]string) *Container {
	c := newContainer(TypeProject, p.name, bsn, rng, q.OutputDir(), attrs)
	c.project = q.name
	return c
}

func (p *Project) fileContainer(path string, attrs map[string]string) *Container {
	file := p.file(path)
	info, err := os.Stat(file)
	if err != nil {
		return errorContainer(p.name, path, VersionFile, "file does not exist: "+file, attrs)
	}
	typ := TypeExternal
	if info.IsDir() || strings.HasSuffix(file, LibraryExt) {
		typ = TypeLibrary
	}
	c := newContainer(typ, p.name, path, VersionFile, file, attrs)
	c.resolve = p.resolveMember
	return c
}

func (p *Project) hashContainer(ctx context.Context, bsn string, attrs map[string]string) (*Container, error) {
	digest := attrs["hash"]
	if digest == "" {
		return p.failed(bsn, VersionHash, StrategyExact, nil, "hash attribute is required"), nil
	}

	repos, err := p.ws.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	repos = repository.Filter(repos, attrs["repo"])

	var reasons []string
	for _, repo := range repos {
		locator, ok := repo.(repository.Locator)
		if !ok {
			continue
		}
		located, v, err := locator.Locate(ctx, digest)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrUnsupported) {
				reasons = append(reasons, repo.Name()+": "+err.Error())
			}
			continue
		}
		if located != bsn {
			return p.failed(bsn, VersionHash, StrategyExact, repos,
				fmt.Sprintf("digest %s identifies %s;version=%s", digest, located, v)), nil
		}
		c, err := p.fetch(ctx, repo, bsn, v, StrategyExact, attrs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			reasons = append(reasons, repo.Name()+": "+err.Error())
			continue
		}
		return c, nil
	}
	return p.failed(bsn, VersionHash, StrategyExact, repos, strings.Join(reasons, "; ")), nil
}

func (p *Project) exact(ctx context.Context, bsn, rng string, repos []repository.Plugin, attrs map[string]string) (*Container, error) {
	v, err := version.Parse(rng)
	if err != nil {
		return p.failed(bsn, rng, StrategyExact, repos, "EXACT requires a single version"), nil
	}

	var reasons []string
	for _, repo := range repos {
		c, err := p.fetch(ctx, repo, bsn, v, StrategyExact, attrs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, repository.ErrNotFound) {
				reasons = append(reasons, repo.Name()+": "+err.Error())
			}
			continue
		}
		return c, nil
	}
	return p.failed(bsn, rng, StrategyExact, repos, strings.Join(reasons, "; ")), nil
}

type candidate struct {
	repo    repository.Plugin
	project *Project
}

// selectVersion picks the highest or lowest version over the local
// projects and every repository. The first provider of a version wins and
// local projects are consulted first.
func (p *Project) selectVersion(ctx context.Context, bsn, rng string, r version.Range, strategy Strategy, repos []repository.Plugin, attrs map[string]string) (*Container, error) {
	candidates := make(map[version.Version]candidate)

	for _, q := range p.ws.Projects() {
		if q.Bsn() != bsn || q.IsNoBundles() {
			continue
		}
		v := q.Version()
		if _, seen := candidates[v]; !seen && r.Includes(v) {
			candidates[v] = candidate{project: q}
		}
	}

	var reasons []string
	for _, repo := range repos {
		vs, err := repo.Versions(ctx, bsn)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, repository.ErrUnsupported) {
				// plugins that cannot list may still serve a concrete version
				if v, perr := version.Parse(rng); perr == nil {
					if c, ferr := p.fetch(ctx, repo, bsn, v, strategy, attrs); ferr == nil {
						return c, nil
					}
				}
				continue
			}
			reasons = append(reasons, repo.Name()+": "+err.Error())
			continue
		}
		for _, v := range vs {
			if _, seen := candidates[v]; !seen && r.Includes(v) {
				candidates[v] = candidate{repo: repo}
			}
		}
	}

	if len(candidates) == 0 {
		return p.failed(bsn, rng, strategy, repos, strings.Join(reasons, "; ")), nil
	}

	versions := make([]version.Version, 0, len(candidates))
	for v := range candidates {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })

	winner := versions[len(versions)-1]
	if strategy == StrategyLowest {
		winner = versions[0]
	}

	provider := candidates[winner]
	if provider.project != nil {
		p.ws.metrics.RecordResolution(strategy.String(), "project")
		return p.projectContainer(provider.project, bsn, winner.String(), attrs), nil
	}

	c, err := p.fetch(ctx, provider.repo, bsn, winner, strategy, attrs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return p.failed(bsn, rng, strategy, repos, provider.repo.Name()+": "+err.Error()), nil
	}
	return c, nil
}

// fetch asks repo for an artifact. The container waits for the download
// through a blocker when its file is requested.
func (p *Project) fetch(ctx context.Context, repo repository.Plugin, bsn string, v version.Version, strategy Strategy, attrs map[string]string) (*Container, error) {
	blocker := download.NewBlocker()
	path, err := repo.Get(ctx, bsn, v, attrs, blocker)
	if err != nil {
		return nil, err
	}

	typ := TypeRepo
	if strings.HasSuffix(path, LibraryExt) {
		typ = TypeLibrary
	}
	c := newContainer(typ, p.name, bsn, v.String(), path, attrs)
	c.blocker = blocker
	c.resolve = p.resolveMember

	p.ws.metrics.RecordResolution(strategy.String(), "resolved")
	p.log.WithFields(logrus.Fields{
		"bsn":        bsn,
		"version":    v.String(),
		"repository": repo.Name(),
	}).Debug("Resolved dependency")
	return c, nil
}

func (p *Project) failed(bsn, rng string, strategy Strategy, repos []repository.Plugin, reason string) *Container {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name())
	}
	err := &ResolutionError{
		Bsn:          bsn,
		Version:      rng,
		Strategy:     strategy,
		Repositories: names,
		Reason:       reason,
	}
	p.ws.metrics.RecordResolution(strategy.String(), "failed")
	return errorContainer(p.name, bsn, rng, err.Error(), nil)
}

// resolveMember resolves a library line with the HIGHEST default
func (p *Project) resolveMember(ctx context.Context, c clause.Clause) (*Container, error) {
	return p.getBundle(ctx, c.Key(), c.Attr("version", ""), StrategyHighest, c.Attrs)
}

// GetBundlesWildcard resolves every bsn matching pattern independently
func (p *Project) GetBundlesWildcard(ctx context.Context, pattern, rng string, strategy Strategy, attrs map[string]string) ([]*Container, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.getBundlesWildcard(ctx, pattern, rng, strategy, attrs)
}

func (p *Project) getBundlesWildcard(ctx context.Context, pattern, rng string, strategy Strategy, attrs map[string]string) ([]*Container, error) {
	if rng == "" {
		rng = "0"
	}
	strategy = p.overrideStrategy(attrs, strategy)
	if strategy == StrategyExact || rng == VersionSnapshot || rng == VersionProject {
		return []*Container{p.failed(pattern, rng, strategy, nil,
			"wildcards cannot be resolved with EXACT, snapshot or project")}, nil
	}

	repos, err := p.ws.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	repos = repository.Filter(repos, attrs["repo"])

	names := newOrderedSet()
	for _, repo := range repos {
		list, err := repo.List(ctx, pattern)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.reporter.Warnf("repository %s: list %s: %v", repo.Name(), pattern, err)
			continue
		}
		sort.Strings(list)
		for _, name := range list {
			names.add(name)
		}
	}
	if names.len() == 0 {
		return []*Container{p.failed(pattern, rng, strategy, repos, "no bundle matches the pattern")}, nil
	}

	out := make([]*Container, 0, names.len())
	for _, name := range names.items() {
		c, err := p.getBundle(ctx, name, rng, strategy, attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
