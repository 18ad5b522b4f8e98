package build

import (
	"context"
	"os"
	"strings"

	"github.com/platinummonkey/lathe/pkg/clause"
)

// Prepare resolves the declared paths and computes the dependency sets.
// Resolution failures are recorded on the reporter and leave the project
// unprepared. A dependency cycle is returned as *CircularDependencyError.
func (p *Project) Prepare(ctx context.Context) error {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.prepare(ctx)
}

func (p *Project) prepare(ctx context.Context) error {
	s := sessionFrom(ctx, p.ws)
	if p.State() == Prepared || s.failed[p.name] {
		return nil
	}
	if err := s.enter(p.name); err != nil {
		p.log.WithError(err).Error("Circular dependency")
		return err
	}
	defer s.leave(p.name)

	p.mu.Lock()
	p.state = Preparing
	rev := p.revision
	p.mu.Unlock()

	ok := false
	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ok && p.revision == rev {
			p.state = Prepared
		} else if p.state == Preparing {
			p.state = Unprepared
		}
	}()

	p.reporter.Clear()
	p.log.Debug("Preparing project")

	out := p.OutputDir()
	for _, dir := range []string{out, p.TargetDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			p.reporter.Errorf("%v", &FilesystemError{Op: "mkdir", Path: dir, Err: err})
			continue
		}
	}

	buildDeps := newOrderedSet()
	for _, name := range p.dependson() {
		buildDeps.add(name)
	}

	buildpath, err := p.resolvePath(ctx, PropBuildpath, StrategyLowest)
	if err != nil {
		return err
	}
	testpath, err := p.resolvePath(ctx, PropTestpath, StrategyHighest)
	if err != nil {
		return err
	}
	runpath, err := p.resolvePath(ctx, PropRunpath, StrategyHighest)
	if err != nil {
		return err
	}
	runbundles, err := p.resolvePath(ctx, PropRunbundles, StrategyHighest)
	if err != nil {
		return err
	}
	runfw, err := p.resolvePath(ctx, PropRunfw, StrategyHighest)
	if err != nil {
		return err
	}

	var boot []*Container
	buildpath, boot = splitBoot(buildpath, boot)
	testpath, boot = splitBoot(testpath, boot)

	for _, c := range buildpath {
		if c.typ == TypeProject && c.project != p.name {
			buildDeps.add(c.project)
		}
	}
	testDeps := newOrderedSet()
	for _, name := range buildDeps.items() {
		testDeps.add(name)
	}
	for _, path := range [][]*Container{testpath, runpath, runbundles, runfw} {
		for _, c := range path {
			if c.typ == TypeProject && c.project != p.name {
				testDeps.add(c.project)
			}
		}
	}

	own := newContainer(TypeProject, p.name, p.Bsn(), "project", out, nil)
	own.project = p.name
	withOwn := []*Container{own}
	for _, c := range buildpath {
		if c.Key() != own.Key() {
			withOwn = append(withOwn, c)
		}
	}

	p.mu.Lock()
	p.buildpath = withOwn
	p.testpath = testpath
	p.runpath = runpath
	p.runbundles = runbundles
	p.runfw = runfw
	p.bootpath = boot
	p.buildDeps = buildDeps.items()
	p.testDeps = testDeps.items()
	p.mu.Unlock()

	transitive := newOrderedSet()
	visited := map[string]bool{p.name: true}
	for _, name := range testDeps.items() {
		q, err := p.project(name)
		if err != nil {
			p.reporter.Errorf("%v", err)
			continue
		}
		if err := q.traverse(ctx, transitive, p.name, visited); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.transitive = transitive.items()
	p.mu.Unlock()

	ok = p.reporter.IsOK()
	if !ok {
		s.failed[p.name] = true
		p.log.WithField("errors", len(p.reporter.Errors())).Warn("Project prepared with errors")
	}
	return nil
}

// traverse adds the dependencies of p and then p to set, children first,
// and records dependent as a dependent of p
func (p *Project) traverse(ctx context.Context, set *orderedSet, dependent string, visited map[string]bool) error {
	if !visited[p.name] {
		visited[p.name] = true
		deps, err := p.testDependencies(ctx)
		if err != nil {
			return err
		}
		for _, name := range deps {
			q, err := p.project(name)
			if err != nil {
				continue
			}
			if err := q.traverse(ctx, set, p.name, visited); err != nil {
				return err
			}
		}
		set.add(p.name)
	}
	p.addDependent(dependent)
	return nil
}

// dependson returns the declared build order dependencies that exist
func (p *Project) dependson() []string {
	prop, ok := p.Descriptor().Property(PropDependson)
	if !ok || strings.TrimSpace(prop.Value) == "" {
		return nil
	}
	clauses, err := clause.Parse(prop.Value)
	if err != nil {
		p.reporter.ErrorAt(prop.Location(), "%v", &ConfigurationError{Text: prop.Value, Err: err})
		return nil
	}
	var names []string
	for _, c := range clauses {
		name := c.Key()
		if name == p.name {
			continue
		}
		if _, ok := p.ws.Project(name); !ok {
			p.reporter.ErrorAt(prop.Location(), "dependson: no such project %s", name)
			continue
		}
		names = append(names, name)
	}
	return names
}

// resolvePath resolves and flattens the clauses of a path property.
// Failed entries are reported and left out.
func (p *Project) resolvePath(ctx context.Context, key string, strategy Strategy) ([]*Container, error) {
	prop, ok := p.Descriptor().Property(key)
	if !ok || strings.TrimSpace(prop.Value) == "" {
		return nil, nil
	}
	loc := prop.Location()

	clauses, err := clause.Parse(prop.Value)
	if err != nil {
		p.reporter.ErrorAt(loc, "%v", &ConfigurationError{Location: &loc, Text: prop.Value, Err: err})
		return nil, nil
	}

	var resolved []*Container
	for _, c := range clauses {
		bsn := c.Key()
		rng := c.Attr("version", "")
		if isPattern(bsn) {
			cs, err := p.getBundlesWildcard(ctx, bsn, rng, strategy, c.Attrs)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, cs...)
			continue
		}
		container, err := p.getBundle(ctx, bsn, rng, strategy, c.Attrs)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, container)
	}

	flat, err := Flatten(ctx, resolved)
	if err != nil {
		return nil, err
	}

	out := make([]*Container, 0, len(flat))
	for _, c := range flat {
		if c.typ == TypeError {
			p.reporter.ErrorAt(loc, "%s", c.err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// splitBoot moves entries for the boot class path from path to boot
func splitBoot(path, boot []*Container) ([]*Container, []*Container) {
	kept := path[:0:0]
	for _, c := range path {
		if strings.HasPrefix(c.bsn, "ee.") || c.attrs["boot"] != "" {
			boot = append(boot, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, boot
}

func isPattern(bsn string) bool {
	return strings.ContainsAny(bsn, "*?[{")
}
