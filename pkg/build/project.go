package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/report"
	"github.com/platinummonkey/lathe/pkg/version"
)

// State is the preparation state of a project
type State int

const (
	Unprepared State = iota
	Preparing
	Prepared
)

func (s State) String() string {
	return []string{"unprepared", "preparing", "prepared"}[s]
}

// Project is one buildable component directory
type Project struct {
	ws   *Workspace
	name string
	dir  string
	log  logrus.FieldLogger

	reporter *report.Reporter

	mu         sync.Mutex
	desc       *Descriptor
	state      State
	revision   int
	buildpath  []*Container
	testpath   []*Container
	runpath    []*Container
	runbundles []*Container
	runfw      []*Container
	bootpath   []*Container
	buildDeps  []string
	testDeps   []string
	transitive []string
	dependents *orderedSet
	files      []string
}

func newProject(ws *Workspace, name, dir string) (*Project, error) {
	p := &Project{
		ws:         ws,
		name:       name,
		dir:        dir,
		log:        ws.log.WithField("project", name),
		reporter:   report.New(),
		dependents: newOrderedSet(),
	}
	if err := p.loadDescriptor(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) loadDescriptor() error {
	desc, err := LoadDescriptor(filepath.Join(p.dir, DescriptorFile), "")
	if err != nil {
		return err
	}
	desc.WithParent(p.ws.Properties())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.desc = desc
	return nil
}

// Name returns the directory name of the project
func (p *Project) Name() string { return p.name }

// Dir returns the project directory
func (p *Project) Dir() string { return p.dir }

// Workspace returns the owning workspace
func (p *Project) Workspace() *Workspace { return p.ws }

// Reporter returns the project message channel
func (p *Project) Reporter() *report.Reporter { return p.reporter }

// Descriptor returns the current project descriptor
func (p *Project) Descriptor() *Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desc
}

// Property returns a descriptor value or fallback
func (p *Project) Property(key, fallback string) string {
	return p.Descriptor().Get(key, fallback)
}

// Bsn returns the symbolic name, the project name unless declared
func (p *Project) Bsn() string {
	return p.Property(PropBsn, p.name)
}

// Version returns the declared version, zero when absent or malformed
func (p *Project) Version() version.Version {
	text := p.Property(PropVersion, "")
	if text == "" {
		return version.Zero
	}
	v, err := version.Parse(text)
	if err != nil {
		return version.Zero
	}
	return v
}

// IsNoBundles reports whether the project declares no output
func (p *Project) IsNoBundles() bool {
	v := strings.ToLower(strings.TrimSpace(p.Property(PropNoBundles, "")))
	return v != "" && v != "false"
}

// State returns the preparation state
func (p *Project) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Revision counts changes since the project was loaded
func (p *Project) Revision() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revision
}

// SetChanged drops derived state after a file system change
func (p *Project) SetChanged() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Unprepared
	p.revision++
	p.files = nil
}

// PropertiesChanged reloads the descriptor and drops derived state
func (p *Project) PropertiesChanged() error {
	if err := p.loadDescriptor(); err != nil {
		return err
	}
	p.reporter.Clear()
	p.SetChanged()
	p.log.Debug("Properties changed")
	return nil
}

// SourceDir returns the source directory
func (p *Project) SourceDir() string {
	return p.file(p.Property(PropSrc, "src"))
}

// OutputDir returns the output directory
func (p *Project) OutputDir() string {
	return p.file(p.Property(PropBin, "bin"))
}

// TargetDir returns the directory receiving artifacts and the manifest
func (p *Project) TargetDir() string {
	return p.file(p.Property(PropTarget, "generated"))
}

func (p *Project) file(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.dir, rel)
}

func snapshot(cs []*Container) []*Container {
	return append([]*Container(nil), cs...)
}

// Buildpath returns the resolved build path
func (p *Project) Buildpath() []*Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.buildpath)
}

// Testpath returns the resolved test path
func (p *Project) Testpath() []*Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.testpath)
}

// Runpath returns the resolved run path
func (p *Project) Runpath() []*Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.runpath)
}

// Runbundles returns the resolved run bundles
func (p *Project) Runbundles() []*Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.runbundles)
}

// Runfw returns the resolved framework entries
func (p *Project) Runfw() []*Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.runfw)
}

// Bootclasspath returns entries separated from the build and test paths
func (p *Project) Bootclasspath() []*Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.bootpath)
}

// Dependents returns the projects that depend on this one, as recorded by
// their preparation
func (p *Project) Dependents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dependents.items()
}

func (p *Project) addDependent(name string) {
	if name == "" || name == p.name {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dependents.add(name)
}

// BuildDependencies returns the projects needed to compile this one
func (p *Project) BuildDependencies(ctx context.Context) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.buildDependencies(ctx)
}

func (p *Project) buildDependencies(ctx context.Context) ([]string, error) {
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.buildDeps...), nil
}

// TestDependencies returns the projects needed to compile and test this one
func (p *Project) TestDependencies(ctx context.Context) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.testDependencies(ctx)
}

func (p *Project) testDependencies(ctx context.Context) ([]string, error) {
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.testDeps...), nil
}

// Dependencies returns all transitive dependencies, dependencies first
func (p *Project) Dependencies(ctx context.Context) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.dependencies(ctx)
}

func (p *Project) dependencies(ctx context.Context) ([]string, error) {
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.transitive...), nil
}

func (p *Project) String() string {
	return p.name
}

func (p *Project) project(name string) (*Project, error) {
	q, ok := p.ws.Project(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrProjectNotFound)
	}
	return q, nil
}
