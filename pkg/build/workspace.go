package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/lathe/pkg/config"
	"github.com/platinummonkey/lathe/pkg/observability"
	"github.com/platinummonkey/lathe/pkg/report"
	"github.com/platinummonkey/lathe/pkg/repository"
)

// Options configures a workspace
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	// Redis backs the shared version cache of cached repositories
	Redis *redis.Client
	// Overwrite writes build artifacts, DirectStrategy when nil
	Overwrite OverwriteStrategy
	// Builder produces artifacts, ArchiveBuilder when nil
	Builder Builder
	// Repositories are consulted after the configured ones
	Repositories []repository.Plugin
	// Hooks run before every local build
	Hooks []PreBuildHook
	// Watch starts a directory watcher invalidating discovery
	Watch bool
}

// Listener is told about files changed by the build
type Listener interface {
	Changed(path string)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(path string)

// Changed implements Listener
func (f ListenerFunc) Changed(path string) { f(path) }

// Workspace owns the projects under a root directory and the repositories
// they resolve against
type Workspace struct {
	root    string
	opts    Options
	log     logrus.FieldLogger
	metrics *observability.Metrics

	// opMu serialises top level operations
	opMu sync.Mutex

	mu           sync.RWMutex
	projects     map[string]*Project
	constructing map[string]bool
	discovered   []string
	discoveryOK  bool
	repos        []repository.Plugin
	reposOK      bool
	properties   *Descriptor
	file         *config.WorkspaceFile
	listeners    []Listener
	reporter     *report.Reporter
	watcher      *Watcher
	closed       bool
}

// Open creates a workspace rooted at root
func Open(root string, opts Options) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Overwrite == nil {
		opts.Overwrite = DirectStrategy{}
	}
	if opts.Builder == nil {
		opts.Builder = ArchiveBuilder{}
	}

	w := &Workspace{
		root:         abs,
		opts:         opts,
		log:          opts.Logger.WithField("workspace", abs),
		metrics:      opts.Metrics,
		projects:     make(map[string]*Project),
		constructing: make(map[string]bool),
		reporter:     report.New(),
	}
	if err := w.loadConfiguration(); err != nil {
		return nil, err
	}

	if opts.Watch {
		watcher, err := NewWatcher(w)
		if err != nil {
			return nil, err
		}
		w.watcher = watcher
	}

	w.log.Debug("Workspace opened")
	return w, nil
}

func (w *Workspace) loadConfiguration() error {
	file, err := config.LoadWorkspaceFile(w.root)
	if err != nil {
		return &ConfigurationError{
			Location: &report.Location{File: config.WorkspaceFilePath(w.root)},
			Text:     config.WorkspaceFileName,
			Err:      err,
		}
	}
	props, err := LoadDescriptor(config.WorkspaceFilePath(w.root), "properties")
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.file = file
	w.properties = props
	return nil
}

// Root returns the absolute workspace directory
func (w *Workspace) Root() string { return w.root }

// Logger returns the workspace logger
func (w *Workspace) Logger() logrus.FieldLogger { return w.log }

// Reporter holds workspace level messages such as repository failures
func (w *Workspace) Reporter() *report.Reporter { return w.reporter }

// Properties returns the workspace wide property defaults
func (w *Workspace) Properties() *Descriptor {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.properties
}

// ConfigFile returns the parsed workspace configuration
func (w *Workspace) ConfigFile() *config.WorkspaceFile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.file
}

// Options returns the options the workspace was opened with
func (w *Workspace) Options() Options { return w.opts }

func (w *Workspace) isProjectDir(name string) bool {
	if name == "" || name == config.ConfigDir || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return false
	}
	info, err := os.Stat(filepath.Join(w.root, name, DescriptorFile))
	return err == nil && !info.IsDir()
}

// discover lists project directories, cached until Refresh
func (w *Workspace) discover() []string {
	w.mu.RLock()
	if w.discoveryOK {
		names := append([]string(nil), w.discovered...)
		w.mu.RUnlock()
		return names
	}
	w.mu.RUnlock()

	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.log.WithError(err).Warn("Failed to scan workspace")
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && w.isProjectDir(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	w.mu.Lock()
	w.discovered = names
	w.discoveryOK = true
	w.mu.Unlock()

	w.metrics.SetProjects(len(names))
	return append([]string(nil), names...)
}

// invalidateDiscovery drops the cached project list
func (w *Workspace) invalidateDiscovery() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.discoveryOK = false
	for name := range w.projects {
		if !w.isProjectDir(name) {
			delete(w.projects, name)
		}
	}
}

// Refresh reloads the workspace configuration and forgets all projects
// and repositories
func (w *Workspace) Refresh() error {
	if err := w.loadConfiguration(); err != nil {
		return err
	}
	w.mu.Lock()
	w.discoveryOK = false
	w.projects = make(map[string]*Project)
	w.repos = nil
	w.reposOK = false
	w.mu.Unlock()
	w.reporter.Clear()
	w.log.Info("Workspace refreshed")
	return nil
}

// Project returns the named project. A project whose construction is in
// progress is reported as not found.
func (w *Workspace) Project(name string) (*Project, bool) {
	w.mu.Lock()
	if p, ok := w.projects[name]; ok {
		w.mu.Unlock()
		return p, true
	}
	if w.closed || w.constructing[name] || !w.isProjectDir(name) {
		w.mu.Unlock()
		return nil, false
	}
	w.constructing[name] = true
	w.mu.Unlock()

	p, err := newProject(w, name, filepath.Join(w.root, name))

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.constructing, name)
	if err != nil {
		w.log.WithError(err).WithField("project", name).Warn("Failed to load project")
		w.reporter.Errorf("project %s: %v", name, err)
		return nil, false
	}
	if existing, ok := w.projects[name]; ok {
		return existing, true
	}
	w.projects[name] = p
	return p, true
}

// loaded returns a project only when it was already constructed
func (w *Workspace) loaded(name string) (*Project, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.projects[name]
	return p, ok
}

// MustProject returns the named project or ErrProjectNotFound
func (w *Workspace) MustProject(name string) (*Project, error) {
	p, ok := w.Project(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrProjectNotFound)
	}
	return p, nil
}

// Projects returns all discovered projects sorted by name
func (w *Workspace) Projects() []*Project {
	names := w.discover()
	out := make([]*Project, 0, len(names))
	for _, name := range names {
		if p, ok := w.Project(name); ok {
			out = append(out, p)
		}
	}
	return out
}

// AddRepository appends a plugin after the configured ones
func (w *Workspace) AddRepository(p repository.Plugin) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opts.Repositories = append(w.opts.Repositories, p)
	w.repos = nil
	w.reposOK = false
}

// Repositories returns the ordered plugin list, opening and preparing the
// configured repositories on first use. Preparation failures are reported
// as warnings.
func (w *Workspace) Repositories(ctx context.Context) ([]repository.Plugin, error) {
	w.mu.RLock()
	if w.reposOK {
		repos := append([]repository.Plugin(nil), w.repos...)
		w.mu.RUnlock()
		return repos, nil
	}
	file := w.file
	extra := append([]repository.Plugin(nil), w.opts.Repositories...)
	w.mu.RUnlock()

	var repos []repository.Plugin
	for _, cfg := range file.Repositories {
		p, err := repository.Open(ctx, cfg, repository.OpenOptions{
			BaseDir: w.root,
			Logger:  w.log,
			Metrics: w.metrics,
			Redis:   w.opts.Redis,
		})
		if err != nil {
			w.reporter.Warnf("repository %s: %v", cfg.Name, err)
			continue
		}
		repos = append(repos, p)
	}
	repos = append(repos, extra...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range repos {
		preparer, ok := p.(repository.Preparer)
		if !ok {
			continue
		}
		name := p.Name()
		g.Go(func() error {
			if err := preparer.Prepare(gctx); err != nil {
				w.log.WithError(err).WithField("repository", name).Warn("Failed to prepare repository")
				w.reporter.Warnf("repository %s: prepare failed: %v", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.reposOK {
		w.repos = repos
		w.reposOK = true
	}
	return append([]repository.Plugin(nil), w.repos...), nil
}

// Repository returns the named plugin
func (w *Workspace) Repository(ctx context.Context, name string) (repository.Plugin, error) {
	repos, err := w.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if r.Name() == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("repository %s: %w", name, repository.ErrNotFound)
}

// BuildOrder returns every project after its transitive dependencies
func (w *Workspace) BuildOrder(ctx context.Context) ([]*Project, error) {
	ctx, done := w.begin(ctx)
	defer done()
	return w.buildOrder(ctx, w.Projects())
}

func (w *Workspace) buildOrder(ctx context.Context, projects []*Project) ([]*Project, error) {
	order := newOrderedSet()
	for _, p := range projects {
		deps, err := p.dependencies(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			order.add(d)
		}
		order.add(p.Name())
	}

	out := make([]*Project, 0, order.len())
	for _, name := range order.items() {
		if p, ok := w.Project(name); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// AddListener registers l for ChangedFile notifications
func (w *Workspace) AddListener(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// ChangedFile notifies listeners that the build changed path
func (w *Workspace) ChangedFile(path string) {
	w.mu.RLock()
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, l := range listeners {
		l.Changed(path)
	}
}

// Close stops the watcher and forgets all projects
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.projects = make(map[string]*Project)
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}

// Closed reports whether Close was called
func (w *Workspace) Closed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// orderedSet keeps insertion order and ignores repeated additions
type orderedSet struct {
	index map[string]bool
	list  []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]bool)}
}

func (s *orderedSet) add(name string) bool {
	if s.index[name] {
		return false
	}
	s.index[name] = true
	s.list = append(s.list, name)
	return true
}

func (s *orderedSet) has(name string) bool { return s.index[name] }

func (s *orderedSet) len() int { return len(s.list) }

func (s *orderedSet) items() []string { return append([]string(nil), s.list...) }
