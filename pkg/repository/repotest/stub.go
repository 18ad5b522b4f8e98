// Package repotest provides an in-memory repository plugin for tests.
package repotest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

// Stub is a repository backed by files in a temporary directory. Get calls
// are recorded so tests can assert which plugin served a request.
type Stub struct {
	name string
	dir  string

	mu        sync.Mutex
	artifacts map[string]map[version.Version]string
	phases    map[string]repository.Phase
	failures  map[string]error
	gets      []string
	async     bool
}

var (
	_ repository.Plugin        = (*Stub)(nil)
	_ repository.PhaseReporter = (*Stub)(nil)
)

// New creates a stub repository storing files under dir
func New(name, dir string) *Stub {
	return &Stub{
		name:      name,
		dir:       filepath.Join(dir, name),
		artifacts: make(map[string]map[version.Version]string),
		phases:    make(map[string]repository.Phase),
		failures:  make(map[string]error),
	}
}

// Async makes Get notify listeners from a goroutine
func (s *Stub) Async() *Stub {
	s.async = true
	return s
}

// Add creates an artifact file and returns its path
func (s *Stub) Add(bsn, v string) string {
	return s.AddContent(bsn, v, ".jar", bsn+"-"+v)
}

// AddLibrary creates a .lib artifact whose lines are clauses
func (s *Stub) AddLibrary(bsn, v string, lines ...string) string {
	return s.AddContent(bsn, v, ".lib", strings.Join(lines, "\n")+"\n")
}

// AddContent creates an artifact with explicit content
func (s *Stub) AddContent(bsn, v, ext, content string) string {
	ver := version.MustParse(v)
	path := filepath.Join(s.dir, bsn, repository.ArtifactName(bsn, ver, ext))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifacts[bsn] == nil {
		s.artifacts[bsn] = make(map[version.Version]string)
	}
	s.artifacts[bsn][ver] = path
	return path
}

// SetPhase records phase metadata for a version
func (s *Stub) SetPhase(bsn, v string, p repository.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[bsn+"@"+version.MustParse(v).String()] = p
}

// FailDownload makes Get report a download failure for bsn
func (s *Stub) FailDownload(bsn string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[bsn] = err
}

// Gets returns the recorded "bsn@version" requests
func (s *Stub) Gets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.gets...)
}

// Name implements repository.Plugin
func (s *Stub) Name() string { return s.name }

// CanWrite implements repository.Plugin
func (s *Stub) CanWrite() bool { return true }

// List implements repository.Plugin
func (s *Stub) List(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for bsn := range s.artifacts {
		if repository.Match(pattern, bsn) {
			names = append(names, bsn)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Versions implements repository.Plugin
func (s *Stub) Versions(ctx context.Context, bsn string) ([]version.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var vs []version.Version
	for v := range s.artifacts[bsn] {
		vs = append(vs, v)
	}
	version.Sort(vs)
	return vs, nil
}

// Get implements repository.Plugin
func (s *Stub) Get(ctx context.Context, bsn string, v version.Version, attrs map[string]string, listeners ...download.Listener) (string, error) {
	s.mu.Lock()
	s.gets = append(s.gets, bsn+"@"+v.String())
	path, ok := s.artifacts[bsn][v]
	failure := s.failures[bsn]
	async := s.async
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s;version=%s", repository.ErrNotFound, bsn, v)
	}

	report := func() {
		for _, l := range listeners {
			if failure != nil {
				_ = l.Failure(path, failure.Error(), failure)
			} else {
				_ = l.Success(path)
			}
		}
	}
	if async {
		go report()
	} else {
		report()
	}
	return path, nil
}

// Put implements repository.Plugin
func (s *Stub) Put(ctx context.Context, r io.Reader, opts repository.PutOptions) (*repository.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	ext := opts.Ext
	if ext == "" {
		ext = ".jar"
	}
	path := s.AddContent(opts.Bsn, opts.Version.String(), ext, string(data))
	if opts.Phase != repository.PhaseUnknown {
		s.SetPhase(opts.Bsn, opts.Version.String(), opts.Phase)
	}
	return &repository.PutResult{Location: path}, nil
}

// Phase implements repository.PhaseReporter
func (s *Stub) Phase(ctx context.Context, bsn string, v version.Version) (repository.Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phases[bsn+"@"+v.String()]
	return p, ok
}
