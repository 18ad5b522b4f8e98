package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/version"
)

const phasesFile = "phases.yaml"

type digestEntry struct {
	bsn     string
	version version.Version
}

// FileRepository stores artifacts as <root>/<bsn>/<bsn>-<version><ext>
type FileRepository struct {
	name     string
	rootDir  string
	readOnly bool
	log      logrus.FieldLogger

	mu      sync.RWMutex
	indexed bool
	digests map[string]digestEntry
	phases  map[string]Phase
}

// FileOption configures a FileRepository
type FileOption func(*FileRepository)

// WithReadOnly rejects Put calls
func WithReadOnly() FileOption {
	return func(r *FileRepository) { r.readOnly = true }
}

// WithFileLogger sets the logger
func WithFileLogger(log logrus.FieldLogger) FileOption {
	return func(r *FileRepository) { r.log = log }
}

// NewFileRepository creates a repository rooted at rootDir
func NewFileRepository(name, rootDir string, opts ...FileOption) (*FileRepository, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	r := &FileRepository{
		name:    name,
		rootDir: rootDir,
		digests: make(map[string]digestEntry),
		phases:  make(map[string]Phase),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.New()
	}
	return r, nil
}

// Name implements Plugin.Name
func (r *FileRepository) Name() string { return r.name }

// Root returns the repository directory
func (r *FileRepository) Root() string { return r.rootDir }

// CanWrite implements Plugin.CanWrite
func (r *FileRepository) CanWrite() bool { return !r.readOnly }

func (r *FileRepository) String() string {
	return fmt.Sprintf("FileRepository[%s,%s]", r.name, r.rootDir)
}

// Prepare implements Preparer. It indexes content digests and loads phases.
func (r *FileRepository) Prepare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index(ctx)
}

// index must be called with mu held
func (r *FileRepository) index(ctx context.Context) error {
	digests := make(map[string]digestEntry)
	err := filepath.WalkDir(r.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		bsn := filepath.Base(filepath.Dir(path))
		v, _, ok := ParseArtifactName(bsn, d.Name())
		if !ok {
			return nil
		}
		sum, err := fileDigest(path)
		if err != nil {
			return err
		}
		digests[sum] = digestEntry{bsn: bsn, version: v}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index repository %s: %w", r.name, err)
	}

	phases, err := r.loadPhases()
	if err != nil {
		return err
	}

	r.digests = digests
	r.phases = phases
	r.indexed = true
	r.log.Debugf("indexed %d artifacts in repository %s", len(digests), r.name)
	return nil
}

// List implements Plugin.List
func (r *FileRepository) List(ctx context.Context, pattern string) ([]string, error) {
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if Match(pattern, entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Versions implements Plugin.Versions
func (r *FileRepository) Versions(ctx context.Context, bsn string) ([]version.Version, error) {
	files, err := r.artifacts(bsn)
	if err != nil {
		return nil, err
	}
	versions := make([]version.Version, 0, len(files))
	for v := range files {
		versions = append(versions, v)
	}
	version.Sort(versions)
	return versions, nil
}

// artifacts maps each version of bsn to its file
func (r *FileRepository) artifacts(bsn string) (map[version.Version]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.rootDir, bsn))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read versions of %s: %w", bsn, err)
	}

	files := make(map[version.Version]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		v, _, ok := ParseArtifactName(bsn, entry.Name())
		if !ok {
			continue
		}
		if _, dup := files[v]; !dup {
			files[v] = filepath.Join(r.rootDir, bsn, entry.Name())
		}
	}
	return files, nil
}

// Get implements Plugin.Get. Files are local so listeners fire before it returns.
func (r *FileRepository) Get(ctx context.Context, bsn string, v version.Version, attrs map[string]string, listeners ...download.Listener) (string, error) {
	files, err := r.artifacts(bsn)
	if err != nil {
		return "", err
	}
	path, ok := files[v]
	if !ok {
		return "", fmt.Errorf("%w: %s;version=%s in %s", ErrNotFound, bsn, v, r.name)
	}
	notify(listeners, path, nil)
	return path, nil
}

// Put implements Plugin.Put
func (r *FileRepository) Put(ctx context.Context, in io.Reader, opts PutOptions) (*PutResult, error) {
	if r.readOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, r.name)
	}
	if opts.Bsn == "" {
		return nil, fmt.Errorf("put requires a bsn")
	}

	dir := filepath.Join(r.rootDir, opts.Bsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bsn directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), in); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if opts.Digest != "" && NormalizeDigest(opts.Digest) != sum {
		return nil, fmt.Errorf("%w: expected %s got %s", ErrDigestMismatch, opts.Digest, sum)
	}

	target := filepath.Join(dir, ArtifactName(opts.Bsn, opts.Version, opts.Ext))
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests[sum] = digestEntry{bsn: opts.Bsn, version: opts.Version}
	if opts.Phase != PhaseUnknown {
		r.phases[phaseKey(opts.Bsn, opts.Version)] = opts.Phase
		if err := r.savePhases(); err != nil {
			return nil, err
		}
	}

	r.log.WithFields(logrus.Fields{"repo": r.name, "bsn": opts.Bsn, "version": opts.Version.String()}).Info("stored artifact")
	return &PutResult{Location: target, Digest: sum}, nil
}

// Locate implements Locator
func (r *FileRepository) Locate(ctx context.Context, digest string) (string, version.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.indexed {
		if err := r.index(ctx); err != nil {
			return "", version.Version{}, err
		}
	}
	e, ok := r.digests[NormalizeDigest(digest)]
	if !ok {
		return "", version.Version{}, fmt.Errorf("%w: digest %s", ErrNotFound, digest)
	}
	return e.bsn, e.version, nil
}

// Phase implements PhaseReporter
func (r *FileRepository) Phase(ctx context.Context, bsn string, v version.Version) (Phase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.indexed {
		if phases, err := r.loadPhases(); err == nil {
			r.phases = phases
		}
	}
	p, ok := r.phases[phaseKey(bsn, v)]
	return p, ok
}

// SetPhase records the phase of an existing release
func (r *FileRepository) SetPhase(bsn string, v version.Version, p Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases[phaseKey(bsn, v)] = p
	return r.savePhases()
}

func phaseKey(bsn string, v version.Version) string {
	return bsn + "@" + v.String()
}

func (r *FileRepository) loadPhases() (map[string]Phase, error) {
	phases := make(map[string]Phase)
	data, err := os.ReadFile(filepath.Join(r.rootDir, phasesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return phases, nil
		}
		return nil, fmt.Errorf("failed to read phases: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse phases: %w", err)
	}
	for k, v := range raw {
		phases[k] = ParsePhase(v)
	}
	return phases, nil
}

// savePhases must be called with mu held
func (r *FileRepository) savePhases() error {
	raw := make(map[string]string, len(r.phases))
	for k, v := range r.phases {
		raw[k] = v.String()
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.rootDir, phasesFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write phases: %w", err)
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
