package build

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/baseline"
	"github.com/platinummonkey/lathe/pkg/releases"
	"github.com/platinummonkey/lathe/pkg/repository"
)

// ManifestFile lists the absolute paths of the last build, one per line
const ManifestFile = "buildfiles"

var errStaleManifest = errors.New("manifest lists a missing file")

func (p *Project) manifestPath() string {
	return filepath.Join(p.TargetDir(), ManifestFile)
}

// BuildFiles returns the artifacts of the last build. The manifest is only
// trusted when every entry still exists; otherwise it is deleted and, when
// buildIfAbsent is set, the project is rebuilt.
func (p *Project) BuildFiles(ctx context.Context, buildIfAbsent bool) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.buildFiles(ctx, buildIfAbsent)
}

func (p *Project) buildFiles(ctx context.Context, buildIfAbsent bool) ([]string, error) {
	p.mu.Lock()
	if p.files != nil {
		files := append([]string(nil), p.files...)
		p.mu.Unlock()
		return files, nil
	}
	p.mu.Unlock()

	manifest := p.manifestPath()
	files, err := readManifest(manifest)
	switch {
	case err == nil:
		p.mu.Lock()
		p.files = files
		p.mu.Unlock()
		return append([]string(nil), files...), nil
	case errors.Is(err, errStaleManifest):
		p.log.WithField("manifest", manifest).Info("Build manifest out of date, removing")
		if err := removeIfExists(manifest); err != nil {
			return nil, &FilesystemError{Op: "delete", Path: manifest, Err: err}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, &FilesystemError{Op: "read", Path: manifest, Err: err}
	}

	if buildIfAbsent {
		return p.buildLocal(ctx, false)
	}
	return nil, nil
}

func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	files := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		info, err := os.Stat(line)
		if err != nil || !info.Mode().IsRegular() {
			return nil, errStaleManifest
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// BuildLocal builds p without checking staleness. It refuses when the
// preparation recorded errors, leaving earlier artifacts in place.
func (p *Project) BuildLocal(ctx context.Context, underTest bool) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.buildLocal(ctx, underTest)
}

func (p *Project) buildLocal(ctx context.Context, underTest bool) ([]string, error) {
	if p.IsNoBundles() {
		return nil, nil
	}
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	if !p.reporter.IsOK() {
		return nil, fmt.Errorf("%s: %w", p.name, ErrBuildRefused)
	}

	start := time.Now()
	log := p.log.WithField("under_test", underTest)

	manifest := p.manifestPath()
	if err := removeIfExists(manifest); err != nil {
		return nil, &FilesystemError{Op: "delete", Path: manifest, Err: err}
	}
	p.mu.Lock()
	p.files = nil
	p.mu.Unlock()

	for _, hook := range p.ws.opts.Hooks {
		if err := hook(ctx, p); err != nil {
			p.reporter.Errorf("pre-build hook failed: %v", err)
			p.ws.metrics.RecordBuild(p.name, "failed", time.Since(start))
			return nil, fmt.Errorf("pre-build hook: %w", err)
		}
	}

	req, err := p.buildRequest(ctx, underTest, log)
	if err != nil {
		return nil, err
	}
	artifacts, err := p.ws.opts.Builder.Build(ctx, req)
	if err != nil {
		p.reporter.Errorf("build failed: %v", err)
		p.ws.metrics.RecordBuild(p.name, "failed", time.Since(start))
		return nil, err
	}
	if !p.reporter.IsOK() {
		p.ws.metrics.RecordBuild(p.name, "refused", time.Since(start))
		return nil, fmt.Errorf("%s: %w", p.name, ErrBuildRefused)
	}

	files := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		path, err := p.saveArtifact(a)
		if err != nil {
			p.reporter.Errorf("%v", err)
			p.ws.metrics.RecordBuild(p.name, "failed", time.Since(start))
			return nil, err
		}
		files = append(files, path)
	}

	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	if err := writeFile(manifest, []byte(sb.String())); err != nil {
		return nil, &FilesystemError{Op: "write", Path: manifest, Err: err}
	}
	p.ws.ChangedFile(manifest)

	p.mu.Lock()
	p.files = append([]string(nil), files...)
	p.mu.Unlock()

	p.ws.metrics.RecordBuild(p.name, "built", time.Since(start))
	log.WithFields(logrus.Fields{
		"artifacts": len(files),
		"duration":  time.Since(start),
	}).Info("Project built")
	return files, nil
}

func (p *Project) buildRequest(ctx context.Context, underTest bool, log logrus.FieldLogger) (*BuildRequest, error) {
	var buildpath []string
	for _, c := range p.Buildpath() {
		f, err := c.File(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.reporter.Errorf("%s: %v", c.Bsn(), err)
			continue
		}
		buildpath = append(buildpath, f)
	}
	return &BuildRequest{
		Project:   p.name,
		Bsn:       p.Bsn(),
		Version:   p.Version(),
		Dir:       p.dir,
		SourceDir: p.SourceDir(),
		OutputDir: p.OutputDir(),
		Buildpath: buildpath,
		UnderTest: underTest,
		Logger:    log,
	}, nil
}

// saveArtifact writes a through the overwrite strategy, mirrors it under
// <bsn><ext> and writes its API document
func (p *Project) saveArtifact(a Artifact) (string, error) {
	strategy := p.ws.opts.Overwrite
	dst := filepath.Join(p.TargetDir(), a.Name)
	if err := strategy.Write(dst, a.Data); err != nil {
		return "", &FilesystemError{Op: "write", Path: dst, Err: err}
	}
	p.ws.ChangedFile(dst)

	alias := filepath.Join(p.TargetDir(), a.Bsn+artifactExt(a.Name))
	if alias != dst {
		if err := strategy.Write(alias, a.Data); err != nil {
			return "", &FilesystemError{Op: "write", Path: alias, Err: err}
		}
		p.ws.ChangedFile(alias)
	}

	if a.API != nil {
		sidecar := dst + baseline.APISuffix
		if err := baseline.WriteAPI(sidecar, a.API); err != nil {
			return "", &FilesystemError{Op: "write", Path: sidecar, Err: err}
		}
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func artifactExt(name string) string {
	if strings.HasSuffix(name, ".tar.gz") {
		return ".tar.gz"
	}
	return filepath.Ext(name)
}

// Build builds p when it is stale and returns its artifacts
func (p *Project) Build(ctx context.Context, underTest bool) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()
	return p.build(ctx, underTest)
}

func (p *Project) build(ctx context.Context, underTest bool) ([]string, error) {
	if p.IsNoBundles() {
		return nil, nil
	}
	stale, err := p.isStale(ctx, make(map[string]bool))
	if err != nil {
		return nil, err
	}
	p.ws.metrics.RecordStaleCheck(stale)
	if stale {
		return p.buildLocal(ctx, underTest)
	}
	p.ws.metrics.RecordBuild(p.name, "fresh", 0)
	return p.buildFiles(ctx, false)
}

// Clean empties the output and target directories
func (p *Project) Clean(ctx context.Context) error {
	_, done := p.ws.begin(ctx)
	defer done()

	for _, dir := range []string{p.OutputDir(), p.TargetDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &FilesystemError{Op: "read", Path: dir, Err: err}
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				return &FilesystemError{Op: "delete", Path: path, Err: err}
			}
		}
	}
	p.SetChanged()
	p.log.Info("Project cleaned")
	return nil
}

// Recorder stores released artifacts, satisfied by *releases.Index
type Recorder interface {
	Record(ctx context.Context, r releases.Release) error
}

// ReleaseOptions controls Release
type ReleaseOptions struct {
	// Repository names the target, the releaserepo property or the first
	// writable repository when empty
	Repository string
	// Staging marks the release as not yet final
	Staging bool
	// Recorder receives each released artifact when set
	Recorder Recorder
}

// Release builds p when stale and puts its artifacts into a writable
// repository
func (p *Project) Release(ctx context.Context, opts ReleaseOptions) ([]string, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()

	target, err := p.releaseTarget(ctx, opts.Repository)
	if err != nil {
		return nil, err
	}

	files, err := p.build(ctx, false)
	if err != nil {
		return nil, err
	}
	if files == nil {
		return nil, fmt.Errorf("%s: %w", p.name, ErrBuildRefused)
	}

	phase := repository.PhaseFinal
	if opts.Staging {
		phase = repository.PhaseStaging
	}

	bsn, v := p.Bsn(), p.Version()
	var released []string
	for _, f := range files {
		res, err := p.put(ctx, target, f, repository.PutOptions{
			Bsn:     bsn,
			Version: v,
			Ext:     artifactExt(f),
			Phase:   phase,
		})
		if err != nil {
			return released, err
		}
		released = append(released, res.Location)

		if opts.Recorder != nil {
			err := opts.Recorder.Record(ctx, releases.Release{
				Bsn:        bsn,
				Version:    v,
				Repository: target.Name(),
				Location:   res.Location,
				Digest:     res.Digest,
				Phase:      phase,
			})
			if err != nil {
				return released, fmt.Errorf("failed to record release: %w", err)
			}
		}
	}

	p.log.WithFields(logrus.Fields{
		"repository": target.Name(),
		"version":    v.String(),
		"phase":      phase.String(),
	}).Info("Project released")
	return released, nil
}

func (p *Project) put(ctx context.Context, target repository.Plugin, file string, opts repository.PutOptions) (*repository.PutResult, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, &FilesystemError{Op: "read", Path: file, Err: err}
	}
	defer f.Close()

	res, err := target.Put(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("release %s to %s: %w", filepath.Base(file), target.Name(), err)
	}
	return res, nil
}

func (p *Project) releaseTarget(ctx context.Context, name string) (repository.Plugin, error) {
	if name == "" {
		name = p.Property(PropReleaseRepo, "")
	}
	repos, err := p.ws.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if !r.CanWrite() {
			continue
		}
		if name == "" || r.Name() == name {
			return r, nil
		}
	}
	if name != "" {
		return nil, fmt.Errorf("repository %s: %w", name, ErrNoWritableRepository)
	}
	return nil, ErrNoWritableRepository
}
