package build

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/platinummonkey/lathe/pkg/config"
)

// IsStale reports whether the recorded artifacts of p are out of date
func (p *Project) IsStale(ctx context.Context) (bool, error) {
	ctx, done := p.ws.begin(ctx)
	defer done()

	stale, err := p.isStale(ctx, make(map[string]bool))
	if err != nil {
		return false, err
	}
	p.ws.metrics.RecordStaleCheck(stale)
	return stale, nil
}

// isStale shares visited across the whole check. A project seen a second
// time counts as not stale, which can miss staleness in diamond shaped
// graphs.
func (p *Project) isStale(ctx context.Context, visited map[string]bool) (bool, error) {
	if p.IsNoBundles() {
		return false, nil
	}
	if visited[p.name] {
		p.log.Debug("Project revisited during stale check")
		return false, nil
	}
	visited[p.name] = true

	files, err := p.buildFiles(ctx, false)
	if err != nil {
		return false, err
	}
	if files == nil {
		p.log.Debug("No build manifest")
		return true, nil
	}

	modified := p.lastModified()
	var buildTime time.Time
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return true, nil
		}
		if info.ModTime().Before(modified) {
			p.log.WithField("artifact", f).Debug("Artifact older than sources")
			return true, nil
		}
		if info.ModTime().After(buildTime) {
			buildTime = info.ModTime()
		}
	}

	deps, err := p.buildDependencies(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range deps {
		q, err := p.project(name)
		if err != nil {
			continue
		}
		stale, err := q.isStale(ctx, visited)
		if err != nil {
			return false, err
		}
		if stale {
			p.log.WithField("dependency", name).Debug("Dependency is stale")
			return true, nil
		}
		if q.IsNoBundles() {
			continue
		}

		depFiles, err := q.buildFiles(ctx, true)
		if err != nil {
			return false, err
		}
		for _, f := range depFiles {
			info, err := os.Stat(f)
			if err != nil || info.ModTime().After(buildTime) {
				p.log.WithField("dependency", name).Debug("Dependency artifact is newer")
				return true, nil
			}
		}
	}
	return false, nil
}

// lastModified is the newest time of the descriptor, the workspace
// configuration and the source tree
func (p *Project) lastModified() time.Time {
	var newest time.Time
	for _, path := range []string{
		filepath.Join(p.dir, DescriptorFile),
		config.WorkspaceFilePath(p.ws.root),
		p.SourceDir(),
	} {
		if t := newestModTime(path); t.After(newest) {
			newest = t
		}
	}
	return newest
}

// newestModTime returns the newest modification time below path. Only the
// first entry of each directory is descended into.
func newestModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	newest := info.ModTime()
	if !info.IsDir() {
		return newest
	}

	entries, err := os.ReadDir(path)
	if err != nil || len(entries) == 0 {
		return newest
	}
	if t := newestModTime(filepath.Join(path, entries[0].Name())); t.After(newest) {
		newest = t
	}
	return newest
}
