package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/baseline"
	"github.com/platinummonkey/lathe/pkg/version"
)

// APIFile is the file in the output directory describing the exported API
const APIFile = "api.json"

// BuildRequest is handed to a Builder for one project
type BuildRequest struct {
	Project   string
	Bsn       string
	Version   version.Version
	Dir       string
	SourceDir string
	OutputDir string
	// Buildpath lists the resolved build path files in order
	Buildpath []string
	UnderTest bool
	Logger    logrus.FieldLogger
}

// Artifact is one file produced by a build
type Artifact struct {
	Bsn  string
	Name string
	Data []byte
	// API is written next to the artifact when set
	API *baseline.API
}

// Builder turns a prepared project into artifacts
type Builder interface {
	Build(ctx context.Context, req *BuildRequest) ([]Artifact, error)
}

// BuilderFunc adapts a function to Builder
type BuilderFunc func(ctx context.Context, req *BuildRequest) ([]Artifact, error)

// Build implements Builder
func (f BuilderFunc) Build(ctx context.Context, req *BuildRequest) ([]Artifact, error) {
	return f(ctx, req)
}

// PreBuildHook runs before every local build. An error aborts the build.
type PreBuildHook func(ctx context.Context, p *Project) error

// ArchiveBuilder packs the output directory into <bsn>-<version>.tgz. The
// archive is byte for byte reproducible for the same directory contents.
type ArchiveBuilder struct{}

// Build implements Builder
func (ArchiveBuilder) Build(ctx context.Context, req *BuildRequest) ([]Artifact, error) {
	data, err := archiveDir(ctx, req.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", req.OutputDir, err)
	}

	artifact := Artifact{
		Bsn:  req.Bsn,
		Name: fmt.Sprintf("%s-%s.tgz", req.Bsn, req.Version),
		Data: data,
	}

	api, err := baseline.LoadAPI(filepath.Join(req.OutputDir, APIFile))
	switch {
	case err == nil:
		api.Bsn = req.Bsn
		api.Version = req.Version
		artifact.API = api
	case !errors.Is(err, baseline.ErrNoAPI):
		return nil, err
	}
	return []Artifact{artifact}, nil
}

func archiveDir(ctx context.Context, dir string) ([]byte, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:     strings.ReplaceAll(rel, string(filepath.Separator), "/"),
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}); err != nil {
			return nil, fmt.Errorf("unable to write header for %s: %w", rel, err)
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
