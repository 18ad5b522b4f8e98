package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/version"
)

var (
	// ErrNotFound is returned when a bsn or version does not exist
	ErrNotFound = errors.New("artifact not found")

	// ErrReadOnly is returned by Put on repositories that cannot be written
	ErrReadOnly = errors.New("repository is read-only")

	// ErrUnsupported is returned for optional operations a plugin lacks
	ErrUnsupported = errors.New("operation not supported by repository")

	// ErrDigestMismatch is returned when stored content does not match the expected digest
	ErrDigestMismatch = errors.New("digest mismatch")
)

// Phase tells whether a release is final
type Phase int

const (
	// PhaseUnknown means the repository has no phase metadata
	PhaseUnknown Phase = iota
	// PhaseStaging is an in-progress release that may be superseded
	PhaseStaging
	// PhaseFinal is a finalized release
	PhaseFinal
)

var phaseNames = []string{"unknown", "staging", "final"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// ParsePhase parses "staging" or "final"
func ParsePhase(s string) Phase {
	for i, name := range phaseNames {
		if strings.EqualFold(s, name) {
			return Phase(i)
		}
	}
	return PhaseUnknown
}

// Plugin is a source of versioned artifacts
type Plugin interface {
	// Name identifies the repository in diagnostics and repo= filters
	Name() string

	// List returns the bsns matching a glob pattern; empty matches all
	List(ctx context.Context, pattern string) ([]string, error)

	// Versions returns the versions of bsn in ascending order
	Versions(ctx context.Context, bsn string) ([]version.Version, error)

	// Get returns the local path of an artifact. Listeners are notified
	// once the file is available or the download failed.
	Get(ctx context.Context, bsn string, v version.Version, attrs map[string]string, listeners ...download.Listener) (string, error)

	// CanWrite reports whether Put is supported
	CanWrite() bool

	// Put stores an artifact read from r
	Put(ctx context.Context, r io.Reader, opts PutOptions) (*PutResult, error)
}

// Preparer is implemented by plugins that need one-time setup
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Locator finds the bsn and version of an artifact by content digest
type Locator interface {
	Locate(ctx context.Context, digest string) (string, version.Version, error)
}

// PhaseReporter exposes release phase metadata
type PhaseReporter interface {
	Phase(ctx context.Context, bsn string, v version.Version) (Phase, bool)
}

// PutOptions describes an artifact being released
type PutOptions struct {
	Bsn     string
	Version version.Version
	// Ext is the file extension including the dot, defaults to ".jar"
	Ext string
	// Digest, when set, must match the SHA-256 of the content
	Digest string
	Phase  Phase
}

// PutResult describes a stored artifact
type PutResult struct {
	Location string
	Digest   string
}

// Extensions recognised as artifacts, longest first
var Extensions = []string{".tar.gz", ".jar", ".tgz", ".zip", ".lib"}

// ArtifactName returns "<bsn>-<version><ext>"
func ArtifactName(bsn string, v version.Version, ext string) string {
	if ext == "" {
		ext = ".jar"
	}
	return fmt.Sprintf("%s-%s%s", bsn, v, ext)
}

// ParseArtifactName splits a file name produced by ArtifactName
func ParseArtifactName(bsn, file string) (version.Version, string, bool) {
	base := filepath.Base(file)
	if !strings.HasPrefix(base, bsn+"-") {
		return version.Version{}, "", false
	}
	rest := strings.TrimPrefix(base, bsn+"-")
	for _, ext := range Extensions {
		if strings.HasSuffix(rest, ext) {
			v, err := version.Parse(strings.TrimSuffix(rest, ext))
			if err != nil {
				return version.Version{}, "", false
			}
			return v, ext, true
		}
	}
	return version.Version{}, "", false
}

// NormalizeDigest lowercases a digest and strips an algorithm prefix
func NormalizeDigest(d string) string {
	d = strings.TrimSpace(d)
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[i+1:]
	}
	return strings.ToLower(d)
}

// notify reports a result to every listener
func notify(listeners []download.Listener, file string, err error) {
	for _, l := range listeners {
		if err != nil {
			_ = l.Failure(file, err.Error(), err)
			continue
		}
		_ = l.Success(file)
	}
}
