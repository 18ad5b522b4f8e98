package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/lathe/pkg/report"
)

var (
	// ErrProjectNotFound is returned when a project name is unknown
	ErrProjectNotFound = errors.New("project not found")

	// ErrBuildRefused is returned when preparation recorded errors
	ErrBuildRefused = errors.New("build refused: project has errors")

	// ErrWorkspaceClosed is returned by operations on a closed workspace
	ErrWorkspaceClosed = errors.New("workspace is closed")

	// ErrNoWritableRepository is returned by Release without a target
	ErrNoWritableRepository = errors.New("no writable repository")
)

// ConfigurationError reports malformed clause, range or descriptor text
type ConfigurationError struct {
	Location *report.Location
	Text     string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Location != nil {
		return fmt.Sprintf("%s: invalid configuration %q: %v", e.Location, e.Text, e.Err)
	}
	return fmt.Sprintf("invalid configuration %q: %v", e.Text, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ResolutionError describes a dependency no repository could satisfy
type ResolutionError struct {
	Bsn          string
	Version      string
	Strategy     Strategy
	Repositories []string
	Reason       string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s;version=%s not found in [%s] (strategy %s)",
		e.Bsn, e.Version, strings.Join(e.Repositories, ", "), e.Strategy)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// CircularDependencyError is returned when preparation re-enters a project
// that is already being prepared. Chain lists the projects in the order
// they were entered.
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	chain := strings.Join(e.Chain, ",")
	if len(e.Chain) > 0 {
		chain += "," + e.Chain[0]
	}
	return "circular dependency: " + chain
}

// FilesystemError wraps a failed artifact write or delete
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
