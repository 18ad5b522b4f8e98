package build

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/google/uuid"

	"github.com/platinummonkey/lathe/pkg/observability"
)

// OverwriteStrategy replaces a file that may still be open elsewhere
type OverwriteStrategy interface {
	Name() string
	Write(path string, data []byte) error
}

// NewOverwriteStrategy returns the named strategy. attempts and delay
// apply to the retrying strategies.
func NewOverwriteStrategy(name string, attempts int, delay time.Duration, metrics *observability.Metrics) (OverwriteStrategy, error) {
	switch name {
	case "", "direct":
		return DirectStrategy{}, nil
	case "retry":
		return &RetryStrategy{Attempts: attempts, Delay: delay, Metrics: metrics}, nil
	case "gc":
		return &GCStrategy{Attempts: attempts, Delay: delay, Metrics: metrics}, nil
	case "symlink":
		return SymlinkStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown overwrite strategy: %s", name)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DirectStrategy deletes the old file then writes the new one
type DirectStrategy struct{}

func (DirectStrategy) Name() string { return "direct" }

func (DirectStrategy) Write(path string, data []byte) error {
	if err := removeIfExists(path); err != nil {
		return err
	}
	return writeFile(path, data)
}

// RetryStrategy retries the delete with a constant delay
type RetryStrategy struct {
	Attempts int
	Delay    time.Duration
	Metrics  *observability.Metrics
}

func (s *RetryStrategy) Name() string { return "retry" }

func (s *RetryStrategy) Write(path string, data []byte) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.Delay), uint64(s.Attempts))
	notify := func(err error, _ time.Duration) {
		s.Metrics.RecordWriteRetry(s.Name())
	}
	if err := backoff.RetryNotify(func() error { return removeIfExists(path) }, b, notify); err != nil {
		return fmt.Errorf("could not delete %s after %d attempts: %w", path, s.Attempts, err)
	}
	return writeFile(path, data)
}

// GCStrategy forces a collection between delete attempts so finalizers
// can release handles the process itself still holds
type GCStrategy struct {
	Attempts int
	Delay    time.Duration
	Metrics  *observability.Metrics
}

func (s *GCStrategy) Name() string { return "gc" }

func (s *GCStrategy) Write(path string, data []byte) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.Delay), uint64(s.Attempts))
	notify := func(err error, _ time.Duration) {
		s.Metrics.RecordWriteRetry(s.Name())
		runtime.GC()
	}
	if err := backoff.RetryNotify(func() error { return removeIfExists(path) }, b, notify); err != nil {
		return fmt.Errorf("could not delete %s after %d attempts: %w", path, s.Attempts, err)
	}
	return writeFile(path, data)
}

// disposableMarker separates a path from the suffix of its disposable copies
const disposableMarker = ".~"

// SymlinkStrategy writes a uniquely named copy and points a symlink at the
// requested path to it. Older copies are pruned.
type SymlinkStrategy struct{}

func (SymlinkStrategy) Name() string { return "symlink" }

func (SymlinkStrategy) Write(path string, data []byte) error {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	disposable := path + disposableMarker + suffix
	if err := writeFile(disposable, data); err != nil {
		return err
	}

	link := disposable + ".link"
	if err := os.Symlink(filepath.Base(disposable), link); err != nil {
		os.Remove(disposable)
		return err
	}
	if err := os.Rename(link, path); err != nil {
		os.Remove(link)
		os.Remove(disposable)
		return err
	}

	pruneDisposables(path, disposable)
	return nil
}

// pruneDisposables removes the disposable copies of path except keep
func pruneDisposables(path, keep string) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	prefix := filepath.Base(path) + disposableMarker
	for _, e := range entries {
		name := filepath.Join(dir, e.Name())
		if !strings.HasPrefix(e.Name(), prefix) || name == keep {
			continue
		}
		// still open copies stay until the next write
		_ = os.Remove(name)
	}
}
