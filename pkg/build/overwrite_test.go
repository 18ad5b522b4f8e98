package build

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/observability"
)

func TestNewOverwriteStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: "direct"},
		{name: "direct", want: "direct"},
		{name: "retry", want: "retry"},
		{name: "gc", want: "gc"},
		{name: "symlink", want: "symlink"},
		{name: "rename", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewOverwriteStrategy(tt.name, 3, time.Millisecond, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}
}

func TestOverwriteStrategies_ReplaceContent(t *testing.T) {
	for _, name := range []string{"direct", "retry", "gc", "symlink"} {
		t.Run(name, func(t *testing.T) {
			s, err := NewOverwriteStrategy(name, 2, time.Millisecond, nil)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "out", "app.jar")
			require.NoError(t, s.Write(path, []byte("one")))
			require.NoError(t, s.Write(path, []byte("two")))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "two", string(data))
		})
	}
}

func TestRetryStrategy_GivesUp(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// a non empty directory cannot be removed with os.Remove
	path := filepath.Join(t.TempDir(), "app.jar")
	writeFiles(t, path, map[string]string{"keep": "x"})

	s := &RetryStrategy{Attempts: 2, Delay: time.Millisecond, Metrics: metrics}
	err := s.Write(path, []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ArtifactWriteRetries.WithLabelValues("retry")))
}

func TestSymlinkStrategy_PrunesOldCopies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.jar")
	s := SymlinkStrategy{}

	for _, content := range []string{"1", "2", "3"} {
		require.NoError(t, s.Write(path, []byte(content)))
	}

	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	copies, err := filepath.Glob(path + disposableMarker + "*")
	require.NoError(t, err)
	require.Len(t, copies, 1)

	target, err := os.Readlink(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(copies[0]), target)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))
}

func TestGCStrategy_GivesUp(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	path := filepath.Join(t.TempDir(), "app.jar")
	writeFiles(t, path, map[string]string{"keep": "x"})

	s := &GCStrategy{Attempts: 3, Delay: time.Millisecond, Metrics: metrics}
	err := s.Write(path, []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ArtifactWriteRetries.WithLabelValues("gc")))
}

func TestSymlinkStrategy_PrunesPathsWithGlobCharacters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app[1].jar")
	other := filepath.Join(dir, "app1.jar"+disposableMarker+"keep")
	require.NoError(t, os.WriteFile(other, []byte("other"), 0644))

	s := SymlinkStrategy{}
	for _, content := range []string{"1", "2", "3"} {
		require.NoError(t, s.Write(path, []byte(content)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var copies []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "app[1].jar"+disposableMarker) {
			copies = append(copies, e.Name())
		}
	}
	assert.Len(t, copies, 1)
	assert.FileExists(t, other)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))
}
