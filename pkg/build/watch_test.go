package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/config"
)

func watchedWorkspace(t *testing.T, projects map[string]string) *Workspace {
	t.Helper()
	ws := openWorkspace(t, projects, Options{Watch: true})
	require.NotNil(t, ws.watcher)
	return ws
}

func TestWatcher_SourceChangeInvalidatesProject(t *testing.T) {
	ws := watchedWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	require.NoError(t, p.Prepare(context.Background()))
	rev := p.Revision()

	var changed []string
	ws.AddListener(ListenerFunc(func(path string) { changed = append(changed, path) }))

	src := filepath.Join(p.SourceDir(), "Main.java")
	ws.watcher.handle(fsnotify.Event{Name: src, Op: fsnotify.Write})

	assert.Equal(t, Unprepared, p.State())
	assert.Greater(t, p.Revision(), rev)
	assert.Contains(t, changed, src)
}

func TestWatcher_IgnoresOutputAndChmod(t *testing.T) {
	ws := watchedWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	require.NoError(t, p.Prepare(context.Background()))
	rev := p.Revision()

	ws.watcher.handle(fsnotify.Event{Name: filepath.Join(p.OutputDir(), "App.class"), Op: fsnotify.Write})
	ws.watcher.handle(fsnotify.Event{Name: filepath.Join(p.SourceDir(), "Main.java"), Op: fsnotify.Chmod})

	assert.Equal(t, Prepared, p.State())
	assert.Equal(t, rev, p.Revision())
}

func TestWatcher_DescriptorReload(t *testing.T) {
	ws := watchedWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")

	path := filepath.Join(ws.Root(), "app", DescriptorFile)
	require.NoError(t, os.WriteFile(path, []byte("version: 1.1.0\n"), 0644))
	ws.watcher.handle(fsnotify.Event{Name: path, Op: fsnotify.Write})

	assert.Equal(t, "1.1.0", p.Version().String())
}

func TestWatcher_WorkspaceConfigurationRefresh(t *testing.T) {
	ws := watchedWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	assert.Empty(t, p.Property("vendor", ""))

	path := config.WorkspaceFilePath(ws.Root())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("properties:\n  vendor: Acme\n"), 0644))
	ws.watcher.handle(fsnotify.Event{Name: path, Op: fsnotify.Write})

	assert.Equal(t, "Acme", mustProject(t, ws, "app").Property("vendor", ""))
}

func TestWatcher_DiscoversNewProjects(t *testing.T) {
	ws := watchedWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	assert.Equal(t, []string{"app"}, names(ws.Projects()))

	// assemble the project elsewhere so it appears in one rename
	staging := t.TempDir()
	writeProject(t, staging, "lib", "version: 1.0.0\n")
	require.NoError(t, os.Rename(filepath.Join(staging, "lib"), filepath.Join(ws.Root(), "lib")))

	assert.Eventually(t, func() bool {
		return len(ws.Projects()) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"app", "lib"}, names(ws.Projects()))
}
