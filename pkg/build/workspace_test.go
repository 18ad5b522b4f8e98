package build

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/config"
	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/repository/repotest"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// writeProject creates a project directory with a descriptor and one
// source file
func writeProject(t *testing.T, root, name, descriptor string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte(descriptor), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "Main.java"), []byte("class Main {}\n"), 0644))
	return dir
}

// newTestWorkspace creates a workspace from name to descriptor pairs
func newTestWorkspace(t *testing.T, projects map[string]string, repos ...repository.Plugin) *Workspace {
	t.Helper()
	root := t.TempDir()
	for name, desc := range projects {
		writeProject(t, root, name, desc)
	}
	ws, err := Open(root, Options{Logger: quietLogger(), Repositories: repos})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func mustProject(t *testing.T, ws *Workspace, name string) *Project {
	t.Helper()
	p, err := ws.MustProject(name)
	require.NoError(t, err)
	return p
}

func names(projects []*Project) []string {
	out := make([]string, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.Name())
	}
	return out
}

func TestOpen_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := Open(file, Options{Logger: quietLogger()})
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing"), Options{Logger: quietLogger()})
	assert.Error(t, err)
}

func TestWorkspace_Discovery(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		"beta":  "version: 1.0.0\n",
		"alpha": "version: 1.0.0\n",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Root(), "docs"), 0755))
	writeProject(t, ws.Root(), ".hidden", "version: 1.0.0\n")
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Root(), config.ConfigDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), config.ConfigDir, DescriptorFile), nil, 0644))

	assert.Equal(t, []string{"alpha", "beta"}, names(ws.Projects()))

	_, ok := ws.Project("docs")
	assert.False(t, ok)
	_, err := ws.MustProject("nope")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	// cached until refreshed
	writeProject(t, ws.Root(), "gamma", "version: 1.0.0\n")
	assert.Equal(t, []string{"alpha", "beta"}, names(ws.Projects()))

	require.NoError(t, ws.Refresh())
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names(ws.Projects()))
}

func TestWorkspace_ProjectIsShared(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})

	a := mustProject(t, ws, "app")
	b := mustProject(t, ws, "app")
	assert.Same(t, a, b)
}

func TestWorkspace_ProjectUnderConstruction(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})

	ws.mu.Lock()
	ws.constructing["app"] = true
	ws.mu.Unlock()

	_, ok := ws.Project("app")
	assert.False(t, ok)

	ws.mu.Lock()
	delete(ws.constructing, "app")
	ws.mu.Unlock()

	_, ok = ws.Project("app")
	assert.True(t, ok)
}

func TestWorkspace_PropertiesInherited(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.ConfigDir), 0755))
	require.NoError(t, os.WriteFile(config.WorkspaceFilePath(root), []byte("properties:\n  target: out\n  version: 3.0.0\n"), 0644))
	writeProject(t, root, "app", "version: 1.0.0\n")

	ws, err := Open(root, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer ws.Close()

	p := mustProject(t, ws, "app")
	assert.Equal(t, filepath.Join(root, "app", "out"), p.TargetDir())
	assert.Equal(t, "1.0.0", p.Version().String())
}

func TestWorkspace_BuildOrder(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		"app":  "buildpath: util;version=project\ntestpath: fixtures;version=project\n",
		"util": "dependson: base\n",
		"base": "version: 1.0.0\n",
		// fixtures sorts before util but depends on it
		"fixtures": "buildpath: util;version=latest\n",
	})

	order, err := ws.BuildOrder(context.Background())
	require.NoError(t, err)

	got := names(order)
	require.Len(t, got, 4)
	pos := make(map[string]int)
	for i, n := range got {
		pos[n] = i
	}
	assert.Less(t, pos["base"], pos["util"])
	assert.Less(t, pos["util"], pos["fixtures"])
	assert.Less(t, pos["util"], pos["app"])
	assert.Less(t, pos["fixtures"], pos["app"])
}

func TestWorkspace_RepositoriesFromConfiguration(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.ConfigDir), 0755))
	require.NoError(t, os.WriteFile(config.WorkspaceFilePath(root), []byte(`
repositories:
  - name: local
    type: file
    path: cnf/repo
`), 0644))
	artifact := filepath.Join(root, "cnf", "repo", "com.acme.json", "com.acme.json-1.4.0.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(artifact), 0755))
	require.NoError(t, os.WriteFile(artifact, []byte("jar"), 0644))
	writeProject(t, root, "app", "buildpath: com.acme.json\n")

	extra := repotest.New("extra", t.TempDir())
	ws, err := Open(root, Options{Logger: quietLogger(), Repositories: []repository.Plugin{extra}})
	require.NoError(t, err)
	defer ws.Close()

	repos, err := ws.Repositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "local", repos[0].Name())
	assert.Equal(t, "extra", repos[1].Name())

	r, err := ws.Repository(context.Background(), "extra")
	require.NoError(t, err)
	assert.Same(t, extra, r)
	_, err = ws.Repository(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	p := mustProject(t, ws, "app")
	require.NoError(t, p.Prepare(context.Background()))
	assert.True(t, p.Reporter().IsOK(), p.Reporter().Messages())

	bp := p.Buildpath()
	require.Len(t, bp, 2)
	assert.Equal(t, "com.acme.json", bp[1].Bsn())
	assert.Equal(t, artifact, bp[1].Path())
}

func TestWorkspace_ChangedFileListeners(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})

	var changed []string
	ws.AddListener(ListenerFunc(func(path string) { changed = append(changed, path) }))

	p := mustProject(t, ws, "app")
	files, err := p.BuildLocal(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, files, 1)

	sort.Strings(changed)
	assert.Contains(t, changed, files[0])
	assert.Contains(t, changed, filepath.Join(p.TargetDir(), ManifestFile))
}

func TestWorkspace_Close(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	require.NoError(t, ws.Close())
	assert.True(t, ws.Closed())

	_, ok := ws.Project("app")
	assert.False(t, ok)
	assert.NoError(t, ws.Close())
}

func TestRegistry(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "app", "version: 1.0.0\n")

	reg := NewRegistry(Options{Logger: quietLogger()})
	defer reg.CloseAll()

	a, err := reg.Get(root)
	require.NoError(t, err)
	b, err := reg.Get(filepath.Join(root, "app", ".."))
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.NoError(t, reg.Close(root))
	assert.True(t, a.Closed())

	c, err := reg.Get(root)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	require.NoError(t, reg.CloseAll())
	assert.True(t, c.Closed())

	_, err = reg.Get(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
