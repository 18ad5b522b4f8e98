package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/baseline"
	"github.com/platinummonkey/lathe/pkg/releases"
	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/repository/repotest"
	"github.com/platinummonkey/lathe/pkg/version"
)

func openWorkspace(t *testing.T, projects map[string]string, opts Options) *Workspace {
	t.Helper()
	root := t.TempDir()
	for name, desc := range projects {
		writeProject(t, root, name, desc)
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	ws, err := Open(root, opts)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readManifestLines(t *testing.T, p *Project) []string {
	t.Helper()
	files, err := readManifest(filepath.Join(p.TargetDir(), ManifestFile))
	require.NoError(t, err)
	return files
}

func TestBuildLocal_WritesArtifacts(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.2.0\n"})
	p := mustProject(t, ws, "app")
	writeFiles(t, p.OutputDir(), map[string]string{"com/acme/App.class": "bytes"})

	var changed []string
	ws.AddListener(ListenerFunc(func(path string) { changed = append(changed, filepath.Base(path)) }))

	files, err := p.BuildLocal(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, files, 1)

	artifact := filepath.Join(p.TargetDir(), "app-1.2.0.tgz")
	assert.Equal(t, artifact, files[0])
	assert.FileExists(t, filepath.Join(p.TargetDir(), "app.tgz"))
	assert.Equal(t, files, readManifestLines(t, p))
	assert.Equal(t, []string{"app-1.2.0.tgz", "app.tgz", ManifestFile}, changed)

	// no api.json in the output directory, so no sidecar
	assert.NoFileExists(t, artifact+baseline.APISuffix)

	f, err := os.Open(artifact)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "com/acme/App.class", hdr.Name)
	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestArchiveBuilder_Reproducible(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"b.txt": "b", "a/a.txt": "a", APIFile: `{"bsn":"x","version":"0.0.0","packages":[]}`})

	req := &BuildRequest{Bsn: "com.acme", Version: version.MustParse("1.0.0"), OutputDir: dir}
	first, err := ArchiveBuilder{}.Build(context.Background(), req)
	require.NoError(t, err)
	second, err := ArchiveBuilder{}.Build(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "com.acme-1.0.0.tgz", first[0].Name)
	assert.True(t, bytes.Equal(first[0].Data, second[0].Data))

	require.NotNil(t, first[0].API)
	assert.Equal(t, "com.acme", first[0].API.Bsn)
	assert.Equal(t, "1.0.0", first[0].API.Version.String())
}

func TestBuildLocal_WritesAPISidecar(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	require.NoError(t, baseline.WriteAPI(filepath.Join(p.OutputDir(), APIFile), &baseline.API{
		Packages: []baseline.Package{{Name: "com.acme.api", Version: version.MustParse("1.0.0")}},
	}))

	files, err := p.BuildLocal(context.Background(), false)
	require.NoError(t, err)

	api, err := baseline.LoadAPI(files[0] + baseline.APISuffix)
	require.NoError(t, err)
	assert.Equal(t, "app", api.Bsn)
	require.NotNil(t, api.Package("com.acme.api"))
}

func TestBuildLocal_RefusedKeepsPreviousBuild(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	files, err := p.BuildLocal(ctx, false)
	require.NoError(t, err)

	writeProject(t, ws.Root(), "app", "version: 1.0.0\nbuildpath: missing;version=1.0\n")
	require.NoError(t, p.PropertiesChanged())

	_, err = p.BuildLocal(ctx, false)
	require.ErrorIs(t, err, ErrBuildRefused)
	assert.False(t, p.Reporter().IsOK())

	assert.FileExists(t, files[0])
	assert.Equal(t, files, readManifestLines(t, p))
}

func TestBuildLocal_BuilderAndHooks(t *testing.T) {
	var (
		mu    sync.Mutex
		hooks []string
		reqs  []*BuildRequest
	)
	builder := BuilderFunc(func(ctx context.Context, req *BuildRequest) ([]Artifact, error) {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		if req.Project == "broken" {
			return nil, errors.New("compiler exploded")
		}
		return []Artifact{{Bsn: req.Bsn, Name: req.Bsn + ".jar", Data: []byte("jar")}}, nil
	})
	hook := func(ctx context.Context, p *Project) error {
		hooks = append(hooks, p.Name())
		if p.Name() == "vetoed" {
			return errors.New("not today")
		}
		return nil
	}

	repo := repotest.New("central", t.TempDir())
	repo.Add("json", "1.0.0")

	ws := openWorkspace(t, map[string]string{
		"app":    "version: 1.0.0\nbuildpath: json\n",
		"broken": "version: 1.0.0\n",
		"vetoed": "version: 1.0.0\n",
	}, Options{Builder: builder, Hooks: []PreBuildHook{hook}, Repositories: []repository.Plugin{repo}})
	ctx := context.Background()

	app := mustProject(t, ws, "app")
	files, err := app.BuildLocal(ctx, true)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "app.jar", filepath.Base(files[0]))

	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.True(t, req.UnderTest)
	assert.Equal(t, app.SourceDir(), req.SourceDir)
	require.Len(t, req.Buildpath, 2)
	assert.Equal(t, app.OutputDir(), req.Buildpath[0])
	assert.Equal(t, "json-1.0.0.jar", filepath.Base(req.Buildpath[1]))

	_, err = mustProject(t, ws, "broken").BuildLocal(ctx, false)
	require.EqualError(t, err, "compiler exploded")
	assert.False(t, mustProject(t, ws, "broken").Reporter().IsOK())

	vetoed := mustProject(t, ws, "vetoed")
	_, err = vetoed.BuildLocal(ctx, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not today")
	assert.Len(t, reqs, 2, "the builder never ran for the vetoed project")
	assert.NoFileExists(t, filepath.Join(vetoed.TargetDir(), ManifestFile))

	assert.Equal(t, []string{"app", "broken", "vetoed"}, hooks)
}

func TestBuildFiles_BuildIfAbsent(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	files, err := p.BuildFiles(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, files)

	files, err = p.BuildFiles(ctx, true)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.FileExists(t, files[0])
}

func TestBuild_SkipsFreshProjects(t *testing.T) {
	calls := 0
	builder := BuilderFunc(func(ctx context.Context, req *BuildRequest) ([]Artifact, error) {
		calls++
		return []Artifact{{Bsn: req.Bsn, Name: req.Bsn + ".jar", Data: []byte("jar")}}, nil
	})
	ws := openWorkspace(t, map[string]string{"app": "version: 1.0.0\n"}, Options{Builder: builder})
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	first, err := p.Build(ctx, false)
	require.NoError(t, err)
	second, err := p.Build(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestClean(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\n"})
	p := mustProject(t, ws, "app")
	ctx := context.Background()
	writeFiles(t, p.OutputDir(), map[string]string{"App.class": "x"})

	_, err := p.BuildLocal(ctx, false)
	require.NoError(t, err)
	require.NoError(t, p.Clean(ctx))

	for _, dir := range []string{p.OutputDir(), p.TargetDir()} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
	assert.Equal(t, Unprepared, p.State())

	stale, err := p.IsStale(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
}

type recorder struct {
	released []releases.Release
}

func (r *recorder) Record(_ context.Context, rel releases.Release) error {
	r.released = append(r.released, rel)
	return nil
}

func TestRelease(t *testing.T) {
	repo := repotest.New("releases", t.TempDir())
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.3.0\nbsn: com.acme.app\n"}, repo)
	p := mustProject(t, ws, "app")
	ctx := context.Background()
	rec := &recorder{}

	locations, err := p.Release(ctx, ReleaseOptions{Staging: true, Recorder: rec})
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "com.acme.app-1.3.0.tgz", filepath.Base(locations[0]))

	vs, err := repo.Versions(ctx, "com.acme.app")
	require.NoError(t, err)
	assert.Equal(t, []version.Version{version.MustParse("1.3.0")}, vs)

	phase, ok := repo.Phase(ctx, "com.acme.app", version.MustParse("1.3.0"))
	require.True(t, ok)
	assert.Equal(t, repository.PhaseStaging, phase)

	require.Len(t, rec.released, 1)
	assert.Equal(t, "releases", rec.released[0].Repository)
	assert.Equal(t, repository.PhaseStaging, rec.released[0].Phase)
	assert.Equal(t, locations[0], rec.released[0].Location)
}

func TestRelease_UnknownRepository(t *testing.T) {
	repo := repotest.New("releases", t.TempDir())
	ws := newTestWorkspace(t, map[string]string{"app": "version: 1.0.0\nreleaserepo: elsewhere\n"}, repo)

	_, err := mustProject(t, ws, "app").Release(context.Background(), ReleaseOptions{})
	require.ErrorIs(t, err, ErrNoWritableRepository)
	assert.Contains(t, err.Error(), "elsewhere")
}
