package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/repository/repotest"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"highest", StrategyHighest, true},
		{"LOWEST", StrategyLowest, true},
		{" Exact ", StrategyExact, true},
		{"newest", StrategyHighest, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStrategy(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "LOWEST", StrategyLowest.String())
}

// twoRepos returns a workspace whose first repository has foo 0.9.0 and
// 1.0.0 and whose second has foo 1.0.0 and 1.2.0
func twoRepos(t *testing.T, projects map[string]string) (*Workspace, *repotest.Stub, *repotest.Stub) {
	t.Helper()
	a := repotest.New("a", t.TempDir())
	a.Add("foo", "0.9.0")
	a.Add("foo", "1.0.0")
	b := repotest.New("b", t.TempDir())
	b.Add("foo", "1.0.0")
	b.Add("foo", "1.2.0")

	if projects == nil {
		projects = map[string]string{}
	}
	if _, ok := projects["app"]; !ok {
		projects["app"] = "version: 1.0.0\n"
	}
	return newTestWorkspace(t, projects, a, b), a, b
}

func TestGetBundle_Strategies(t *testing.T) {
	ws, a, b := twoRepos(t, nil)
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	tests := []struct {
		name     string
		rng      string
		strategy Strategy
		attrs    map[string]string
		want     string
		from     *repotest.Stub
	}{
		{name: "highest", rng: "0", strategy: StrategyHighest, want: "1.2.0", from: b},
		{name: "empty range", rng: "", strategy: StrategyHighest, want: "1.2.0", from: b},
		{name: "lowest", rng: "0", strategy: StrategyLowest, want: "0.9.0", from: a},
		{name: "exact first repository", rng: "1.0.0", strategy: StrategyExact, want: "1.0.0", from: a},
		{name: "interval", rng: "[1.0,1.1)", strategy: StrategyHighest, want: "1.0.0", from: a},
		{name: "strategy attribute", rng: "0", strategy: StrategyHighest, attrs: map[string]string{"strategy": "Lowest"}, want: "0.9.0", from: a},
		{name: "repo filter", rng: "0", strategy: StrategyLowest, attrs: map[string]string{"repo": "b"}, want: "1.0.0", from: b},
		{name: "latest", rng: VersionLatest, strategy: StrategyLowest, want: "1.2.0", from: b},
		{name: "latest ignores strategy attribute", rng: VersionLatest, strategy: StrategyHighest, attrs: map[string]string{"strategy": "exact"}, want: "1.2.0", from: b},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := p.GetBundle(ctx, "foo", tt.rng, tt.strategy, tt.attrs)
			require.NoError(t, err)
			require.Equal(t, TypeRepo, c.Type(), c.Error())
			assert.Equal(t, tt.want, c.Version())
			assert.Equal(t, "app", c.Owner())
			assert.Equal(t, tt.from.Name(), filepath.Base(filepath.Dir(filepath.Dir(c.Path()))))
		})
	}
}

func TestGetBundle_ExactAsksRepositoriesInOrder(t *testing.T) {
	ws, a, b := twoRepos(t, nil)
	p := mustProject(t, ws, "app")

	c, err := p.GetBundle(context.Background(), "foo", "1.2.0", StrategyExact, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeRepo, c.Type())
	assert.Equal(t, []string{"foo@1.2.0"}, a.Gets())
	assert.Equal(t, []string{"foo@1.2.0"}, b.Gets())
}

func TestGetBundle_NotFound(t *testing.T) {
	ws, _, _ := twoRepos(t, nil)
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	c, err := p.GetBundle(ctx, "foo", "5.0", StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())
	assert.Contains(t, c.Error(), "foo;version=5.0 not found in [a, b]")

	c, err = p.GetBundle(ctx, "foo", "[2.0,1.0", StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())

	c, err = p.GetBundle(ctx, "foo", "[1.0,2.0)", StrategyExact, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())
	assert.Contains(t, c.Error(), "EXACT")
}

func TestGetBundle_UnknownStrategyWarns(t *testing.T) {
	ws, _, _ := twoRepos(t, nil)
	p := mustProject(t, ws, "app")

	c, err := p.GetBundle(context.Background(), "foo", "0", StrategyHighest, map[string]string{"strategy": "newest"})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", c.Version())
	require.Len(t, p.Reporter().Warnings(), 1)
	assert.Contains(t, p.Reporter().Warnings()[0].Text, "unknown strategy")
}

func TestGetBundle_Projects(t *testing.T) {
	ws, _, _ := twoRepos(t, map[string]string{
		"util": "bsn: com.acme.util\nversion: 2.0.0\n",
		"foo":  "version: 1.5.0\n",
	})
	p := mustProject(t, ws, "app")
	util := mustProject(t, ws, "util")
	ctx := context.Background()

	c, err := p.GetBundle(ctx, "util", VersionProject, StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeProject, c.Type())
	assert.Equal(t, "util", c.Project())
	assert.Equal(t, util.OutputDir(), c.Path())

	// trailing segments are dropped until a project matches
	c, err = p.GetBundle(ctx, "util.impl.internal", VersionSnapshot, StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeProject, c.Type())
	assert.Equal(t, "util", c.Project())
	assert.Equal(t, "util.impl.internal", c.Bsn())

	c, err = p.GetBundle(ctx, "nothing", VersionProject, StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())

	// latest prefers the workspace project over repositories
	c, err = p.GetBundle(ctx, "foo", VersionLatest, StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeProject, c.Type())

	// a project bsn takes part in version arbitration
	c, err = p.GetBundle(ctx, "foo", "[1.1,2.0)", StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeProject, c.Type())
	assert.Equal(t, "1.5.0", c.Version())

	c, err = p.GetBundle(ctx, "com.acme.util", "2.0", StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeProject, c.Type())
	assert.Equal(t, "util", c.Project())
}

func TestGetBundle_File(t *testing.T) {
	ws, _, _ := twoRepos(t, nil)
	p := mustProject(t, ws, "app")
	writeFiles(t, p.Dir(), map[string]string{
		"lib/x.jar":  "x",
		"deps.lib":   "x\n",
		"dir/y.jar":  "y",
		"notes.text": "n",
	})
	ctx := context.Background()

	tests := []struct {
		path string
		want ContainerType
	}{
		{"lib/x.jar", TypeExternal},
		{"deps.lib", TypeLibrary},
		{"dir", TypeLibrary},
		{"absent.jar", TypeError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			c, err := p.GetBundle(ctx, tt.path, VersionFile, StrategyHighest, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Type())
		})
	}
}

func TestGetBundlesWildcard(t *testing.T) {
	ws, a, _ := twoRepos(t, nil)
	a.Add("foo.api", "1.0.0")
	a.Add("bar", "1.0.0")
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	cs, err := p.GetBundlesWildcard(ctx, "foo*", "0", StrategyHighest, nil)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "foo", cs[0].Bsn())
	assert.Equal(t, "1.2.0", cs[0].Version())
	assert.Equal(t, "foo.api", cs[1].Bsn())

	cs, err = p.GetBundlesWildcard(ctx, "zzz*", "0", StrategyHighest, nil)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, TypeError, cs[0].Type())

	cs, err = p.GetBundlesWildcard(ctx, "foo*", "1.0.0", StrategyExact, nil)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, TypeError, cs[0].Type())
}

func TestGetBundle_HashUsesLocator(t *testing.T) {
	root := t.TempDir()
	repoDir := filepath.Join(root, "cnf", "repo")
	writeFiles(t, repoDir, map[string]string{"foo/foo-1.0.0.jar": "foo content"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "cnf", "workspace.yaml"), []byte(`
repositories:
  - name: local
    type: file
    path: cnf/repo
`), 0644))
	writeProject(t, root, "app", "version: 1.0.0\n")

	ws, err := Open(root, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer ws.Close()
	p := mustProject(t, ws, "app")
	ctx := context.Background()

	sum := sha256.Sum256([]byte("foo content"))
	c, err := p.GetBundle(ctx, "foo", VersionHash, StrategyHighest, map[string]string{"hash": hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	require.Equal(t, TypeRepo, c.Type(), c.Error())
	assert.Equal(t, "1.0.0", c.Version())
	assert.Equal(t, filepath.Join(repoDir, "foo", "foo-1.0.0.jar"), c.Path())

	c, err = p.GetBundle(ctx, "bar", VersionHash, StrategyHighest, map[string]string{"hash": hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())
	assert.Contains(t, c.Error(), "identifies foo;version=1.0.0")

	other := sha256.Sum256([]byte("other"))
	c, err = p.GetBundle(ctx, "foo", VersionHash, StrategyHighest, map[string]string{"hash": hex.EncodeToString(other[:])})
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())

	c, err = p.GetBundle(ctx, "foo", VersionHash, StrategyHighest, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeError, c.Type())
	assert.Contains(t, c.Error(), "hash attribute is required")
}
