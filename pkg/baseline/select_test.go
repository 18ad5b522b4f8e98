package baseline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

type phaseMap map[string]repository.Phase

func (m phaseMap) Phase(_ context.Context, bsn string, v version.Version) (repository.Phase, bool) {
	p, ok := m[bsn+"@"+v.String()]
	return p, ok
}

func versions(vs ...string) []version.Version {
	out := make([]version.Version, 0, len(vs))
	for _, v := range vs {
		out = append(out, version.MustParse(v))
	}
	return out
}

func TestSelectBaseline(t *testing.T) {
	ctx := context.Background()
	pinned := version.MustParse("1.0.0")
	missing := version.MustParse("9.9.9")

	tests := []struct {
		name     string
		versions []version.Version
		current  string
		pinned   *version.Version
		phases   PhaseSource
		want     string
		found    bool
	}{
		{
			name:     "highest below current base",
			versions: versions("1.0.0", "1.1.0", "1.2.0", "2.0.0"),
			current:  "1.2.0.SNAPSHOT",
			want:     "1.1.0",
			found:    true,
		},
		{
			name:     "latest qualifier per base",
			versions: versions("1.0.0.RC1", "1.0.0.RC2", "0.9.0"),
			current:  "1.1.0",
			want:     "1.0.0.RC2",
			found:    true,
		},
		{
			name:     "pinned",
			versions: versions("1.0.0", "1.1.0"),
			current:  "2.0.0",
			pinned:   &pinned,
			want:     "1.0.0",
			found:    true,
		},
		{
			name:     "pinned missing",
			versions: versions("1.0.0"),
			current:  "2.0.0",
			pinned:   &missing,
			found:    false,
		},
		{
			name:     "nothing below current",
			versions: versions("2.0.0"),
			current:  "1.0.0",
			found:    false,
		},
		{
			name:     "prefers final within a base",
			versions: versions("1.0.0.a", "1.0.0.b"),
			current:  "1.1.0",
			phases:   phaseMap{"x@1.0.0.b": repository.PhaseStaging, "x@1.0.0.a": repository.PhaseFinal},
			want:     "1.0.0.a",
			found:    true,
		},
		{
			name:     "skips staged base",
			versions: versions("1.0.0", "1.1.0"),
			current:  "1.2.0",
			phases:   phaseMap{"x@1.1.0": repository.PhaseStaging},
			want:     "1.0.0",
			found:    true,
		},
		{
			name:     "all staged",
			versions: versions("1.0.0", "1.1.0"),
			current:  "1.2.0",
			phases:   phaseMap{"x@1.1.0": repository.PhaseStaging, "x@1.0.0": repository.PhaseStaging},
			want:     "1.1.0",
			found:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectBaseline(ctx, tt.versions, "x", version.MustParse(tt.current), tt.pinned, tt.phases)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestSidecarExtractor(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "com.acme-1.0.0.tgz")

	_, err := SidecarExtractor{}.Extract(context.Background(), artifact)
	assert.ErrorIs(t, err, ErrNoAPI)

	want := apiWith("com.acme", "1.0.0", greeter("1.0.0", method("foo")))
	require.NoError(t, WriteAPI(artifact+APISuffix, want))

	got, err := SidecarExtractor{}.Extract(context.Background(), artifact)
	require.NoError(t, err)
	assert.Equal(t, "com.acme", got.Bsn)
	require.NotNil(t, got.Package("com.acme.greeter"))
	assert.Nil(t, got.Package("missing"))
}
