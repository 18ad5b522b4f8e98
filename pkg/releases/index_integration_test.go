//go:build integration

package releases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

// setupPostgresIndex starts a PostgreSQL container and returns a migrated
// index on it
func setupPostgresIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("releases_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	index, err := Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	require.NoError(t, index.Migrate(ctx))
	return index
}

func TestIndex_Postgres_Integration(t *testing.T) {
	index := setupPostgresIndex(t)
	ctx := context.Background()

	v1, v2 := version.MustParse("1.0.0"), version.MustParse("1.1.0")
	require.NoError(t, index.Record(ctx, Release{
		Bsn: "com.acme.util", Version: v2, Repository: "local", Location: "/r/2", Phase: repository.PhaseStaging,
	}))
	require.NoError(t, index.Record(ctx, Release{
		Bsn: "com.acme.util", Version: v1, Repository: "local", Location: "/r/1",
	}))

	// recording again replaces the location
	require.NoError(t, index.Record(ctx, Release{
		Bsn: "com.acme.util", Version: v1, Repository: "central", Location: "/c/1",
	}))

	rels, err := index.Releases(ctx, "com.acme.util")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, v1, rels[0].Version)
	assert.Equal(t, "central", rels[0].Repository)
	assert.Equal(t, repository.PhaseFinal, rels[0].Phase)

	phase, ok := index.Phase(ctx, "com.acme.util", v2)
	require.True(t, ok)
	assert.Equal(t, repository.PhaseStaging, phase)

	require.NoError(t, index.Finalize(ctx, "com.acme.util", v2))
	phase, _ = index.Phase(ctx, "com.acme.util", v2)
	assert.Equal(t, repository.PhaseFinal, phase)

	assert.ErrorIs(t, index.Finalize(ctx, "com.acme.util", version.MustParse("9.0.0")), ErrNotFound)
}
