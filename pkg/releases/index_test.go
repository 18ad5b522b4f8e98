package releases

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

func newMockIndex(t *testing.T, driver string) (*Index, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, driver), mock
}

func TestRebind(t *testing.T) {
	pg := New(nil, "postgres")
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := New(nil, "sqlite3")
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestMigrate(t *testing.T) {
	idx, mock := newMockIndex(t, "sqlite3")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS releases").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, idx.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	idx, mock := newMockIndex(t, "postgres")
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO releases")).
		WithArgs("com.acme.api", "1.2.0", "local", "/repo/com.acme.api-1.2.0.tgz", "abc", "staging", created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := idx.Record(context.Background(), Release{
		Bsn:        "com.acme.api",
		Version:    version.MustParse("1.2"),
		Repository: "local",
		Location:   "/repo/com.acme.api-1.2.0.tgz",
		Digest:     "abc",
		Phase:      repository.PhaseStaging,
		CreatedAt:  created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DefaultsToFinal(t *testing.T) {
	idx, mock := newMockIndex(t, "sqlite3")
	mock.ExpectExec("INSERT INTO releases").
		WithArgs("a", "1.0.0", "", "", "", "final", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, idx.Record(context.Background(), Release{Bsn: "a", Version: version.MustParse("1")}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_RequiresBsn(t *testing.T) {
	idx, _ := newMockIndex(t, "sqlite3")
	assert.Error(t, idx.Record(context.Background(), Release{}))
}

func TestFinalize(t *testing.T) {
	t.Run("updates phase", func(t *testing.T) {
		idx, mock := newMockIndex(t, "sqlite3")
		mock.ExpectExec("UPDATE releases SET phase").
			WithArgs("final", "a", "1.0.0").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, idx.Finalize(context.Background(), "a", version.MustParse("1.0.0")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing release", func(t *testing.T) {
		idx, mock := newMockIndex(t, "sqlite3")
		mock.ExpectExec("UPDATE releases SET phase").WillReturnResult(sqlmock.NewResult(0, 0))

		err := idx.Finalize(context.Background(), "a", version.MustParse("9"))
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestReleases_SortedByVersion(t *testing.T) {
	idx, mock := newMockIndex(t, "sqlite3")
	now := time.Now()
	rows := sqlmock.NewRows([]string{"version", "repository", "location", "digest", "phase", "created_at"}).
		AddRow("1.10.0", "local", "l1", "d1", "final", now).
		AddRow("1.2.0", "local", "l2", "d2", "staging", now).
		AddRow("garbage", "local", "l3", "d3", "final", now)
	mock.ExpectQuery("SELECT version, repository").WithArgs("a").WillReturnRows(rows)

	got, err := idx.Releases(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.2.0", got[0].Version.String())
	assert.Equal(t, repository.PhaseStaging, got[0].Phase)
	assert.Equal(t, "1.10.0", got[1].Version.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhase(t *testing.T) {
	idx, mock := newMockIndex(t, "sqlite3")

	mock.ExpectQuery("SELECT phase FROM releases").
		WithArgs("a", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"phase"}).AddRow("staging"))
	phase, ok := idx.Phase(context.Background(), "a", version.MustParse("1"))
	assert.True(t, ok)
	assert.Equal(t, repository.PhaseStaging, phase)

	mock.ExpectQuery("SELECT phase FROM releases").WillReturnError(sql.ErrNoRows)
	_, ok = idx.Phase(context.Background(), "a", version.MustParse("2"))
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
