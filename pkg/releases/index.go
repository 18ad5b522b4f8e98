package releases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/lathe/pkg/repository"
	"github.com/platinummonkey/lathe/pkg/version"
)

// ErrNotFound is returned when a release is not in the index
var ErrNotFound = errors.New("release not found")

// Release is one indexed artifact
type Release struct {
	Bsn        string
	Version    version.Version
	Repository string
	Location   string
	Digest     string
	Phase      repository.Phase
	CreatedAt  time.Time
}

// Index is a release index on database/sql
type Index struct {
	db     *sql.DB
	driver string
}

// Open connects to the index database and verifies the connection
func Open(driver, dsn string) (*Index, error) {
	switch driver {
	case "", "sqlite3":
		driver = "sqlite3"
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported release index driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open release index: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping release index: %w", err)
	}

	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return New(db, driver), nil
}

// New wraps an open database
func New(db *sql.DB, driver string) *Index {
	return &Index{db: db, driver: driver}
}

// DB returns the underlying database for health checks
func (i *Index) DB() *sql.DB {
	return i.db
}

// Close closes the database
func (i *Index) Close() error {
	return i.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL
func (i *Index) rebind(query string) string {
	if i.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const schema = `CREATE TABLE IF NOT EXISTS releases (
	bsn        VARCHAR(255) NOT NULL,
	version    VARCHAR(128) NOT NULL,
	repository VARCHAR(255) NOT NULL,
	location   TEXT NOT NULL,
	digest     VARCHAR(128) NOT NULL,
	phase      VARCHAR(16) NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (bsn, version)
)`

// Migrate creates the releases table when missing
func (i *Index) Migrate(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate release index: %w", err)
	}
	return nil
}

// Record inserts or replaces a release
func (i *Index) Record(ctx context.Context, r Release) error {
	if r.Bsn == "" {
		return fmt.Errorf("release bsn is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Phase == repository.PhaseUnknown {
		r.Phase = repository.PhaseFinal
	}

	query := i.rebind(`INSERT INTO releases (bsn, version, repository, location, digest, phase, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (bsn, version) DO UPDATE SET
	repository = excluded.repository,
	location = excluded.location,
	digest = excluded.digest,
	phase = excluded.phase`)

	_, err := i.db.ExecContext(ctx, query,
		r.Bsn, r.Version.String(), r.Repository, r.Location, r.Digest, r.Phase.String(), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record release %s-%s: %w", r.Bsn, r.Version, err)
	}
	return nil
}

// Finalize marks a staged release final
func (i *Index) Finalize(ctx context.Context, bsn string, v version.Version) error {
	res, err := i.db.ExecContext(ctx,
		i.rebind(`UPDATE releases SET phase = ? WHERE bsn = ? AND version = ?`),
		repository.PhaseFinal.String(), bsn, v.String())
	if err != nil {
		return fmt.Errorf("failed to finalize release %s-%s: %w", bsn, v, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s-%s: %w", bsn, v, ErrNotFound)
	}
	return nil
}

// Releases lists the releases of bsn in ascending version order
func (i *Index) Releases(ctx context.Context, bsn string) ([]Release, error) {
	rows, err := i.db.QueryContext(ctx,
		i.rebind(`SELECT version, repository, location, digest, phase, created_at FROM releases WHERE bsn = ?`),
		bsn)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	defer rows.Close()

	var out []Release
	for rows.Next() {
		var (
			r     = Release{Bsn: bsn}
			ver   string
			phase string
		)
		if err := rows.Scan(&ver, &r.Repository, &r.Location, &r.Digest, &phase, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		v, err := version.Parse(ver)
		if err != nil {
			continue
		}
		r.Version = v
		r.Phase = repository.ParsePhase(phase)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Version.Less(out[b].Version) })
	return out, nil
}

// Phase reports the recorded phase of a release
func (i *Index) Phase(ctx context.Context, bsn string, v version.Version) (repository.Phase, bool) {
	var phase string
	err := i.db.QueryRowContext(ctx,
		i.rebind(`SELECT phase FROM releases WHERE bsn = ? AND version = ?`),
		bsn, v.String()).Scan(&phase)
	if err != nil {
		return repository.PhaseUnknown, false
	}
	return repository.ParsePhase(phase), true
}
