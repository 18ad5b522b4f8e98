// Package releases keeps an index of released artifacts in a SQL database.
//
// The index records every artifact put into a repository by the release
// command, together with its phase. Staged releases are finalized
// explicitly. Baseline selection consults the index as a phase source so
// that superseded staged releases are skipped.
//
// SQLite is the default driver; PostgreSQL is supported for shared indexes:
//
//	idx, err := releases.Open("sqlite3", "cnf/releases.db")
//	if err != nil {
//		return err
//	}
//	defer idx.Close()
//	if err := idx.Migrate(ctx); err != nil {
//		return err
//	}
package releases
