// Package config provides process configuration from environment variables
// and the workspace configuration file.
//
// # Overview
//
// LoadConfig reads LATHE_* environment variables with defaults for every
// setting. LoadWorkspaceFile reads cnf/workspace.yaml, which declares the
// ordered repository plugins of a workspace.
//
// # Environment
//
// Workspace settings:
//
//	LATHE_WORKSPACE="/src/acme"          # defaults to the working directory
//	LATHE_OVERWRITE_STRATEGY="retry"     # direct, retry, gc, symlink
//	LATHE_OVERWRITE_RETRIES="10"
//	LATHE_OVERWRITE_DELAY="100ms"
//	LATHE_REFRESH_SCHEDULE="@every 5m"
//
// Status server settings:
//
//	LATHE_HOST="127.0.0.1"
//	LATHE_PORT="8380"
//
// Shared version cache and release index:
//
//	LATHE_REDIS_URL="redis://localhost:6379/0"
//	LATHE_RELEASES_DRIVER="sqlite3"      # sqlite3, postgres
//	LATHE_RELEASES_DSN="releases.db"
//
// Observability:
//
//	LATHE_LOG_LEVEL="info"
//	LATHE_LOG_FORMAT="json"
//	LATHE_OTEL_ENABLED="true"
//	LATHE_OTEL_ENDPOINT="localhost:4317"
//
// # Workspace file
//
//	repositories:
//	  - name: local
//	    type: file
//	    path: cnf/repo
//	releases:
//	  driver: sqlite3
//	  dsn: cnf/releases.db
//	properties:
//	  src: src
//	  bin: bin
package config
