// Package cli provides the lathe command-line interface.
//
// # Overview
//
// Every command opens the workspace named by -workspace, LATHE_WORKSPACE
// or the current directory, with the process configuration loaded by
// package config.
//
// # Commands
//
// build: Build projects and their dependencies in order
//
//	lathe build [-test] [-force] [-baseline] [project ...]
//
// order: Print the build order of the workspace
//
//	lathe order
//
// stale: Report which projects need a rebuild
//
//	lathe stale [project ...]
//
// clean: Remove build outputs
//
//	lathe clean [project ...]
//
// baseline: Compare project APIs with their previous release
//
//	lathe baseline [project ...]
//
// repos: List repositories, bsns matching a glob or versions of a bsn
//
//	lathe repos [-list 'com.acme.*'] [-versions com.acme.util]
//
// release: Put project artifacts into a writable repository and record
// them in the release index when one is configured
//
//	lathe release [-repo local] [-staging] [project ...]
//
// watch: Follow file system changes and rebuild stale projects on a cron
// schedule
//
//	lathe watch [-schedule '@every 1m']
//
// serve: Serve the JSON status API with health and metrics endpoints
//
//	lathe serve [-addr :8380]
//
// # Exit Codes
//
// Commands exit with 1 when the build fails, a baseline mismatch is found
// or the workspace cannot be opened.
package cli
