// Package repository defines the contract between the build engine and the
// places components are fetched from and released to.
//
// # Overview
//
// A Plugin exposes a flat namespace of bundle symbolic names (bsn), each with
// a sorted set of versions. Get returns the local path of an artifact
// immediately and reports completion through download.Listener callbacks, so
// a plugin is free to fetch in the background. Callers that need the file
// wait on a download.Blocker.
//
// # Implementations
//
//   - FileRepository stores artifacts in a local directory tree.
//   - S3Repository reads and writes an S3 compatible bucket and keeps a local
//     download cache.
//   - Cached wraps any plugin and caches version listings in memory and,
//     optionally, in Redis.
//
// Optional capabilities are separate interfaces: Preparer, Locator (content
// digest lookup) and PhaseReporter (staged versus final releases).
//
// # Configuration
//
// Plugins are usually declared in cnf/workspace.yaml and created by Open:
//
//	repositories:
//	  - name: local
//	    type: file
//	    path: repo
//	  - name: central
//	    type: s3
//	    bucket: components
//	    region: us-east-1
//	    cache_ttl: 5m
package repository
