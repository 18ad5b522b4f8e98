// Package build implements the workspace build engine: project discovery,
// dependency resolution against repositories, dependency ordering,
// staleness checks and incremental builds.
//
// # Overview
//
// A workspace is a directory whose immediate subdirectories containing a
// project.yaml are projects. cnf/workspace.yaml configures the repositories
// and workspace wide properties.
//
//	ws, err := build.Open("/src/acme", build.Options{Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer ws.Close()
//
//	run, err := build.NewOrchestrator(ws).Build(ctx, build.RunOptions{})
//
// # Project descriptors
//
// A project.yaml declares paths as clause lists:
//
//	bsn: com.acme.api
//	version: 1.2.0
//	buildpath:
//	  - com.acme.util;version=project
//	  - org.example.json;version="[1.0,2.0)"
//	testpath: junit;version=latest
//	packages:
//	  com.acme.api: 1.2.0
//
// The version attribute is a range, or one of project, snapshot, latest,
// file and hash. buildpath resolves to the lowest matching version, the
// other paths to the highest; a strategy attribute overrides that.
//
// # Resolution failures
//
// An entry that cannot be resolved becomes a container of TypeError and is
// reported on the project reporter at the position of the declaring
// property. A project with errors is not built. Dependency cycles are
// returned as *CircularDependencyError.
//
// # Concurrency
//
// Top level operations on a workspace are serialised. Nested calls made
// with the context of an operation join it.
package build
