package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/lathe/pkg/build"
)

func newBuildCommand() *Command {
	return newCommand("build", "Build projects and their dependencies in order",
		func(fs *flag.FlagSet) {
			fs.Bool("test", false, "Build for testing")
			fs.Bool("force", false, "Build projects that are not stale")
			fs.Bool("baseline", false, "Check semantic versions against the previous release")
		},
		runBuild)
}

func runBuild(fs *flag.FlagSet) error {
	e, err := openEnv(fs, false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	opts := build.RunOptions{
		Projects:  fs.Args(),
		UnderTest: flagBool(fs, "test"),
		Force:     flagBool(fs, "force"),
		Baseline:  flagBool(fs, "baseline"),
	}
	if opts.Baseline {
		index, err := e.releaseIndex(ctx)
		if err != nil {
			return err
		}
		if index != nil {
			opts.BaselineOptions.Phases = index
		}
	}

	run, err := build.NewOrchestrator(e.ws).Build(ctx, opts)
	if err != nil {
		return err
	}
	return printRun(e, run)
}

// printRun writes one line per project and fails when any project failed
func printRun(e *env, run *build.Run) error {
	for _, r := range run.Results {
		line := fmt.Sprintf("%-24s %-8s %s", r.Project, r.Status, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			line += "  " + r.Err.Error()
		}
		fmt.Fprintln(stdout, line)
		if r.Status == build.StatusFailed {
			if p, ok := e.ws.Project(r.Project); ok {
				printMessages(p)
			}
		}
	}
	if run.Failed() {
		return fmt.Errorf("build %s failed", run.ID)
	}
	return nil
}

func newOrderCommand() *Command {
	return newCommand("order", "Print the workspace build order", nil,
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, false)
			if err != nil {
				return err
			}
			defer e.Close()

			order, err := e.ws.BuildOrder(context.Background())
			if err != nil {
				return err
			}
			for _, p := range order {
				fmt.Fprintln(stdout, p.Name())
			}
			return nil
		})
}

func newStaleCommand() *Command {
	return newCommand("stale", "Report which projects need a rebuild", nil,
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, false)
			if err != nil {
				return err
			}
			defer e.Close()

			projects, err := e.selectProjects(fs.Args())
			if err != nil {
				return err
			}
			for _, p := range projects {
				stale, err := p.IsStale(context.Background())
				if err != nil {
					return err
				}
				state := "fresh"
				if stale {
					state = "stale"
				}
				fmt.Fprintf(stdout, "%-24s %s\n", p.Name(), state)
			}
			return nil
		})
}

func newCleanCommand() *Command {
	return newCommand("clean", "Remove build outputs", nil,
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, false)
			if err != nil {
				return err
			}
			defer e.Close()

			projects, err := e.selectProjects(fs.Args())
			if err != nil {
				return err
			}
			for _, p := range projects {
				if err := p.Clean(context.Background()); err != nil {
					return fmt.Errorf("%s: %w", p.Name(), err)
				}
				fmt.Fprintf(stdout, "cleaned %s\n", p.Name())
			}
			return nil
		})
}

func newBaselineCommand() *Command {
	return newCommand("baseline", "Compare project APIs with their previous release", nil,
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, false)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := context.Background()
			var opts build.BaselineOptions
			index, err := e.releaseIndex(ctx)
			if err != nil {
				return err
			}
			if index != nil {
				opts.Phases = index
			}

			projects, err := e.selectProjects(fs.Args())
			if err != nil {
				return err
			}
			mismatches := 0
			for _, p := range projects {
				if p.IsNoBundles() {
					continue
				}
				result, err := p.Baseline(ctx, opts)
				if err != nil {
					return fmt.Errorf("%s: %w", p.Name(), err)
				}
				if result == nil {
					fmt.Fprintf(stdout, "%-24s no baseline\n", p.Name())
					continue
				}
				found := result.Mismatches()
				if len(found) == 0 {
					fmt.Fprintf(stdout, "%-24s ok (%s)\n", p.Name(), result.Bundle.Older)
					continue
				}
				mismatches += len(found)
				fmt.Fprintf(stdout, "%-24s %d mismatch(es)\n", p.Name(), len(found))
				for _, m := range found {
					fmt.Fprintf(stdout, "  %s\n", m)
				}
			}
			if mismatches > 0 {
				return fmt.Errorf("%d baseline mismatch(es)", mismatches)
			}
			return nil
		})
}

func newReposCommand() *Command {
	return newCommand("repos", "List repositories and their content",
		func(fs *flag.FlagSet) {
			fs.String("list", "", "List bsns matching a glob in every repository")
			fs.String("versions", "", "List the versions of a bsn in every repository")
		},
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, false)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := context.Background()
			repos, err := e.ws.Repositories(ctx)
			if err != nil {
				return err
			}

			list, bsn := flagString(fs, "list"), flagString(fs, "versions")
			for _, repo := range repos {
				mode := "ro"
				if repo.CanWrite() {
					mode = "rw"
				}
				fmt.Fprintf(stdout, "%s (%s)\n", repo.Name(), mode)

				switch {
				case bsn != "":
					versions, err := repo.Versions(ctx, bsn)
					if err != nil {
						return fmt.Errorf("%s: %w", repo.Name(), err)
					}
					texts := make([]string, 0, len(versions))
					for _, v := range versions {
						texts = append(texts, v.String())
					}
					fmt.Fprintf(stdout, "  %s: %s\n", bsn, strings.Join(texts, " "))
				case isFlagSet(fs, "list"):
					names, err := repo.List(ctx, list)
					if err != nil {
						return fmt.Errorf("%s: %w", repo.Name(), err)
					}
					for _, name := range names {
						fmt.Fprintf(stdout, "  %s\n", name)
					}
				}
			}
			return nil
		})
}

// isFlagSet reports whether name was given on the command line
func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func newReleaseCommand() *Command {
	return newCommand("release", "Release project artifacts into a repository",
		func(fs *flag.FlagSet) {
			fs.String("repo", "", "Target repository (defaults to releaserepo or the first writable one)")
			fs.Bool("staging", false, "Release as staging rather than final")
		},
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, false)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := context.Background()
			opts := build.ReleaseOptions{
				Repository: flagString(fs, "repo"),
				Staging:    flagBool(fs, "staging"),
			}
			index, err := e.releaseIndex(ctx)
			if err != nil {
				return err
			}
			if index != nil {
				opts.Recorder = index
			}

			projects, err := e.selectProjects(fs.Args())
			if err != nil {
				return err
			}
			order, err := e.ws.BuildOrder(ctx)
			if err != nil {
				return err
			}
			selected := make(map[string]bool, len(projects))
			for _, p := range projects {
				selected[p.Name()] = true
			}
			for _, p := range order {
				if !selected[p.Name()] || p.IsNoBundles() {
					continue
				}
				locations, err := p.Release(ctx, opts)
				if err != nil {
					printMessages(p)
					return fmt.Errorf("%s: %w", p.Name(), err)
				}
				for _, loc := range locations {
					fmt.Fprintf(stdout, "%-24s %s\n", p.Name(), loc)
				}
			}
			return nil
		})
}
