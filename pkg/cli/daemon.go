package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/lathe/pkg/build"
	"github.com/platinummonkey/lathe/pkg/observability"
	"github.com/platinummonkey/lathe/pkg/server"
)

func newWatchCommand() *Command {
	return newCommand("watch", "Watch the workspace and rebuild stale projects on a schedule",
		func(fs *flag.FlagSet) {
			fs.String("schedule", "", "Cron schedule for rebuilds (defaults to LATHE_REFRESH_SCHEDULE)")
			fs.Bool("test", false, "Build for testing")
		},
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, true)
			if err != nil {
				return err
			}
			defer e.Close()

			schedule := flagString(fs, "schedule")
			if schedule == "" {
				schedule = e.cfg.Workspace.RefreshSchedule
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rebuild := newRebuilder(e, build.RunOptions{UnderTest: flagBool(fs, "test")})
			rebuild.run(ctx)

			c := cron.New()
			if _, err := c.AddFunc(schedule, func() { rebuild.run(ctx) }); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
			c.Start()
			e.log.WithField("schedule", schedule).Info("Watching workspace")

			<-ctx.Done()
			e.log.Info("Shutting down watcher")
			<-c.Stop().Done()
			return nil
		})
}

// rebuilder runs one orchestrated build at a time; ticks arriving while a
// build runs are dropped
type rebuilder struct {
	e    *env
	orch *build.Orchestrator
	opts build.RunOptions
	mu   sync.Mutex
}

func newRebuilder(e *env, opts build.RunOptions) *rebuilder {
	return &rebuilder{e: e, orch: build.NewOrchestrator(e.ws), opts: opts}
}

func (r *rebuilder) run(ctx context.Context) {
	if !r.mu.TryLock() {
		r.e.log.Debug("Build still running, skipping scheduled rebuild")
		return
	}
	defer r.mu.Unlock()

	ctx = observability.WithLogger(ctx, r.e.log.WithField("component", "rebuilder"))
	log := observability.FromContext(ctx)
	defer observability.RecoverPanic(log, "scheduled rebuild")

	if err := r.e.ws.Refresh(); err != nil {
		log.WithError(err).Warn("Workspace refresh failed")
	}
	run, err := r.orch.Build(ctx, r.opts)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("Scheduled build failed")
		}
		return
	}
	built := 0
	for _, res := range run.Results {
		if res.Status == build.StatusBuilt {
			built++
		}
	}
	log.WithField("run_id", run.ID).
		WithField("built", built).
		WithField("failed", run.Failed()).
		Info("Scheduled build finished")
}

func newServeCommand() *Command {
	return newCommand("serve", "Serve the workspace status API",
		func(fs *flag.FlagSet) {
			fs.String("addr", "", "Listen address (defaults to LATHE_HOST:LATHE_PORT)")
			fs.Bool("watch", true, "Follow file system changes")
		},
		func(fs *flag.FlagSet) error {
			e, err := openEnv(fs, flagBool(fs, "watch"))
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := context.Background()
			tp, err := observability.InitTracing(ctx, e.cfg.Observability.Tracing(), e.log)
			if err != nil {
				return err
			}
			mp, err := observability.InitMetrics(ctx, e.cfg.Observability.Tracing(), e.log)
			if err != nil {
				return err
			}
			if mp != nil {
				om, err := observability.NewOTelMetrics(mp)
				if err != nil {
					return err
				}
				e.metrics.AttachOTel(om)
			}

			index, err := e.releaseIndex(ctx)
			if err != nil {
				return err
			}
			opts := server.Options{
				Logger:   e.log,
				Registry: e.registry,
				Metrics:  e.metrics,
				Releases: index,
			}
			if index != nil {
				opts.BaselineOptions.Phases = index
				opts.Health = observability.NewHealthChecker(index.DB(), e.redis, e.cfg.Observability.OTelServiceVersion)
			} else {
				opts.Health = observability.NewHealthChecker(nil, e.redis, e.cfg.Observability.OTelServiceVersion)
			}
			if !e.cfg.Observability.MetricsEnabled {
				opts.Registry = nil
			}

			addr := flagString(fs, "addr")
			if addr == "" {
				addr = e.cfg.Server.Addr()
			}
			httpServer := &http.Server{
				Addr:         addr,
				Handler:      server.New(e.ws, opts).Handler(),
				ReadTimeout:  e.cfg.Server.ReadTimeout,
				WriteTimeout: e.cfg.Server.WriteTimeout,
			}

			shutdown := observability.NewShutdownManager(e.log, httpServer, e.cfg.Server.ShutdownTimeout)
			shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
				return observability.ShutdownTracing(ctx, tp, e.log)
			})
			shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
				return observability.ShutdownMetrics(ctx, mp, e.log)
			})

			errCh := make(chan error, 1)
			go func() {
				e.log.WithField("addr", addr).Info("Starting status server")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			waitCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				if err, ok := <-errCh; ok {
					e.log.WithError(err).Error("Status server failed")
					cancel()
				}
			}()
			return shutdown.WaitForShutdown(waitCtx)
		})
}
