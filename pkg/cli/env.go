package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/build"
	"github.com/platinummonkey/lathe/pkg/config"
	"github.com/platinummonkey/lathe/pkg/observability"
	"github.com/platinummonkey/lathe/pkg/releases"
)

// env is the process wide state shared by the commands
type env struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	redis    *redis.Client
	ws       *build.Workspace
	index    *releases.Index
}

// openEnv loads the configuration and opens the workspace named by the
// -workspace flag
func openEnv(fs *flag.FlagSet, watch bool) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if root := flagString(fs, "workspace"); root != "" {
		cfg.Workspace.Root = root
	}

	e := &env{
		cfg:      cfg,
		log:      observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr),
		registry: prometheus.NewRegistry(),
	}
	if cfg.Observability.MetricsEnabled {
		e.metrics = observability.NewMetrics(e.registry)
	}

	if cfg.Cache.RedisURL != "" {
		client, err := newRedisClient(cfg.Cache)
		if err != nil {
			return nil, err
		}
		e.redis = client
	}

	overwrite, err := build.NewOverwriteStrategy(cfg.Workspace.OverwriteStrategy,
		cfg.Workspace.RetryAttempts, cfg.Workspace.RetryDelay, e.metrics)
	if err != nil {
		e.Close()
		return nil, err
	}

	ws, err := build.Open(cfg.Workspace.Root, build.Options{
		Logger:    e.log,
		Metrics:   e.metrics,
		Redis:     e.redis,
		Overwrite: overwrite,
		Watch:     watch,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.ws = ws
	return e, nil
}

// releaseIndex opens the release index configured in the environment or
// in the workspace file. It returns nil when none is configured.
func (e *env) releaseIndex(ctx context.Context) (*releases.Index, error) {
	if e.index != nil {
		return e.index, nil
	}
	rc := e.cfg.Releases
	if rc.DSN == "" && e.ws.ConfigFile() != nil {
		rc = e.ws.ConfigFile().Releases
	}
	if rc.DSN == "" {
		return nil, nil
	}

	dsn := rc.DSN
	if (rc.Driver == "" || rc.Driver == "sqlite3") && !filepath.IsAbs(dsn) && dsn != ":memory:" {
		dsn = filepath.Join(e.ws.Root(), dsn)
	}
	index, err := releases.Open(rc.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := index.Migrate(ctx); err != nil {
		index.Close()
		return nil, err
	}
	e.index = index
	return index, nil
}

// Close releases everything openEnv acquired
func (e *env) Close() {
	if e.ws != nil {
		if err := e.ws.Close(); err != nil {
			e.log.WithError(err).Warn("Failed to close workspace")
		}
	}
	if e.index != nil {
		e.index.Close()
	}
	if e.redis != nil {
		e.redis.Close()
	}
}

func newRedisClient(cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// selectProjects returns the named projects or every project when names
// is empty
func (e *env) selectProjects(names []string) ([]*build.Project, error) {
	if len(names) == 0 {
		return e.ws.Projects(), nil
	}
	out := make([]*build.Project, 0, len(names))
	for _, name := range names {
		p, err := e.ws.MustProject(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// printMessages writes the errors and warnings of a project
func printMessages(p *build.Project) {
	for _, m := range p.Reporter().Messages() {
		fmt.Fprintf(stdout, "  %s\n", m)
	}
}
