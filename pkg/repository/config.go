package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lathe/pkg/observability"
)

// Config declares one repository plugin in cnf/workspace.yaml
type Config struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	ReadOnly bool   `yaml:"readonly"`

	// file
	Path string `yaml:"path"`

	// s3
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	CacheDir  string `yaml:"cache"`

	// version listing cache, disabled when CacheTTL is zero
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheEntries int           `yaml:"cache_entries"`
}

// Validate checks the declaration
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("repository name is required")
	}
	if _, ok := factories[c.Type]; !ok {
		return fmt.Errorf("repository %s: unknown type %q (known: %v)", c.Name, c.Type, Types())
	}
	switch c.Type {
	case "file":
		if c.Path == "" {
			return fmt.Errorf("repository %s: path is required", c.Name)
		}
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("repository %s: bucket is required", c.Name)
		}
	}
	return nil
}

// OpenOptions carries shared dependencies for Open
type OpenOptions struct {
	// BaseDir resolves relative paths, usually the workspace root
	BaseDir string
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Redis   *redis.Client
}

type factory func(ctx context.Context, cfg Config, opts OpenOptions) (Plugin, error)

var factories = map[string]factory{
	"file": openFile,
	"s3":   openS3,
}

// Types lists the known repository types
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Open creates the plugin declared by cfg
func Open(ctx context.Context, cfg Config, opts OpenOptions) (Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	p, err := factories[cfg.Type](ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", cfg.Name, err)
	}

	if cfg.CacheTTL > 0 {
		p = NewCached(p, &CacheConfig{
			MaxEntries: cfg.CacheEntries,
			TTL:        cfg.CacheTTL,
			Redis:      opts.Redis,
		}, opts.Metrics)
	}
	return p, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func openFile(ctx context.Context, cfg Config, opts OpenOptions) (Plugin, error) {
	fopts := []FileOption{WithFileLogger(opts.Logger)}
	if cfg.ReadOnly {
		fopts = append(fopts, WithReadOnly())
	}
	return NewFileRepository(cfg.Name, resolvePath(opts.BaseDir, cfg.Path), fopts...)
}

func openS3(ctx context.Context, cfg Config, opts OpenOptions) (Plugin, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache := cfg.CacheDir
	if cache == "" {
		cache = filepath.Join("cache", cfg.Name)
	}
	r := NewS3Repository(cfg.Name, client, cfg.Bucket, cfg.Prefix, resolvePath(opts.BaseDir, cache), opts.Logger)
	r.readOnly = cfg.ReadOnly
	return r, nil
}
