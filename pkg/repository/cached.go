package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/observability"
	"github.com/platinummonkey/lathe/pkg/version"
)

// CacheConfig configures the version listing cache
type CacheConfig struct {
	// MaxEntries bounds the in-memory cache
	MaxEntries int
	// TTL applies to both cache levels
	TTL time.Duration
	// Redis is an optional shared second level
	Redis *redis.Client
	// KeyPrefix namespaces Redis keys
	KeyPrefix string
}

// DefaultCacheConfig returns the default cache settings
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxEntries: 1024,
		TTL:        5 * time.Minute,
		KeyPrefix:  "lathe:versions:",
	}
}

// CacheStats holds cache counters
type CacheStats struct {
	Hits      int64
	RedisHits int64
	Misses    int64
	Entries   int
}

// Cached caches the version listings of a plugin. Every other call goes
// straight to the wrapped plugin.
type Cached struct {
	inner   Plugin
	config  *CacheConfig
	local   *lru.LRU[string, []version.Version]
	metrics *observability.Metrics

	hits      atomic.Int64
	redisHits atomic.Int64
	misses    atomic.Int64
}

// NewCached wraps inner with a version cache
func NewCached(inner Plugin, config *CacheConfig, metrics *observability.Metrics) *Cached {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultCacheConfig().KeyPrefix
	}
	return &Cached{
		inner:   inner,
		config:  config,
		local:   lru.NewLRU[string, []version.Version](config.MaxEntries, nil, config.TTL),
		metrics: metrics,
	}
}

// Unwrap returns the wrapped plugin
func (c *Cached) Unwrap() Plugin { return c.inner }

// Name implements Plugin.Name
func (c *Cached) Name() string { return c.inner.Name() }

// CanWrite implements Plugin.CanWrite
func (c *Cached) CanWrite() bool { return c.inner.CanWrite() }

// List implements Plugin.List
func (c *Cached) List(ctx context.Context, pattern string) ([]string, error) {
	return c.inner.List(ctx, pattern)
}

// Get implements Plugin.Get
func (c *Cached) Get(ctx context.Context, bsn string, v version.Version, attrs map[string]string, listeners ...download.Listener) (string, error) {
	return c.inner.Get(ctx, bsn, v, attrs, listeners...)
}

func (c *Cached) redisKey(bsn string) string {
	return fmt.Sprintf("%s%s:%s", c.config.KeyPrefix, c.inner.Name(), bsn)
}

// Versions implements Plugin.Versions
func (c *Cached) Versions(ctx context.Context, bsn string) ([]version.Version, error) {
	if vs, ok := c.local.Get(bsn); ok {
		c.hits.Add(1)
		c.metrics.RecordCache(c.Name(), "hit")
		return append([]version.Version(nil), vs...), nil
	}

	if c.config.Redis != nil {
		data, err := c.config.Redis.Get(ctx, c.redisKey(bsn)).Bytes()
		if err == nil {
			var vs []version.Version
			if err := json.Unmarshal(data, &vs); err == nil {
				c.redisHits.Add(1)
				c.metrics.RecordCache(c.Name(), "redis_hit")
				c.local.Add(bsn, vs)
				return append([]version.Version(nil), vs...), nil
			}
			// drop corrupt entries
			c.config.Redis.Del(ctx, c.redisKey(bsn))
		}
	}

	c.misses.Add(1)
	c.metrics.RecordCache(c.Name(), "miss")
	vs, err := c.inner.Versions(ctx, bsn)
	if err != nil {
		return nil, err
	}

	c.local.Add(bsn, vs)
	if c.config.Redis != nil {
		if data, err := json.Marshal(vs); err == nil {
			c.config.Redis.Set(ctx, c.redisKey(bsn), data, c.config.TTL)
		}
	}
	return append([]version.Version(nil), vs...), nil
}

// Put implements Plugin.Put and invalidates the bsn afterwards
func (c *Cached) Put(ctx context.Context, r io.Reader, opts PutOptions) (*PutResult, error) {
	res, err := c.inner.Put(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx, opts.Bsn)
	return res, nil
}

// Invalidate drops the cached versions of bsn
func (c *Cached) Invalidate(ctx context.Context, bsn string) {
	c.local.Remove(bsn)
	if c.config.Redis != nil {
		c.config.Redis.Del(ctx, c.redisKey(bsn))
	}
}

// Purge drops the in-memory cache
func (c *Cached) Purge() {
	c.local.Purge()
}

// Stats returns cache counters
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		RedisHits: c.redisHits.Load(),
		Misses:    c.misses.Load(),
		Entries:   c.local.Len(),
	}
}

// Prepare forwards to the wrapped plugin
func (c *Cached) Prepare(ctx context.Context) error {
	if p, ok := c.inner.(Preparer); ok {
		return p.Prepare(ctx)
	}
	return nil
}

// Locate forwards to the wrapped plugin
func (c *Cached) Locate(ctx context.Context, digest string) (string, version.Version, error) {
	if l, ok := c.inner.(Locator); ok {
		return l.Locate(ctx, digest)
	}
	return "", version.Version{}, ErrUnsupported
}

// Phase forwards to the wrapped plugin
func (c *Cached) Phase(ctx context.Context, bsn string, v version.Version) (Phase, bool) {
	if p, ok := c.inner.(PhaseReporter); ok {
		return p.Phase(ctx, bsn, v)
	}
	return PhaseUnknown, false
}
