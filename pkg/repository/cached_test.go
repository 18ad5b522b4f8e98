package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lathe/pkg/observability"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCached_Versions(t *testing.T) {
	ctx := context.Background()
	inner := newFileRepo(t)
	put(t, inner, "a", "1.0.0", "x")

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := NewCached(inner, &CacheConfig{MaxEntries: 10, TTL: time.Minute}, metrics)

	vs, err := c.Versions(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	// a version added behind the cache's back is not visible yet
	put(t, inner, "a", "2.0.0", "y")
	vs, err = c.Versions(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequestsTotal.WithLabelValues("local", "hit")))

	c.Invalidate(ctx, "a")
	vs, err = c.Versions(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, vs, 2)
}

func TestCached_PutInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := newFileRepo(t)
	c := NewCached(inner, nil, nil)

	vs, err := c.Versions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, vs)

	put(t, c, "a", "1.0.0", "x")
	vs, err = c.Versions(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestCached_RedisSecondLevel(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)

	inner := newFileRepo(t)
	put(t, inner, "a", "1.0.0", "x")

	cfg := &CacheConfig{MaxEntries: 10, TTL: time.Minute, Redis: client}
	first := NewCached(inner, cfg, nil)
	_, err := first.Versions(ctx, "a")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lathe:versions:local:a"))

	// a second process shares the listing through redis
	second := NewCached(inner, cfg, nil)
	vs, err := second.Versions(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", vs[0].String())
	assert.Equal(t, int64(1), second.Stats().RedisHits)

	// corrupt entries fall through to the plugin
	require.NoError(t, mr.Set("lathe:versions:local:b", "{not json"))
	_, err = second.Versions(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Stats().Misses)
}

func TestCached_Forwarding(t *testing.T) {
	ctx := context.Background()
	inner := newFileRepo(t)
	c := NewCached(inner, nil, nil)

	assert.Equal(t, inner, c.Unwrap())
	assert.NoError(t, c.Prepare(ctx))
	_, _, err := c.Locate(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	c2 := NewCached(namedPlugin{"x"}, nil, nil)
	_, _, err = c2.Locate(ctx, "abc")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, ok := c2.Phase(ctx, "a", mustV("1"))
	assert.False(t, ok)
}
