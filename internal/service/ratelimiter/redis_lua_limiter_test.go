package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, buckets map[string]BucketConfig) (*RedisLuaLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLuaLimiter(rdb, buckets), mr
}

func TestAllow_ConsumesTokensThenDenies(t *testing.T) {
	lim, _ := newTestLimiter(t, map[string]BucketConfig{
		"search": {Capacity: 2, RefillRate: 1},
	})
	ctx := context.Background()

	ok, _, err := lim.Allow(ctx, "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = lim.Allow(ctx, "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, retryAfter, err := lim.Allow(ctx, "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0), "denials report when to retry")
}

func TestAllow_FamilyFromKeyPrefix(t *testing.T) {
	lim, mr := newTestLimiter(t, map[string]BucketConfig{
		"ingest": {Capacity: 1, RefillRate: 0.5},
	})
	ctx := context.Background()

	ok, _, err := lim.Allow(ctx, "ingest:10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)

	// State lives under the full caller key, not the family.
	require.True(t, mr.Exists("rate:ingest:10.0.0.4"))

	// Another caller draws from its own bucket.
	ok, _, err = lim.Allow(ctx, "ingest:10.0.0.5", 1)
	require.NoError(t, err)
	require.True(t, ok)

	// The first caller's bucket is now empty.
	ok, _, err = lim.Allow(ctx, "ingest:10.0.0.4", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllow_UnknownFamilyFailsOpen(t *testing.T) {
	lim, _ := newTestLimiter(t, map[string]BucketConfig{
		"ingest": {Capacity: 1, RefillRate: 1},
	})
	for i := 0; i < 10; i++ {
		ok, _, err := lim.Allow(context.Background(), "unconfigured:10.0.0.4", 1)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestAllow_RedisDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lim := NewRedisLuaLimiter(rdb, map[string]BucketConfig{
		"search": {Capacity: 1, RefillRate: 1},
	})
	mr.Close()

	ok, _, err := lim.Allow(context.Background(), "search:10.0.0.4", 1)
	require.Error(t, err)
	require.True(t, ok, "an unreachable limiter never blocks traffic")
}

func TestAllow_NilLimiter(t *testing.T) {
	var lim *RedisLuaLimiter
	ok, _, err := lim.Allow(context.Background(), "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.Nil(t, NewRedisLuaLimiter(nil, nil))
}

func TestSetBucketConfig(t *testing.T) {
	lim, _ := newTestLimiter(t, nil)
	ctx := context.Background()

	// No bucket yet: everything passes.
	ok, _, err := lim.Allow(ctx, "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)

	lim.SetBucketConfig("search", BucketConfig{Capacity: 1, RefillRate: 1})

	ok, _, err = lim.Allow(ctx, "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = lim.Allow(ctx, "search:10.0.0.4", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewBucketConfigFromPerMinute(t *testing.T) {
	cfg := NewBucketConfigFromPerMinute(120)
	require.Equal(t, int64(120), cfg.Capacity)
	require.InDelta(t, 2.0, cfg.RefillRate, 1e-9)

	require.Zero(t, NewBucketConfigFromPerMinute(0))
}
