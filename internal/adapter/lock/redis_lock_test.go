package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "highlights:lock", ttl), mr
}

func TestAcquire_SingleHolder(t *testing.T) {
	l, mr := newTestLock(t, time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("highlights:lock:vid-1"))

	// Second take on the same video is refused without error.
	ok, err = l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.False(t, ok)

	// A different video is an independent lock.
	ok, err = l.Acquire(ctx, "vid-2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAcquire_AfterTTLExpiry(t *testing.T) {
	l, mr := newTestLock(t, 30*time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.True(t, ok, "expired locks are up for grabs")
}

func TestRelease(t *testing.T) {
	l, mr := newTestLock(t, time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.True(t, ok)

	l.Release(ctx, "vid-1")
	require.False(t, mr.Exists("highlights:lock:vid-1"))

	// Releasing an unheld lock is a no-op.
	l.Release(ctx, "vid-1")

	ok, err = l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExtend(t *testing.T) {
	l, mr := newTestLock(t, 30*time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "vid-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Extend(ctx, "vid-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Survives past the original TTL.
	mr.FastForward(60 * time.Second)
	require.True(t, mr.Exists("highlights:lock:vid-1"))

	mr.FastForward(31 * time.Second)
	require.False(t, mr.Exists("highlights:lock:vid-1"))

	// Extending a lock that no longer exists reports false.
	ok, err = l.Extend(ctx, "vid-1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
