// Package lock provides a Redis-backed distributed lock keyed by video id.
//
// At most one worker holds the lock for a given video; a crashed holder's
// lock evaporates when the TTL passes.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock implements single-setter locking with SET NX EX.
type RedisLock struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New constructs a RedisLock with the given key prefix and TTL.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLock {
	return &RedisLock{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLock) key(videoID string) string { return l.prefix + ":" + videoID }

// Acquire attempts to take the lock for videoID. Returns false without error
// when another holder already has it.
func (l *RedisLock) Acquire(ctx context.Context, videoID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key(videoID), "locked", l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		slog.Info("lock acquired", slog.String("video_id", videoID))
	} else {
		slog.Warn("lock already held, skipping", slog.String("video_id", videoID))
	}
	return ok, nil
}

// Release deletes the lock. Best effort: releasing a lock one does not hold
// is a no-op, never an error.
func (l *RedisLock) Release(ctx context.Context, videoID string) {
	if err := l.rdb.Del(ctx, l.key(videoID)).Err(); err != nil {
		slog.Warn("lock release failed", slog.String("video_id", videoID), slog.Any("error", err))
		return
	}
	slog.Info("lock released", slog.String("video_id", videoID))
}

// Extend pushes the lock expiry out by the base TTL plus extra, for jobs that
// outlive the initial TTL.
func (l *RedisLock) Extend(ctx context.Context, videoID string, extra time.Duration) (bool, error) {
	return l.rdb.Expire(ctx, l.key(videoID), l.ttl+extra).Result()
}
