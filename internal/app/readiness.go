package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/openstream/octane/internal/adapter/queue/redpanda"
	"github.com/openstream/octane/internal/adapter/search/elastic"
	"github.com/openstream/octane/internal/domain"
)

// BuildReadinessChecks returns one probe per hard dependency for /readyz.
// Nil dependencies yield nil checks, which the handler skips.
func BuildReadinessChecks(es *elastic.Client, pool *pgxpool.Pool, rdb *redis.Client, producer *redpanda.Producer) (esCheck, dbCheck, redisCheck, busCheck func(ctx domain.Context) error) {
	if es != nil {
		esCheck = func(ctx domain.Context) error { return es.Ping(ctx) }
	}
	if pool != nil {
		dbCheck = func(ctx domain.Context) error { return pool.Ping(ctx) }
	}
	if rdb != nil {
		redisCheck = func(ctx domain.Context) error { return rdb.Ping(ctx).Err() }
	}
	if producer != nil {
		busCheck = func(ctx domain.Context) error { return producer.Ping(ctx) }
	}
	return esCheck, dbCheck, redisCheck, busCheck
}
