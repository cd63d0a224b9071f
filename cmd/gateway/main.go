// Command gateway starts the HTTP ingestion and search gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	ai "github.com/openstream/octane/internal/adapter/ai"
	httpserver "github.com/openstream/octane/internal/adapter/httpserver"
	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/adapter/queue/redpanda"
	"github.com/openstream/octane/internal/adapter/repo/postgres"
	"github.com/openstream/octane/internal/adapter/search/elastic"
	"github.com/openstream/octane/internal/app"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/service/ratelimiter"
	"github.com/openstream/octane/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	// Infra: DB pool (readiness only on the gateway; the workers write).
	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Redis backs the per-family rate limit buckets.
	var rdb *redis.Client
	if opts, rerr := redis.ParseURL(cfg.RedisURL); rerr != nil {
		slog.Error("bad redis url, rate limiting disabled", slog.Any("error", rerr))
	} else {
		rdb = redis.NewClient(opts)
	}
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
		"ingest": {Capacity: int64(cfg.IngestRateCapacity), RefillRate: cfg.IngestRateRefill},
		"search": {Capacity: int64(cfg.SearchRateCapacity), RefillRate: cfg.SearchRateRefill},
	})

	// Bus producer; the gateway publishes submissions to the request topics.
	producer, err := redpanda.NewProducer(redpanda.ClientOptions{
		Brokers:  cfg.KafkaBrokers,
		SASLUser: cfg.KafkaSASLUser,
		SASLPass: cfg.KafkaSASLPass,
	}, cfg.IngestTopics...)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	// Document store + AI gateway + search executor.
	es := elastic.New(cfg.ESHost, cfg.ESUser, cfg.ESPassword)
	gateway := ai.New(cfg)
	searchSvc := usecase.NewSearchService(es, gateway, cfg.ESIndexName)

	esCheck, dbCheck, redisCheck, busCheck := app.BuildReadinessChecks(es, pool, rdb, producer)

	srv := &httpserver.Server{
		Cfg:        cfg,
		Bus:        producer,
		Search:     searchSvc,
		ESCheck:    esCheck,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
		BusCheck:   busCheck,
	}
	handler := app.BuildRouter(cfg, srv, limiter)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
