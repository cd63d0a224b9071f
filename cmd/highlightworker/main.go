// Command highlightworker consumes highlight requests and runs the full clip
// pipeline: signals, scoring, extraction, titling, and upload.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	ai "github.com/openstream/octane/internal/adapter/ai"
	miniostore "github.com/openstream/octane/internal/adapter/blob/minio"
	"github.com/openstream/octane/internal/adapter/lock"
	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/adapter/queue/redpanda"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/highlight"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("bad redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	locker := lock.New(rdb, cfg.LockKey, cfg.LockTTL)

	blob, err := miniostore.New(cfg.MinioEndpoint, cfg.MinioRootUser, cfg.MinioRootPass,
		cfg.MinioBucket, cfg.OpenstreamVol, cfg.MinioSecure)
	if err != nil {
		slog.Error("blob store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	busOpts := redpanda.ClientOptions{
		Brokers:  cfg.KafkaBrokers,
		SASLUser: cfg.KafkaSASLUser,
		SASLPass: cfg.KafkaSASLPass,
	}
	producer, err := redpanda.NewProducer(busOpts,
		cfg.HighlightCompleteTopic, cfg.HighlightDegradedTopic, cfg.HighlightFailedTopic)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	tuning, err := config.LoadHighlightConfig(cfg.HighlightConfigPath)
	if err != nil {
		slog.Error("highlight config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	resolver := highlight.PathResolver{
		VolPath: cfg.OpenstreamVol,
		Bucket:  cfg.MinioBucket,
		Blob:    blob,
	}
	pipeline := highlight.NewPipeline(locker, blob, producer, ai.New(cfg), resolver, tuning, cfg)

	consumer, err := redpanda.NewConsumer(busOpts, cfg.HighlightGroupID, cfg.HighlightRequestTopic)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	go func() {
		slog.Info("highlight consumer starting",
			slog.String("group_id", cfg.HighlightGroupID),
			slog.String("topic", cfg.HighlightRequestTopic))
		if err := consumer.Run(ctx, pipeline.Handle); err != nil && ctx.Err() == nil {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
	}()

	slog.Info("highlight worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
