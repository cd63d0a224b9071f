// Command ingestworker runs both ingestion passes: the bus consumer that
// indexes lexical documents (pass 1) and the oplog worker that embeds and
// enriches them (pass 2).
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	ai "github.com/openstream/octane/internal/adapter/ai"
	"github.com/openstream/octane/internal/adapter/ai/tokencount"
	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/adapter/queue/redpanda"
	"github.com/openstream/octane/internal/adapter/repo/postgres"
	"github.com/openstream/octane/internal/adapter/search/elastic"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
	"github.com/openstream/octane/internal/service/chunker"
	"github.com/openstream/octane/internal/usecase"
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

	// Dedicated metrics endpoint; the worker serves no other HTTP.
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

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	oplogRepo := postgres.NewOplogRepo(pool)
	if err := oplogRepo.EnsureSchema(ctx); err != nil {
		slog.Error("oplog schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	es := elastic.New(cfg.ESHost, cfg.ESUser, cfg.ESPassword)
	if err := es.EnsureIndex(ctx, cfg.ESIndexName, cfg.EmbeddingDims); err != nil {
		slog.Error("index setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	gateway := ai.New(cfg)
	counter, err := tokencount.NewCounter()
	if err != nil {
		slog.Error("token counter init failed", slog.Any("error", err))
		os.Exit(1)
	}
	ch := chunker.New(counter, gateway)

	busOpts := redpanda.ClientOptions{
		Brokers:  cfg.KafkaBrokers,
		SASLUser: cfg.KafkaSASLUser,
		SASLPass: cfg.KafkaSASLPass,
	}
	producer, err := redpanda.NewProducer(busOpts, cfg.ResultsTopic)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	ingestSvc := usecase.NewIngestService(es, oplogRepo, ch, cfg.ESIndexName)

	oplogWorker := &usecase.OplogWorker{
		Repo:         oplogRepo,
		Store:        es,
		AI:           gateway,
		Bus:          producer,
		Chunker:      ch,
		Cleaner:      ai.NewResponseCleaner(),
		DefaultIndex: cfg.ESIndexName,
		ResultsTopic: cfg.ResultsTopic,
		BatchSize:    cfg.OplogBatchSize,
		PollInterval: cfg.OplogPollInterval,
		MaxRetries:   cfg.OplogMaxRetries,
	}
	go oplogWorker.Run(ctx)

	consumer, err := redpanda.NewConsumer(busOpts, cfg.KafkaGroupID, cfg.IngestTopics...)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	go func() {
		slog.Info("ingest consumer starting",
			slog.String("group_id", cfg.KafkaGroupID), slog.Any("topics", cfg.IngestTopics))
		err := consumer.Run(ctx, func(ctx context.Context, record *kgo.Record) error {
			var sub domain.Submission
			if err := json.Unmarshal(record.Value, &sub); err != nil {
				// Malformed payloads are dropped; redelivery cannot fix them.
				slog.Error("dropping malformed submission",
					slog.String("topic", record.Topic),
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
				return nil
			}
			return ingestSvc.ProcessSubmission(ctx, sub)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
	}()

	slog.Info("ingest worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
