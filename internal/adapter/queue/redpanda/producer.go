// Package redpanda provides Redpanda/Kafka bus integration.
//
// Producers publish JSON events keyed by entity id; consumers use manual
// commits so a message is only acknowledged after its handler succeeds.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/openstream/octane/internal/domain"
)

// ClientOptions carries the connection settings shared by producers and
// consumers.
type ClientOptions struct {
	Brokers  []string
	SASLUser string
	SASLPass string
}

func baseOpts(o ClientOptions) ([]kgo.Opt, error) {
	if len(o.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	opts := []kgo.Opt{
		kgo.SeedBrokers(o.Brokers...),
		kgo.WithHooks(kotelService.Hooks()...),
	}
	if o.SASLUser != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: o.SASLUser,
			Pass: o.SASLPass,
		}.AsMechanism()))
	}
	return opts, nil
}

// Producer wraps a Kafka producer and implements domain.Bus.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer and pre-creates the given topics.
func NewProducer(o ClientOptions, topics ...string) (*Producer, error) {
	opts, err := baseOpts(o)
	if err != nil {
		return nil, err
	}
	opts = append(opts, kgo.RequestRetries(10))

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ctx := context.Background()
	for _, topic := range topics {
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			slog.Warn("topic creation failed, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}

	slog.Info("redpanda producer created", slog.Any("brokers", o.Brokers))
	return &Producer{client: client}, nil
}

// Publish marshals value as JSON and produces it synchronously to topic,
// keyed so events for one entity stay ordered within a partition.
func (p *Producer) Publish(ctx domain.Context, topic string, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=redpanda.Publish: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.Publish: topic=%s: %w", topic, err)
	}
	slog.Debug("published event",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.Int("bytes", len(b)))
	return nil
}

// Ping verifies broker reachability for readiness probes.
func (p *Producer) Ping(ctx domain.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the producer.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
