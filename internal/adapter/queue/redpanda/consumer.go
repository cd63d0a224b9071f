package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Handler processes one record. A nil return commits the record; an error
// leaves it uncommitted so it is redelivered after a restart.
type Handler func(ctx context.Context, record *kgo.Record) error

// Consumer polls one or more topics and hands records to a Handler one at a
// time. Sequential processing is deliberate: the ingest worker relies on
// per-entity ordering and the highlight worker must run a single job at a
// time within the process.
type Consumer struct {
	client *kgo.Client
	topics []string
}

// NewConsumer constructs a group consumer with manual commits and earliest
// offset reset, pre-creating the subscribed topics.
func NewConsumer(o ClientOptions, groupID string, topics ...string) (*Consumer, error) {
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics to consume")
	}

	opts, err := baseOpts(o)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
	)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer: %w", err)
	}

	ctx := context.Background()
	for _, topic := range topics {
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			slog.Warn("topic creation failed, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}

	slog.Info("redpanda consumer created",
		slog.String("group_id", groupID), slog.Any("topics", topics))
	return &Consumer{client: client, topics: topics}, nil
}

// Run polls until ctx is cancelled. Records are processed in order; a
// handler error is logged and the record stays uncommitted.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})

		var failed bool
		fetches.EachRecord(func(record *kgo.Record) {
			if failed {
				return
			}
			if err := handle(ctx, record); err != nil {
				slog.Error("record handling failed",
					slog.String("topic", record.Topic),
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
				failed = true
				return
			}
			if err := c.client.CommitRecords(ctx, record); err != nil {
				slog.Error("commit failed",
					slog.String("topic", record.Topic),
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
			}
		})
	}
}

// Close shuts the consumer down.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
