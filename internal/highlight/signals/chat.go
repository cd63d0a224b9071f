package signals

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// ChatSpike detects chat activity bursts by bucketing message timestamps and
// comparing bucket counts against the median rate.
type ChatSpike struct{}

func (ChatSpike) Name() string    { return "chat_spike" }
func (ChatSpike) Expensive() bool { return false }

type chatMessage struct {
	OffsetSeconds   float64 `json:"offset_seconds"`
	TimestampOffset float64 `json:"timestamp_offset"`
}

func (c chatMessage) offset() float64 {
	if c.OffsetSeconds != 0 {
		return c.OffsetSeconds
	}
	return c.TimestampOffset
}

func (ChatSpike) Detect(_ context.Context, in Input, cfg config.SignalConfig) (domain.SignalScores, error) {
	if in.ChatPath == "" {
		slog.Info("chat_spike: no chat log, skipping")
		return nil, nil
	}
	data, err := os.ReadFile(in.ChatPath)
	if err != nil {
		slog.Info("chat_spike: chat log unreadable, skipping", slog.Any("error", err))
		return nil, nil
	}

	var messages []chatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		slog.Warn("chat_spike: chat log parse failed", slog.Any("error", err))
		return nil, nil
	}
	if len(messages) == 0 {
		slog.Info("chat_spike: empty chat log, skipping")
		return nil, nil
	}

	bucketSize := cfg.BucketSize
	if bucketSize <= 0 {
		bucketSize = 10
	}
	spikeMultiplier := cfg.SpikeMultiplier
	if spikeMultiplier <= 0 {
		spikeMultiplier = 2.5
	}

	buckets := map[int]int{}
	for _, msg := range messages {
		bucket := int(msg.offset()) / bucketSize * bucketSize
		buckets[bucket]++
	}

	counts := make([]int, 0, len(buckets))
	maxCount := 1
	for _, n := range buckets {
		counts = append(counts, n)
		if n > maxCount {
			maxCount = n
		}
	}
	med := median(counts)
	threshold := med * spikeMultiplier

	out := make(domain.SignalScores)
	for bucketStart, count := range buckets {
		if float64(count) > threshold {
			// Spread the score across every second in the bucket.
			score := math.Min(1.0, float64(count)/float64(maxCount))
			for sec := bucketStart; sec < bucketStart+bucketSize; sec++ {
				out[sec] = score
			}
		}
	}

	slog.Info("chat_spike: seconds above threshold",
		slog.Int("seconds", len(out)),
		slog.Float64("median", med),
		slog.Float64("threshold", threshold))
	return out, nil
}

func median(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	sorted := make([]int, len(counts))
	copy(sorted, counts)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
