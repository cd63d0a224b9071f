// Package highlight turns raw signal outputs into extracted, titled,
// uploaded highlight clips for one video.
package highlight

import (
	"log/slog"
	"math"

	"github.com/openstream/octane/internal/domain"
)

// ComputeScores fuses per-signal outputs into weighted per-second totals.
// Each signal contributes its max over a ±1s window so detectors that land a
// second apart still reinforce each other. Seconds totaling <= 0.01 are
// dropped to keep the map sparse.
func ComputeScores(outputs map[string]domain.SignalScores, weights map[string]float64, durationSeconds int) map[int]domain.AggregateScore {
	aggregate := make(map[int]domain.AggregateScore)

	for sec := 0; sec < durationSeconds; sec++ {
		total := 0.0
		sigCount := 0
		for name, scores := range outputs {
			signalScore := math.Max(scores[sec-1], math.Max(scores[sec], scores[sec+1]))
			total += signalScore * weights[name]
			if signalScore > 0.1 {
				sigCount++
			}
		}
		if total > 0.01 {
			aggregate[sec] = domain.AggregateScore{Total: round4(total), SigCount: sigCount}
		}
	}

	slog.Info("scoring: seconds scored with temporal fusion", slog.Int("seconds", len(aggregate)))
	return aggregate
}

// QualifySeconds filters to seconds meeting the threshold AND cross-signal
// agreement: at least two signals firing, or a single very strong one.
func QualifySeconds(aggregate map[int]domain.AggregateScore, threshold float64) map[int]float64 {
	qualified := make(map[int]float64)
	for sec, agg := range aggregate {
		if agg.Total >= threshold && (agg.SigCount >= 2 || agg.Total >= 0.3) {
			qualified[sec] = agg.Total
		}
	}
	slog.Info("scoring: qualified seconds",
		slog.Int("qualified", len(qualified)),
		slog.Int("scored", len(aggregate)),
		slog.Float64("threshold", threshold))
	return qualified
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
