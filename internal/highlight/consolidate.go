package highlight

import (
	"log/slog"
	"sort"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// Consolidate merges qualified seconds into ranked, non-overlapping clip
// windows: cluster nearby seconds, pad with a context buffer, merge windows
// closer than minGap, enforce duration bounds, then keep the top maxClips
// ordered by start time.
func Consolidate(qualified map[int]float64, cfg config.ScoringConfig) []domain.ClipWindow {
	if len(qualified) == 0 {
		return nil
	}

	seconds := make([]int, 0, len(qualified))
	for sec := range qualified {
		seconds = append(seconds, sec)
	}
	sort.Ints(seconds)

	// Cluster seconds separated by at most minGap.
	var clusters [][]int
	current := []int{seconds[0]}
	for i := 1; i < len(seconds); i++ {
		if seconds[i]-seconds[i-1] <= cfg.MinGap {
			current = append(current, seconds[i])
		} else {
			clusters = append(clusters, current)
			current = []int{seconds[i]}
		}
	}
	clusters = append(clusters, current)

	// Convert clusters to windows with a context buffer on each side.
	raw := make([]domain.ClipWindow, 0, len(clusters))
	for _, cluster := range clusters {
		start := cluster[0] - cfg.ContextBuffer
		if start < 0 {
			start = 0
		}
		peakScore := 0.0
		peakSecond := cluster[0]
		for _, s := range cluster {
			if qualified[s] > peakScore {
				peakScore = qualified[s]
				peakSecond = s
			}
		}
		raw = append(raw, domain.ClipWindow{
			Start:      float64(start),
			End:        float64(cluster[len(cluster)-1] + cfg.ContextBuffer),
			Score:      round4(peakScore),
			PeakSecond: peakSecond,
		})
	}

	// Merge windows whose padded edges come within minGap of each other.
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Start < raw[j].Start })
	var merged []domain.ClipWindow
	for _, clip := range raw {
		if len(merged) > 0 && clip.Start <= merged[len(merged)-1].End+float64(cfg.MinGap) {
			last := &merged[len(merged)-1]
			if clip.End > last.End {
				last.End = clip.End
			}
			if clip.Score > last.Score {
				last.Score = clip.Score
			}
		} else {
			merged = append(merged, clip)
		}
	}

	// Duration bounds: expand short clips symmetrically, trim long ones
	// from the end.
	for i := range merged {
		dur := merged[i].End - merged[i].Start
		switch {
		case dur < float64(cfg.MinClipDuration):
			expand := float64((cfg.MinClipDuration - int(dur)) / 2)
			merged[i].Start -= expand
			if merged[i].Start < 0 {
				merged[i].Start = 0
			}
			merged[i].End = merged[i].Start + float64(cfg.MinClipDuration)
		case dur > float64(cfg.MaxClipDuration):
			merged[i].End = merged[i].Start + float64(cfg.MaxClipDuration)
		}
	}

	// Rank by score, cap, then restore chronological order for output.
	ranked := make([]domain.ClipWindow, len(merged))
	copy(ranked, merged)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > cfg.MaxClips {
		ranked = ranked[:cfg.MaxClips]
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Start < ranked[j].Start })

	slog.Info("consolidation: clips",
		slog.Int("clusters", len(clusters)),
		slog.Int("merged", len(merged)),
		slog.Int("final", len(ranked)),
		slog.Int("max_clips", cfg.MaxClips))
	return ranked
}
