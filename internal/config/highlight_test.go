package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultHighlightConfig(t *testing.T) {
	cfg := DefaultHighlightConfig()

	require.Equal(t, 0.35, cfg.Scoring.QualificationThreshold)
	require.Equal(t, 5, cfg.Scoring.MaxClips)
	require.Equal(t, 8, cfg.Scoring.MinClipDuration)
	require.Equal(t, 60, cfg.Scoring.MaxClipDuration)

	require.True(t, cfg.Signals["audio_spike"].Enabled)
	require.False(t, cfg.Signals["ocr_keyword"].Enabled, "OCR is opt-in")

	// Weights of the full detector set sum to 1.
	total := 0.0
	for _, sc := range cfg.Signals {
		total += sc.Weight
	}
	require.InDelta(t, 1.0, total, 1e-9)

	require.True(t, cfg.Extraction.StreamCopy)
	require.Equal(t, 1800, cfg.Governance.JobTimeout)
}

func TestLoadHighlightConfig_EmptyAndMissingPath(t *testing.T) {
	cfg, err := LoadHighlightConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultHighlightConfig(), cfg)

	cfg, err = LoadHighlightConfig("/nonexistent/highlight.yaml")
	require.NoError(t, err)
	require.Equal(t, DefaultHighlightConfig(), cfg)
}

func TestLoadHighlightConfig_OverridesDefaults(t *testing.T) {
	yaml := `
scoring:
  qualification_threshold: 0.5
  max_clips: 3
signals:
  audio_spike:
    enabled: false
    weight: 0.4
governance:
  max_cpu_percent: 40
`
	path := filepath.Join(t.TempDir(), "highlight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadHighlightConfig(path)
	require.NoError(t, err)

	require.Equal(t, 0.5, cfg.Scoring.QualificationThreshold)
	require.Equal(t, 3, cfg.Scoring.MaxClips)
	require.Equal(t, 8, cfg.Scoring.MinClipDuration, "unset fields keep defaults")

	require.False(t, cfg.Signals["audio_spike"].Enabled)
	require.Equal(t, 0.4, cfg.Signals["audio_spike"].Weight)
	require.Equal(t, 40.0, cfg.Governance.MaxCPUPercent)
	require.Equal(t, 900.0, cfg.Governance.MaxMemoryMB)
}

func TestLoadHighlightConfig_MalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "highlight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring: [not: a map"), 0o644))

	_, err := LoadHighlightConfig(path)
	require.Error(t, err)
}

func TestHighlightConfig_ApplyGovernanceOverrides(t *testing.T) {
	base := DefaultHighlightConfig()

	merged := base.ApplyGovernanceOverrides(GovernanceConfig{})
	require.Equal(t, base.Governance, merged.Governance, "no env set, file values stand")

	merged = base.ApplyGovernanceOverrides(GovernanceConfig{MaxCPUPercent: 45, JobTimeout: 600})
	require.Equal(t, 45.0, merged.Governance.MaxCPUPercent)
	require.Equal(t, 600, merged.Governance.JobTimeout)
	require.Equal(t, 900.0, merged.Governance.MaxMemoryMB, "unset env fields keep the file values")
	require.Equal(t, 15, merged.Governance.NicePriority, "only resource limits are overridable")
}

func TestHighlightConfig_SignalFallsBackToDefaults(t *testing.T) {
	cfg := HighlightConfig{Signals: map[string]SignalConfig{}}
	sc := cfg.Signal("chat_spike")
	require.True(t, sc.Enabled)
	require.Equal(t, 10, sc.BucketSize)
}

func TestIngestTopic(t *testing.T) {
	require.Equal(t, "blog.ingest.requests", IngestTopic("blog"))
	require.Equal(t, "video.ingest.requests", IngestTopic("video"))
}
