package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// HighlightConfig is the YAML tuning file for the highlight pipeline.
// A missing file falls back to DefaultHighlightConfig.
type HighlightConfig struct {
	Scoring    ScoringConfig           `yaml:"scoring"`
	Signals    map[string]SignalConfig `yaml:"signals"`
	Governance GovernanceConfig        `yaml:"governance"`
	Extraction ExtractionConfig        `yaml:"extraction"`
}

// ScoringConfig controls qualification and consolidation.
type ScoringConfig struct {
	QualificationThreshold float64 `yaml:"qualification_threshold"`
	MaxClips               int     `yaml:"max_clips"`
	MinClipDuration        int     `yaml:"min_clip_duration"`
	MaxClipDuration        int     `yaml:"max_clip_duration"`
	ContextBuffer          int     `yaml:"context_buffer"`
	MinGap                 int     `yaml:"min_gap"`
}

// SignalConfig carries the per-detector knobs. Fields irrelevant to a
// detector are simply ignored by it.
type SignalConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`

	// audio_spike
	HopSize          float64 `yaml:"hop_size"`
	ZScoreThreshold  float64 `yaml:"zscore_threshold"`
	TransientDeltaDB float64 `yaml:"transient_delta_db"`
	HighFreqBoost    bool    `yaml:"highfreq_boost"`
	MinSpikeCount    int     `yaml:"min_spike_count"`

	// scene_change
	MinInterval        float64 `yaml:"min_interval"`
	DynamicInterval    bool    `yaml:"dynamic_interval"`
	LuminanceBoost     bool    `yaml:"luminance_boost"`
	LuminanceDeltaThsh float64 `yaml:"luminance_delta_threshold"`

	// chat_spike
	BucketSize      int     `yaml:"bucket_size"`
	SpikeMultiplier float64 `yaml:"spike_multiplier"`

	// ocr_keyword
	SampleInterval      float64 `yaml:"sample_interval"`
	MaxFrames           int     `yaml:"max_frames"`
	ConfidenceThreshold int     `yaml:"confidence_threshold"`

	// vtt_semantic / shared window aggregation
	WindowSeconds   float64 `yaml:"window_seconds"`
	RepetitionBoost bool    `yaml:"repetition_boost"`
	EscalationBoost bool    `yaml:"escalation_boost"`
	NegationFilter  bool    `yaml:"negation_filter"`
}

// GovernanceConfig bounds the worker's resource footprint.
type GovernanceConfig struct {
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	MaxMemoryMB   float64 `yaml:"max_memory_mb"`
	PollInterval  int     `yaml:"poll_interval"`
	JobTimeout    int     `yaml:"job_timeout"`
	NicePriority  int     `yaml:"nice_priority"`
}

// ExtractionConfig controls ffmpeg clip extraction.
type ExtractionConfig struct {
	StreamCopy      bool `yaml:"stream_copy"`
	ThumbnailWidth  int  `yaml:"thumbnail_width"`
	ThumbnailHeight int  `yaml:"thumbnail_height"`
}

// DefaultHighlightConfig returns the built-in fallback tuning.
func DefaultHighlightConfig() HighlightConfig {
	return HighlightConfig{
		Scoring: ScoringConfig{
			QualificationThreshold: 0.35,
			MaxClips:               5,
			MinClipDuration:        8,
			MaxClipDuration:        60,
			ContextBuffer:          3,
			MinGap:                 5,
		},
		Signals: map[string]SignalConfig{
			"audio_spike": {
				Enabled:          true,
				Weight:           0.30,
				HopSize:          0.5,
				ZScoreThreshold:  2.0,
				TransientDeltaDB: 6.0,
				MinSpikeCount:    2,
				WindowSeconds:    2.0,
			},
			"scene_change": {
				Enabled:            true,
				Weight:             0.25,
				ZScoreThreshold:    2.0,
				MinInterval:        2.0,
				DynamicInterval:    true,
				LuminanceBoost:     true,
				LuminanceDeltaThsh: 20,
			},
			"chat_spike": {
				Enabled:         true,
				Weight:          0.20,
				BucketSize:      10,
				SpikeMultiplier: 2.5,
			},
			"ocr_keyword": {
				Enabled:             false,
				Weight:              0.15,
				SampleInterval:      1.0,
				MaxFrames:           450,
				ConfidenceThreshold: 60,
			},
			"vtt_semantic": {
				Enabled:         true,
				Weight:          0.10,
				WindowSeconds:   3.0,
				RepetitionBoost: true,
				EscalationBoost: true,
				NegationFilter:  true,
			},
		},
		Governance: GovernanceConfig{
			MaxCPUPercent: 60,
			MaxMemoryMB:   900,
			PollInterval:  10,
			JobTimeout:    1800,
			NicePriority:  15,
		},
		Extraction: ExtractionConfig{
			StreamCopy:      true,
			ThumbnailWidth:  640,
			ThumbnailHeight: 360,
		},
	}
}

// LoadHighlightConfig reads the YAML tuning file at path. An empty path or a
// missing file falls back to the built-in defaults; a malformed file is an
// error so operators notice bad edits.
func LoadHighlightConfig(path string) (HighlightConfig, error) {
	def := DefaultHighlightConfig()
	if path == "" {
		return def, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("highlight config not found, using built-in defaults", slog.String("path", path))
			return def, nil
		}
		return HighlightConfig{}, fmt.Errorf("op=config.LoadHighlightConfig: %w", err)
	}
	cfg := def
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return HighlightConfig{}, fmt.Errorf("op=config.LoadHighlightConfig: %w", err)
	}
	if cfg.Signals == nil {
		cfg.Signals = def.Signals
	}
	return cfg, nil
}

// ApplyGovernanceOverrides overlays env-provided resource limits on the
// tuning. Zero override fields are unset and keep the file's numbers, so the
// environment only wins where an operator actually exported a value.
func (c HighlightConfig) ApplyGovernanceOverrides(o GovernanceConfig) HighlightConfig {
	if o.MaxCPUPercent > 0 {
		c.Governance.MaxCPUPercent = o.MaxCPUPercent
	}
	if o.MaxMemoryMB > 0 {
		c.Governance.MaxMemoryMB = o.MaxMemoryMB
	}
	if o.JobTimeout > 0 {
		c.Governance.JobTimeout = o.JobTimeout
	}
	return c
}

// Signal returns the config block for a named signal, falling back to the
// built-in defaults for that signal when the file omits it.
func (c HighlightConfig) Signal(name string) SignalConfig {
	if sc, ok := c.Signals[name]; ok {
		return sc
	}
	return DefaultHighlightConfig().Signals[name]
}
