// Package signals implements the per-second highlight detectors.
//
// Each detector scans one input stream of a video (audio loudness, scene
// cuts, chat activity, subtitles, on-screen text) and emits a sparse map of
// second offset to a score in [0,1]. Detectors never fail a job: a missing
// input or a broken child process yields an empty map and a log line.
package signals

import (
	"context"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// Input carries the per-job inputs a detector may need.
type Input struct {
	ProxyPath string
	VTTPath   string
	ChatPath  string
	Duration  float64

	// TargetSeconds restricts expensive detectors to candidate seconds
	// identified by the first pass. Nil on the first pass.
	TargetSeconds []int
}

// Detector scans one video input stream for highlight-worthy seconds.
type Detector interface {
	Name() string
	// Expensive detectors are skipped on the first pass and run only over
	// TargetSeconds on the second pass.
	Expensive() bool
	Detect(ctx context.Context, in Input, cfg config.SignalConfig) (domain.SignalScores, error)
}

// TextReporter is implemented by detectors that can surface the raw text
// behind their scores, for use in the titling prompt.
type TextReporter interface {
	DetectedText() map[int][]string
}

// Registry returns the closed set of detectors in pass order.
func Registry() []Detector {
	return []Detector{
		&AudioSpike{},
		&SceneChange{},
		&ChatSpike{},
		&VTTSemantic{},
		&OCRKeyword{},
	}
}
