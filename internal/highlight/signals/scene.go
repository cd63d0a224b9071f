package signals

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

var (
	// [scdet @ ...] lavfi.scd.score: 0.810, lavfi.scd.time: 0.0333333
	scdetRe = regexp.MustCompile(`lavfi\.scd\.score:\s*(\d+\.?\d*).*?lavfi\.scd\.time:\s*(\d+\.?\d*)`)
	// [Parsed_showinfo_1 @ ...] ... mean:[104 123 137] ...
	meanYRe = regexp.MustCompile(`mean:\[(\d+)\s`)
)

// SceneChange detects hard cuts with ffmpeg scdet. A very low detection
// threshold collects raw scene scores from near-all frames; a z-score over
// that distribution makes the actual trigger adaptive per video.
type SceneChange struct{}

func (SceneChange) Name() string    { return "scene_change" }
func (SceneChange) Expensive() bool { return false }

type sceneFrame struct {
	pts, score, meanY float64
}

func (s SceneChange) Detect(ctx context.Context, in Input, cfg config.SignalConfig) (domain.SignalScores, error) {
	zThresh := cfg.ZScoreThreshold
	if zThresh <= 0 {
		zThresh = 2.0
	}
	lumDelta := cfg.LuminanceDeltaThsh
	if lumDelta <= 0 {
		lumDelta = 20.0
	}

	frames, err := collectSceneFrames(ctx, in.ProxyPath)
	if err != nil {
		return nil, fmt.Errorf("op=signals.SceneChange: %w", err)
	}
	if len(frames) == 0 {
		slog.Info("scene_change: no frames with scene scores detected")
		return nil, nil
	}

	sceneValues := make([]float64, len(frames))
	maxScene := 0.0
	for i, f := range frames {
		sceneValues[i] = f.score
		if f.score > maxScene {
			maxScene = f.score
		}
	}
	slog.Info("scene_change: candidate frames",
		slog.Int("frames", len(frames)), slog.Float64("max_scene", maxScene))

	zscores := zScore(sceneValues)

	out := make(domain.SignalScores)
	lastTime := -999.0
	havePrevY := false
	prevMeanY := 0.0

	for i, f := range frames {
		z := zscores[i]
		graded := math.Min(1.0, f.score/0.6)

		minInterval := 2.0
		if cfg.DynamicInterval {
			minInterval = math.Max(1.0, 2.0-graded)
		}
		if f.pts-lastTime < minInterval {
			prevMeanY, havePrevY = f.meanY, true
			continue
		}
		// Trigger on a z-score spike or a clearly high raw value.
		if z <= zThresh && graded < 0.6 {
			prevMeanY, havePrevY = f.meanY, true
			continue
		}

		eventScore := graded * 0.4
		if z > zThresh {
			eventScore = 0.6
		}
		// Luminance boost: sudden brightness shift, flashes and explosions.
		if cfg.LuminanceBoost && havePrevY && math.Abs(f.meanY-prevMeanY) > lumDelta {
			eventScore = math.Min(1.0, eventScore+0.3)
		}

		if eventScore > 0 {
			sec := int(f.pts)
			if eventScore > out[sec] {
				out[sec] = eventScore
			}
			lastTime = f.pts
		}
		prevMeanY, havePrevY = f.meanY, true
	}

	slog.Info("scene_change: events",
		slog.Int("seconds", len(out)), slog.Float64("zscore_threshold", zThresh))
	return out, nil
}

// collectSceneFrames runs scdet+showinfo and pairs each scene score with the
// following showinfo frame's mean luminance. The scdet filter must precede
// showinfo or every frame reports scene:0.
func collectSceneFrames(ctx context.Context, proxyPath string) ([]sceneFrame, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", proxyPath,
		"-vf", "scale=160:-2,scdet=t=0.01,showinfo",
		"-f", "null", "-")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var frames []sceneFrame
	currentTime := 0.0
	currentScore := 0.0

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := scdetRe.FindStringSubmatch(line); m != nil {
			currentScore, _ = strconv.ParseFloat(m[1], 64)
			currentTime, _ = strconv.ParseFloat(m[2], 64)
			continue
		}
		if m := meanYRe.FindStringSubmatch(line); m != nil {
			meanY, _ := strconv.ParseFloat(m[1], 64)
			if currentTime > 0 {
				frames = append(frames, sceneFrame{pts: currentTime, score: currentScore, meanY: meanY})
				currentTime = -1.0
			}
		}
	}
	_ = cmd.Wait()
	return frames, nil
}

// zScore over the full series; degenerate distributions score zero.
func zScore(values []float64) []float64 {
	n := len(values)
	z := make([]float64, n)
	if n < 4 {
		return z
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(n))
	if std < 1e-9 {
		return z
	}
	for i, v := range values {
		z[i] = (v - mean) / std
	}
	return z
}
