package signals

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// Any dB value below this is treated as silence and clamped.
const silenceFloorDB = -90.0

// Baseline statistics ignore samples quieter than this.
const silenceThreshDB = -50.0

var (
	rmsLevelRe  = regexp.MustCompile(`lavfi\.astats\.Overall\.RMS_level=(.*)`)
	peakLevelRe = regexp.MustCompile(`lavfi\.astats\.Overall\.Peak_level=(.*)`)
)

// AudioSpike detects loudness spikes with a rolling z-score over the RMS
// envelope, a transient (peak vs RMS) check and an optional high-frequency
// pass for sharp sounds behind loud music.
type AudioSpike struct{}

func (AudioSpike) Name() string    { return "audio_spike" }
func (AudioSpike) Expensive() bool { return false }

type audioSample struct {
	ts, rms, peak float64
}

func (a AudioSpike) Detect(ctx context.Context, in Input, cfg config.SignalConfig) (domain.SignalScores, error) {
	hop := cfg.HopSize
	if hop <= 0 {
		hop = 0.5
	}
	zThresh := cfg.ZScoreThreshold
	if zThresh <= 0 {
		zThresh = 2.0
	}
	transientDelta := cfg.TransientDeltaDB
	if transientDelta <= 0 {
		transientDelta = 6.0
	}
	windowSeconds := cfg.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 2.0
	}
	minSpikes := cfg.MinSpikeCount
	if minSpikes <= 0 {
		minSpikes = 2
	}

	samples, err := collectRMSSamples(ctx, in.ProxyPath, hop, "")
	if err != nil {
		return nil, fmt.Errorf("op=signals.AudioSpike: %w", err)
	}
	if len(samples) == 0 {
		slog.Warn("audio_spike: no astats samples parsed, skipping")
		return nil, nil
	}

	// 30-second rolling baseline.
	samplesPerWindow := int(30.0 / hop)
	rmsValues := make([]float64, len(samples))
	for i, s := range samples {
		rmsValues[i] = s.rms
	}
	rmsZ := rollingZScore(rmsValues, samplesPerWindow, silenceThreshDB)

	// Optional high-frequency pass; a failure here never fails the signal.
	hfSpikeSeconds := map[int]bool{}
	if cfg.HighFreqBoost {
		hfThresh := zThresh * 0.75
		hfSamples, hfErr := collectRMSSamples(ctx, in.ProxyPath, hop, "highpass=f=2000")
		if hfErr != nil {
			slog.Debug("audio_spike: high-frequency pass failed", slog.Any("error", hfErr))
		} else if len(hfSamples) > 0 {
			hfRMS := make([]float64, len(hfSamples))
			for i, s := range hfSamples {
				hfRMS[i] = s.rms
			}
			hfZ := rollingZScore(hfRMS, samplesPerWindow, silenceThreshDB)
			for i, s := range hfSamples {
				if hfZ[i] > hfThresh {
					hfSpikeSeconds[int(s.ts)] = true
				}
			}
			slog.Info("audio_spike: high-frequency pass",
				slog.Int("spike_seconds", len(hfSpikeSeconds)))
		}
	}

	// Per-hop scoring.
	type hopScore struct {
		ts, score float64
	}
	var spikes []hopScore
	for i, s := range samples {
		score := 0.0
		if rmsZ[i] > zThresh {
			score += 0.6
		}
		// Transient: peak far above sustained RMS, gunshots and impacts.
		if math.Abs(s.peak-s.rms) > transientDelta {
			score += 0.3
		}
		if hfSpikeSeconds[int(s.ts)] {
			score += 0.3
		}
		if score > 0 {
			spikes = append(spikes, hopScore{ts: s.ts, score: math.Min(1.0, score)})
		}
	}

	// Window confirmation: require minSpikes spiking hops within
	// windowSeconds so a single noisy hop does not trigger.
	confirmed := map[int]float64{}
	rightIdx := 0
	for i, sp := range spikes {
		windowEnd := sp.ts + windowSeconds
		for rightIdx < len(spikes) && spikes[rightIdx].ts <= windowEnd {
			rightIdx++
		}
		if rightIdx-i >= minSpikes {
			best := 0.0
			for _, w := range spikes[i:rightIdx] {
				if w.score > best {
					best = w.score
				}
			}
			sec := int(sp.ts)
			if best > confirmed[sec] {
				confirmed[sec] = best
			}
		}
	}

	// Density control: scale down stretches with more than 45 high-value
	// spikes per minute so constant action footage does not saturate.
	const maxSpikesPerMinute = 45
	out := make(domain.SignalScores, len(confirmed))
	secs := make([]int, 0, len(confirmed))
	for sec := range confirmed {
		secs = append(secs, sec)
	}
	sort.Ints(secs)

	leftIdx := 0
	recentHigh := 0
	for i, sec := range secs {
		for leftIdx < i && secs[leftIdx] <= sec-60 {
			if out[secs[leftIdx]] > 0.1 {
				recentHigh--
			}
			leftIdx++
		}
		scale := 1.0
		if recentHigh > maxSpikesPerMinute {
			scale = math.Max(0.1, float64(maxSpikesPerMinute)/float64(recentHigh))
		}
		score := confirmed[sec] * scale
		out[sec] = score
		if score > 0.1 {
			recentHigh++
		}
	}

	slog.Info("audio_spike: confirmed spike events",
		slog.Int("seconds", len(out)),
		slog.Float64("zscore_threshold", zThresh),
		slog.Float64("hop", hop))
	return out, nil
}

// collectRMSSamples streams ffmpeg astats metadata off stderr and pairs each
// RMS/peak block with a timestamp advancing by hop.
func collectRMSSamples(ctx context.Context, proxyPath string, hop float64, extraAF string) ([]audioSample, error) {
	reset := int(math.Round(1.0 / hop))
	if reset < 1 {
		reset = 1
	}
	af := fmt.Sprintf(
		"astats=metadata=1:reset=%d,"+
			"ametadata=print:key=lavfi.astats.Overall.RMS_level,"+
			"ametadata=print:key=lavfi.astats.Overall.Peak_level", reset)
	if extraAF != "" {
		af = extraAF + "," + af
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", "-i", proxyPath, "-af", af, "-f", "null", "-")
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var samples []audioSample
	currentTime := 0.0
	var currentRMS, currentPeak *float64

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := rmsLevelRe.FindStringSubmatch(line); m != nil {
			v := parseDB(m[1])
			currentRMS = &v
		}
		if m := peakLevelRe.FindStringSubmatch(line); m != nil {
			v := parseDB(m[1])
			currentPeak = &v
		}
		if currentRMS != nil && currentPeak != nil {
			samples = append(samples, audioSample{ts: currentTime, rms: *currentRMS, peak: *currentPeak})
			currentTime += hop
			currentRMS, currentPeak = nil, nil
		}
	}

	// ffmpeg exits non-zero for "-f null" edge cases too; the parsed
	// samples are what matters.
	_ = cmd.Wait()

	slog.Info("audio_spike: parsed ametadata blocks",
		slog.Int("samples", len(samples)),
		slog.Float64("hop", hop),
		slog.Int("reset", reset))
	return samples, nil
}

func parseDB(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return silenceFloorDB
	}
	return math.Max(v, silenceFloorDB)
}

// rollingZScore computes a centered rolling z-score, ignoring samples below
// silenceThresh so quiet stretches do not drag the baseline down.
func rollingZScore(values []float64, windowSize int, silenceThresh float64) []float64 {
	n := len(values)
	z := make([]float64, n)
	if n == 0 {
		return z
	}
	half := windowSize / 2

	activeCount := 0
	activeSum := 0.0
	activeSumSq := 0.0
	for j := 0; j < n && j <= half; j++ {
		if values[j] >= silenceThresh {
			activeCount++
			activeSum += values[j]
			activeSumSq += values[j] * values[j]
		}
	}

	for i := 0; i < n; i++ {
		if activeCount >= 4 {
			mean := activeSum / float64(activeCount)
			variance := activeSumSq/float64(activeCount) - mean*mean
			std := math.Sqrt(math.Max(0, variance))
			if std >= 0.5 {
				z[i] = (values[i] - mean) / std
			}
		}
		if leftOut := i - half; leftOut >= 0 && values[leftOut] >= silenceThresh {
			activeCount--
			activeSum -= values[leftOut]
			activeSumSq -= values[leftOut] * values[leftOut]
		}
		if rightIn := i + half + 1; rightIn < n && values[rightIn] >= silenceThresh {
			activeCount++
			activeSum += values[rightIn]
			activeSumSq += values[rightIn] * values[rightIn]
		}
	}
	return z
}
