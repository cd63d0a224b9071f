package signals

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

// Pattern groups matched against normalized OCR text, except the killfeed
// shapes which need the raw casing.
var (
	combatRe = regexp.MustCompile(`(?i)\b(kill(ed|ing)?|eliminat(ed|ion|e)?|slain|defeat(ed)?|down(ed)?` +
		`|knock(ed)?|finish(ed)?|head\s?shot|ace|clutch)\b`)
	ocrVictoryRe = regexp.MustCompile(`(?i)\b(victor(y|ious)?|win(s|ner|ning)?|defeat(ed)?|champion|game\s+over` +
		`|round\s+win|mvp|flawless|match\s+complete)\b`)
	intensityRe = regexp.MustCompile(`(?i)\b(1v[1-5]|last\s+player|overtime|sudden\s+death|match\s+point` +
		`|ultimate|critical|first\s+blood|penta|multi\s?kill)\b`)
	sportsRe = regexp.MustCompile(`(?i)\b(goal|scor(ed|ing)?|touchdown|home\s+run|hat\s+trick|strike)\b`)

	killfeedRe = regexp.MustCompile(`(\b[A-Z][a-zA-Z0-9_]{2,15}\b\s*[^a-zA-Z0-9\s]{1,4}\s*\b[A-Z][a-zA-Z0-9_]{2,15}\b` +
		`|\[[a-zA-Z0-9_]+\]\s*[^a-zA-Z0-9\s]{1,4}\s*\[[a-zA-Z0-9_]+\])`)
	pvpKillRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]{2,12})\b\s*([^a-zA-Z0-9\s]{1,3})\s*\b([A-Z][a-zA-Z0-9]{2,12})\b`)

	ocrStripRe = regexp.MustCompile(`[^a-z0-9\s]`)
)

type ocrPattern struct {
	name   string
	re     *regexp.Regexp
	weight float64
	raw    bool
}

var ocrPatterns = []ocrPattern{
	{"combat", combatRe, 0.6, false},
	{"victory", ocrVictoryRe, 0.8, false},
	{"intensity", intensityRe, 0.5, false},
	{"sports", sportsRe, 0.5, false},
	{"killfeed", killfeedRe, 0.6, true},
}

// OCRKeyword scans sampled frames for on-screen game text (killfeeds,
// victory banners, score popups) via the tesseract CLI. It only runs on the
// second pass, over candidate seconds the cheap signals flagged, and skips
// cleanly when tesseract is not installed.
type OCRKeyword struct {
	detected map[int][]string
}

func (*OCRKeyword) Name() string    { return "ocr_keyword" }
func (*OCRKeyword) Expensive() bool { return true }

// DetectedText returns the raw terms behind the last Detect call's scores,
// keyed by second offset.
func (o *OCRKeyword) DetectedText() map[int][]string { return o.detected }

func (o *OCRKeyword) Detect(ctx context.Context, in Input, cfg config.SignalConfig) (domain.SignalScores, error) {
	o.detected = map[int][]string{}
	targetMode := in.TargetSeconds != nil
	if targetMode && len(in.TargetSeconds) == 0 {
		return nil, nil
	}
	if _, err := exec.LookPath("tesseract"); err != nil {
		slog.Warn("ocr_keyword: tesseract not available, skipping")
		return nil, nil
	}

	sampleInterval := cfg.SampleInterval
	if sampleInterval <= 0 {
		sampleInterval = 1.0
	}
	maxFrames := cfg.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 450
	}

	frameDir, err := os.MkdirTemp("", "ocr_frames_")
	if err != nil {
		return nil, fmt.Errorf("op=signals.OCRKeyword: %w", err)
	}
	defer func() { _ = os.RemoveAll(frameDir) }()

	var targets []int
	var fpsFilter string
	if targetMode {
		targets = append(targets, in.TargetSeconds...)
		sort.Ints(targets)
		exprs := make([]string, len(targets))
		for i, s := range targets {
			exprs[i] = fmt.Sprintf("eq(n,%d)", s)
		}
		fpsFilter = fmt.Sprintf("fps=1,select='%s'", strings.Join(exprs, "+"))
		slog.Info("ocr_keyword: target pass", slog.Int("candidate_seconds", len(targets)))
	} else {
		// Stretch the interval on long videos to stay under the job timeout.
		if in.Duration > float64(maxFrames) {
			sampleInterval = math.Max(sampleInterval, in.Duration/float64(maxFrames))
			slog.Info("ocr_keyword: long video, adaptive interval",
				slog.Float64("sample_interval", sampleInterval))
		}
		fpsFilter = fmt.Sprintf("fps=1/%g", sampleInterval)
	}

	// Downscale, grayscale and contrast-boost in ffmpeg so tesseract gets
	// cheap, readable frames.
	vf := fpsFilter + ",scale=426:240,format=gray,eq=contrast=1.4:brightness=0.05"
	cmd := exec.CommandContext(ctx, "nice", "-n", "15",
		"ffmpeg", "-y",
		"-i", in.ProxyPath,
		"-vf", vf,
		"-q:v", "3",
		filepath.Join(frameDir, "frame_%06d.jpg"))
	if out, err := cmd.CombinedOutput(); err != nil {
		tail := string(out)
		if len(tail) > 300 {
			tail = tail[len(tail)-300:]
		}
		slog.Warn("ocr_keyword: frame extraction failed", slog.String("stderr", tail))
		return nil, nil
	}

	frameFiles, err := filepath.Glob(filepath.Join(frameDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("op=signals.OCRKeyword: %w", err)
	}
	sort.Strings(frameFiles)
	slog.Info("ocr_keyword: processing frames", slog.Int("frames", len(frameFiles)))

	scores := make(domain.SignalScores)
	recentPatterns := map[string][]float64{}

	for i, framePath := range frameFiles {
		var second int
		if targetMode {
			if i >= len(targets) {
				continue
			}
			second = targets[i]
		} else {
			second = int(float64(i) * sampleInterval)
		}

		rawText := runTesseract(ctx, framePath)
		if rawText == "" {
			continue
		}
		normText := normalizeOCRText(rawText)
		frameScore, matched := scoreOCRText(rawText, normText)

		// Temporal boost: the same pattern firing twice within 3s is a
		// strong sign of a real event, not OCR noise.
		for _, name := range matched {
			recent := append(recentPatterns[name], float64(second))
			kept := recent[:0]
			for _, t := range recent {
				if float64(second)-t <= 3.0 {
					kept = append(kept, t)
				}
			}
			recentPatterns[name] = kept
			if len(kept) >= 2 {
				frameScore = math.Min(1.0, frameScore+0.2)
			}
		}

		if frameScore > 0 {
			if frameScore > scores[second] {
				scores[second] = frameScore
			}
			o.detected[second] = append(o.detected[second], matchedText(rawText, normText)...)
		}
	}

	slog.Info("ocr_keyword: complete",
		slog.Int("matched_seconds", len(scores)), slog.Int("frames", len(frameFiles)))
	return scores, nil
}

var runTesseractCmd = func(ctx context.Context, framePath, psm string) (string, error) {
	cmd := exec.CommandContext(ctx, "tesseract", framePath, "stdout", "--oem", "1", "--psm", psm)
	out, err := cmd.Output()
	return string(out), err
}

// runTesseract OCRs one frame; any failure yields empty text. Sparse overlay
// text (a lone killfeed line on an empty frame) often defeats block-based
// page segmentation, so an empty first pass retries in sparse-text mode.
func runTesseract(ctx context.Context, framePath string) string {
	out, err := runTesseractCmd(ctx, framePath, "6")
	if err != nil {
		return ""
	}
	if text := strings.TrimSpace(out); text != "" {
		return text
	}
	out, err = runTesseractCmd(ctx, framePath, "11")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// matchedText returns the concrete substrings behind the pattern hits, for
// the titling prompt.
func matchedText(rawText, normText string) []string {
	var terms []string
	for _, p := range ocrPatterns {
		target := normText
		if p.raw {
			target = rawText
		}
		if m := strings.TrimSpace(p.re.FindString(target)); m != "" {
			terms = append(terms, m)
		}
	}
	if m := strings.TrimSpace(pvpKillRe.FindString(rawText)); m != "" {
		terms = append(terms, m)
	}
	return terms
}

// normalizeOCRText fixes the common digit/letter confusions before pattern
// matching: 0→o, 1→l, 5→s.
func normalizeOCRText(text string) string {
	text = strings.ToLower(text)
	r := strings.NewReplacer("0", "o", "1", "l", "5", "s")
	text = r.Replace(text)
	return ocrStripRe.ReplaceAllString(text, " ")
}

func scoreOCRText(rawText, normText string) (float64, []string) {
	score := 0.0
	var matched []string
	for _, p := range ocrPatterns {
		target := normText
		if p.raw {
			target = rawText
		}
		if p.re.MatchString(target) {
			score += p.weight
			matched = append(matched, p.name)
		}
	}
	if pvpKillRe.MatchString(rawText) {
		score += 0.5
		matched = append(matched, "pvp_kill")
	}
	return math.Min(1.0, score), matched
}
