package signals

import (
	"context"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

var vttTimeRe = regexp.MustCompile(
	`^(\d{2}):(\d{2}):(\d{2})\.(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})\.(\d{3})`)

// Pattern groups, graded by how strongly they mark a highlight moment.
var (
	excitementRe = regexp.MustCompile(
		`\b(amazing|incredible|unbelievable|insane|crazy|no\s+way|let'?s?\s+go` +
			`|wow+|oh+\s+my+\s+god+|lets\s+go|omg)\b`)
	clutchRe = regexp.MustCompile(
		`\b(clutch|last\s+(man|player|one)|1v[1-5]|match\s+point|overtime` +
			`|this\s+is\s+it|sudden\s+death)\b`)
	shockRe = regexp.MustCompile(
		`\b(what[!?]+|how[!?]+|are\s+you\s+serious|no\s+shot|that'?s\s+wild|ohhh+|no+\s+way)\b`)
	vttVictoryRe = regexp.MustCompile(
		`\b(win(s|ning|ner)?|victor(y|ious)|champion|we\s+got\s+it` +
			`|that'?s\s+game|game\s+over|gg)\b`)
	negationRe = regexp.MustCompile(
		`\b(not\s+amazing|not\s+good|no\s+hype|wasn'?t|not\s+even|boring)\b`)
	escalationRe = regexp.MustCompile(
		`\b(wait\s+wait|watch\s+this|look\s+at\s+this|right\s+now|here\s+we\s+go|oh\s+no)\b`)

	vttStripRe = regexp.MustCompile(`[^a-z0-9!?\s']`)
)

// VTTSemantic scores subtitle cues with graded pattern groups, negation
// filtering, escalation context and window aggregation.
type VTTSemantic struct{}

func (VTTSemantic) Name() string    { return "vtt_semantic" }
func (VTTSemantic) Expensive() bool { return false }

type vttCue struct {
	start, end float64
	text       string
}

func (VTTSemantic) Detect(_ context.Context, in Input, cfg config.SignalConfig) (domain.SignalScores, error) {
	if in.VTTPath == "" {
		slog.Info("vtt_semantic: no subtitle file, skipping")
		return nil, nil
	}
	content, err := os.ReadFile(in.VTTPath)
	if err != nil {
		slog.Warn("vtt_semantic: subtitle read failed", slog.Any("error", err))
		return nil, nil
	}

	windowSeconds := cfg.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 3.0
	}

	cues := parseVTTCues(string(content))
	slog.Info("vtt_semantic: parsed cues", slog.Int("cues", len(cues)))

	// Score each cue; escalation phrases shortly before a scored cue boost it.
	var scored []vttCueScore
	escPtr := 0
	for i, c := range cues {
		s := scoreVTTText(c.text, cfg.RepetitionBoost, cfg.NegationFilter)
		if cfg.EscalationBoost && s > 0 {
			windowStart := c.start - 2.0
			for escPtr < len(cues) && cues[escPtr].start < windowStart {
				escPtr++
			}
			for k := escPtr; k < i; k++ {
				if escalationRe.MatchString(cues[k].text) {
					s = math.Min(1.0, s+0.2)
					break
				}
			}
		}
		if s > 0 {
			scored = append(scored, vttCueScore{start: c.start, end: c.end, score: s})
		}
	}

	// Window aggregation: a burst of scored cues within windowSeconds
	// reinforces each cue in the burst.
	out := make(domain.SignalScores)
	rightPtr := 0
	for i, cs := range scored {
		windowEnd := cs.start + windowSeconds
		for rightPtr < len(scored) && scored[rightPtr].start <= windowEnd {
			rightPtr++
		}
		cumulative := 0.0
		for _, w := range scored[i:rightPtr] {
			cumulative += w.score
		}
		cumulative = math.Min(1.0, cumulative)
		for sec := int(cs.start); sec <= int(cs.end); sec++ {
			if cumulative > out[sec] {
				out[sec] = cumulative
			}
		}
	}

	slog.Info("vtt_semantic: scored seconds",
		slog.Int("seconds", len(out)), slog.Int("matching_cues", len(scored)))
	return out, nil
}

type vttCueScore struct {
	start, end, score float64
}

func parseVTTCues(content string) []vttCue {
	var cues []vttCue
	var curStart, curEnd float64
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if m := vttTimeRe.FindStringSubmatch(line); m != nil {
			curStart = vttTime(m[1], m[2], m[3], m[4])
			curEnd = vttTime(m[5], m[6], m[7], m[8])
			continue
		}
		if line == "" || strings.HasPrefix(line, "WEBVTT") || isDigits(line) {
			continue
		}
		cues = append(cues, vttCue{start: curStart, end: curEnd, text: normalizeVTTText(line)})
	}
	return cues
}

func vttTime(h, m, s, ms string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	msms, _ := strconv.Atoi(ms)
	return float64(hh)*3600 + float64(mm)*60 + float64(ss) + float64(msms)/1000
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeVTTText lowercases, strips punctuation except ! and ?, and
// collapses character runs of three or more down to two ("goooal" → "gooal").
func normalizeVTTText(text string) string {
	text = strings.ToLower(text)
	text = vttStripRe.ReplaceAllString(text, " ")
	return collapseRuns(text)
}

func collapseRuns(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var last rune = -1
	run := 0
	for _, r := range s {
		if r == last {
			run++
			if run > 2 {
				continue
			}
		} else {
			last = r
			run = 1
		}
		b.WriteRune(r)
	}
	return b.String()
}

func scoreVTTText(text string, repetitionBoost, negationFilter bool) float64 {
	score := 0.0
	if excitementRe.MatchString(text) {
		score += 0.4
	}
	if clutchRe.MatchString(text) {
		score += 0.5
	}
	if shockRe.MatchString(text) {
		score += 0.4
	}
	if vttVictoryRe.MatchString(text) {
		score += 0.6
	}
	if score == 0 {
		return 0
	}
	if repetitionBoost && strings.Count(text, "!") >= 2 {
		score += 0.2
	}
	if negationFilter && negationRe.MatchString(text) {
		score = math.Max(0, score-0.3)
	}
	return math.Min(1.0, score)
}
