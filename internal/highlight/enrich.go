package highlight

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openstream/octane/internal/adapter/ai"
	"github.com/openstream/octane/internal/domain"
)

// Enricher generates per-clip titles in one batched gateway call.
type Enricher struct {
	AI      domain.AIGateway
	Cleaner *ai.ResponseCleaner
	Model   string
}

const (
	maxVTTContextChars = 2000
	maxClipTitleChars  = 60
	maxDetectedTerms   = 10
)

// EnrichClips fills each clip's Title. detectedText maps second offsets to
// on-screen text the OCR pass read there; terms inside a clip's window feed
// the prompt. Any gateway or parse failure keeps the default "Highlight #N"
// titles and returns the error so the caller can record a warning; the clips
// themselves are always usable.
func (e Enricher) EnrichClips(ctx domain.Context, clips []domain.ClipWindow, videoTitle, videoDescription, videoCategory, vttContent string, detectedText map[int][]string) ([]domain.ClipWindow, error) {
	for i := range clips {
		clips[i].Title = defaultClipTitle(clips[i].Index)
	}
	if len(clips) == 0 || e.AI == nil {
		return clips, nil
	}

	contexts := make([]ai.ClipContext, 0, len(clips))
	for _, clip := range clips {
		var parts []string
		if vttContent != "" {
			snippet := vttContent
			if len(snippet) > maxVTTContextChars {
				snippet = snippet[:maxVTTContextChars]
			}
			parts = append(parts, "TRANSCRIPT SNIPPET: "+snippet)
		}
		if terms := termsInWindow(detectedText, clip.Start, clip.End); len(terms) > 0 {
			parts = append(parts, "DETECTED TEXT: "+strings.Join(terms, ", "))
		}
		if active := activeSignals(clip.Signals); len(active) > 0 {
			parts = append(parts, "SYSTEM SIGNALS: "+strings.Join(active, ", "))
		}
		contexts = append(contexts, ai.ClipContext{Index: clip.Index, Context: strings.Join(parts, "\n")})
	}

	prompt := ai.BuildHighlightBatchPrompt(videoTitle, videoDescription, videoCategory, contexts)
	raw, err := e.AI.Chat(ctx, ai.HighlightTitleSystemPrompt, prompt, e.Model)
	if err != nil {
		return clips, fmt.Errorf("op=highlight.EnrichClips: %w", err)
	}

	titles, err := e.Cleaner.ParseClipTitles(raw)
	if err != nil {
		return clips, fmt.Errorf("op=highlight.EnrichClips: parse titles: %w", err)
	}
	for i := range clips {
		if title := strings.TrimSpace(titles[clips[i].Index]); title != "" {
			clips[i].Title = clampTitle(title)
		}
	}
	slog.Info("clip titles generated", slog.Int("clips", len(clips)))
	return clips, nil
}

func defaultClipTitle(index int) string {
	return fmt.Sprintf("Highlight #%d", index+1)
}

// clampTitle bounds a model title to the manifest's 60-character cap. The
// prompt asks for it, but the model does not always comply. Counts
// characters, not bytes, so multibyte titles never split mid-rune.
func clampTitle(title string) string {
	r := []rune(title)
	if len(r) <= maxClipTitleChars {
		return title
	}
	return strings.TrimSpace(string(r[:maxClipTitleChars]))
}

// termsInWindow collects the unique on-screen terms seen between start and
// end, in timeline order.
func termsInWindow(detected map[int][]string, start, end float64) []string {
	if len(detected) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var terms []string
	for sec := int(start); sec <= int(end); sec++ {
		for _, term := range detected[sec] {
			if term == "" || seen[term] {
				continue
			}
			seen[term] = true
			terms = append(terms, term)
			if len(terms) == maxDetectedTerms {
				return terms
			}
		}
	}
	return terms
}

func activeSignals(signals map[string]float64) []string {
	var active []string
	for name, score := range signals {
		if score > 0 {
			active = append(active, name)
		}
	}
	sort.Strings(active)
	return active
}
