package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeOCRText(t *testing.T) {
	// Common OCR confusions: 0→o, 1→l, 5→s.
	require.Equal(t, "victory", normalizeOCRText("VICT0RY"))
	require.Equal(t, "slain", normalizeOCRText("5LAIN"))
	require.Equal(t, "game over", normalizeOCRText("GAME-OVER"))
}

func TestScoreOCRText_PatternGroups(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		matched []string
	}{
		{"victory banner", "VICT0RY", 0.8, []string{"victory"}},
		{"combat", "Enemy eliminated", 0.6, []string{"combat"}},
		{"intensity", "OVERTIME", 0.5, []string{"intensity"}},
		{"stacked groups cap", "clutch overtime", 1.0, []string{"combat", "intensity"}},
		{"sports", "what a goal", 0.5, []string{"sports"}},
		{"nothing", "loading screen", 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score, matched := scoreOCRText(tc.raw, normalizeOCRText(tc.raw))
			require.InDelta(t, tc.want, score, 1e-9)
			require.ElementsMatch(t, tc.matched, matched)
		})
	}
}

func TestScoreOCRText_Killfeed(t *testing.T) {
	// Killfeed shapes need the raw casing: Name [weapon glyph] Name. The
	// killfeed and pvp matches stack past the cap.
	score, matched := scoreOCRText("ShadowFox >> NightOwl", normalizeOCRText("ShadowFox >> NightOwl"))
	require.Contains(t, matched, "killfeed")
	require.Contains(t, matched, "pvp_kill")
	require.Equal(t, 1.0, score)
}

func TestScoreOCRText_NormalizedDoesNotMatchKillfeed(t *testing.T) {
	// Lowercased text can never look like a killfeed, so plain sentences
	// with a stray glyph stay unscored.
	score, matched := scoreOCRText("now loading >> please wait", normalizeOCRText("now loading >> please wait"))
	require.Equal(t, 0.0, score)
	require.Empty(t, matched)
}

func TestMatchedText(t *testing.T) {
	raw := "VICT0RY"
	terms := matchedText(raw, normalizeOCRText(raw))
	require.Equal(t, []string{"victory"}, terms)

	raw = "ShadowFox >> NightOwl"
	terms = matchedText(raw, normalizeOCRText(raw))
	require.Contains(t, terms, "ShadowFox >> NightOwl")

	terms = matchedText("loading screen", normalizeOCRText("loading screen"))
	require.Empty(t, terms)
}

func stubTesseract(t *testing.T, fn func(psm string) (string, error)) *[]string {
	t.Helper()
	orig := runTesseractCmd
	t.Cleanup(func() { runTesseractCmd = orig })
	var psms []string
	runTesseractCmd = func(_ context.Context, _ string, psm string) (string, error) {
		psms = append(psms, psm)
		return fn(psm)
	}
	return &psms
}

func TestRunTesseract_RetriesInSparseTextMode(t *testing.T) {
	// Block segmentation reads nothing off a frame with a single overlay
	// line; the second pass with sparse-text segmentation picks it up.
	psms := stubTesseract(t, func(psm string) (string, error) {
		if psm == "6" {
			return "  \n", nil
		}
		return "VICTORY\n", nil
	})

	text := runTesseract(context.Background(), "frame.jpg")
	require.Equal(t, "VICTORY", text)
	require.Equal(t, []string{"6", "11"}, *psms)
}

func TestRunTesseract_NoRetryWhenFirstPassReads(t *testing.T) {
	psms := stubTesseract(t, func(string) (string, error) {
		return "GAME OVER\n", nil
	})

	text := runTesseract(context.Background(), "frame.jpg")
	require.Equal(t, "GAME OVER", text)
	require.Equal(t, []string{"6"}, *psms)
}

func TestRunTesseract_ErrorYieldsEmptyText(t *testing.T) {
	psms := stubTesseract(t, func(string) (string, error) {
		return "", errors.New("exit status 1")
	})

	require.Empty(t, runTesseract(context.Background(), "frame.jpg"))
	require.Equal(t, []string{"6"}, *psms)
}
