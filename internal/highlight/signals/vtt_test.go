package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openstream/octane/internal/config"
)

func TestNormalizeVTTText(t *testing.T) {
	require.Equal(t, "gooal!!", normalizeVTTText("GOOOOAL!!"))
	require.Equal(t, "that's amazing ", normalizeVTTText("That's amazing."))
	require.Equal(t, "what ", normalizeVTTText("WHAT—"))
}

func TestCollapseRuns(t *testing.T) {
	require.Equal(t, "nooo", collapseRuns("noooooo"))
	require.Equal(t, "abc", collapseRuns("abc"))
	require.Equal(t, "", collapseRuns(""))
	require.Equal(t, "aabb", collapseRuns("aaabbb"))
}

func TestScoreVTTText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"excitement", "that was amazing", 0.4},
		{"clutch", "it's a 1v2 situation", 0.5},
		{"victory", "that's game over", 0.6},
		{"stacked groups", "amazing clutch play", 0.9},
		{"no match", "the weather is mild today", 0},
		{"negated", "that was not amazing honestly", 0.4 - 0.3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := scoreVTTText(normalizeVTTText(tc.text), true, true)
			require.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestScoreVTTText_RepetitionBoost(t *testing.T) {
	base := scoreVTTText("amazing", true, true)
	boosted := scoreVTTText("amazing!! unreal!!", true, true)
	require.InDelta(t, base+0.2, boosted, 1e-9)

	// The boost only applies to cues that already matched a pattern.
	require.Equal(t, 0.0, scoreVTTText("hello!! there!!", true, true))
}

func TestScoreVTTText_CapsAtOne(t *testing.T) {
	score := scoreVTTText("amazing clutch what!! we win!!", true, false)
	require.Equal(t, 1.0, score)
}

func TestParseVTTCues(t *testing.T) {
	content := `WEBVTT

1
00:00:05.000 --> 00:00:07.500
That was AMAZING!

2
00:01:00.000 --> 00:01:02.000
Nothing to see here.
`
	cues := parseVTTCues(content)
	require.Len(t, cues, 2)
	require.Equal(t, 5.0, cues[0].start)
	require.Equal(t, 7.5, cues[0].end)
	require.Contains(t, cues[0].text, "amazing")
	require.Equal(t, 60.0, cues[1].start)
}

func TestVTTSemantic_Detect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "en.vtt")
	content := `WEBVTT

00:00:10.000 --> 00:00:12.000
Here we go...

00:00:11.000 --> 00:00:13.000
NO WAY that was INSANE!!

00:02:00.000 --> 00:02:02.000
Just some quiet commentary.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	det := VTTSemantic{}
	cfg := config.DefaultHighlightConfig().Signal("vtt_semantic")
	scores, err := det.Detect(context.Background(), Input{VTTPath: path}, cfg)
	require.NoError(t, err)

	// The excited cue spans seconds 11..13; the quiet ones score nothing.
	require.Greater(t, scores[11], 0.0)
	require.Greater(t, scores[12], 0.0)
	require.NotContains(t, scores, 120)
	require.NotContains(t, scores, 10)
}

func TestVTTSemantic_NoFile(t *testing.T) {
	det := VTTSemantic{}
	cfg := config.DefaultHighlightConfig().Signal("vtt_semantic")

	scores, err := det.Detect(context.Background(), Input{}, cfg)
	require.NoError(t, err)
	require.Nil(t, scores)

	scores, err = det.Detect(context.Background(), Input{VTTPath: "/nonexistent/en.vtt"}, cfg)
	require.NoError(t, err)
	require.Nil(t, scores)
}
