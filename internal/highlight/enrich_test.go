package highlight

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/openstream/octane/internal/adapter/ai"
	"github.com/openstream/octane/internal/domain"
)

// titleGateway records the titling prompt and replies with a fixed
// completion.
type titleGateway struct {
	prompt string
	reply  string
	err    error
}

func (g *titleGateway) Chat(_ domain.Context, _, user, _ string) (string, error) {
	g.prompt = user
	return g.reply, g.err
}
func (g *titleGateway) Embed(domain.Context, []string) ([][]float32, error) { return nil, nil }
func (g *titleGateway) Rerank(domain.Context, string, []domain.RerankDoc) ([]domain.RerankResult, error) {
	return nil, nil
}
func (g *titleGateway) AnalyzeQuery(domain.Context, string) (domain.QueryAnalysis, error) {
	return domain.QueryAnalysis{}, nil
}

func newTestEnricher(gw *titleGateway) Enricher {
	return Enricher{AI: gw, Cleaner: ai.NewResponseCleaner(), Model: "fast"}
}

func TestEnrichClips_DetectedTextFeedsPrompt(t *testing.T) {
	gw := &titleGateway{reply: `{"0":"Double Kill on Mid"}`}
	clips := []domain.ClipWindow{{
		Index: 0, Start: 10, End: 20,
		Signals: map[string]float64{"ocr_keyword": 0.8},
	}}
	detected := map[int][]string{
		12: {"VICTORY"},
		15: {"ShadowFox >> NightOwl", "VICTORY"},
		45: {"OUTSIDE THE CLIP"},
	}

	out, err := newTestEnricher(gw).EnrichClips(context.Background(), clips,
		"Ranked Grind", "", "Gaming", "", detected)
	require.NoError(t, err)
	require.Equal(t, "Double Kill on Mid", out[0].Title)

	require.Contains(t, gw.prompt, "DETECTED TEXT: VICTORY, ShadowFox >> NightOwl",
		"terms inside the window, deduped, in timeline order")
	require.NotContains(t, gw.prompt, "OUTSIDE THE CLIP")
}

func TestEnrichClips_NoDetectedTextOmitsSection(t *testing.T) {
	gw := &titleGateway{reply: `{"0":"The Reveal"}`}
	clips := []domain.ClipWindow{{Index: 0, Start: 0, End: 15}}

	_, err := newTestEnricher(gw).EnrichClips(context.Background(), clips,
		"Vlog", "", "", "", nil)
	require.NoError(t, err)
	require.NotContains(t, gw.prompt, "DETECTED TEXT")
}

func TestEnrichClips_ClampsOversizedModelTitles(t *testing.T) {
	long := strings.Repeat("é", 70)
	gw := &titleGateway{reply: `{"0":"` + long + `"}`}
	clips := []domain.ClipWindow{{Index: 0, Start: 0, End: 15}}

	out, err := newTestEnricher(gw).EnrichClips(context.Background(), clips,
		"", "", "", "", nil)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", 60), out[0].Title,
		"clamped by character count, never mid-rune")
	require.True(t, utf8.ValidString(out[0].Title))
}

func TestEnrichClips_ShortTitlesPassThrough(t *testing.T) {
	gw := &titleGateway{reply: `{"0":"  Clutch 1v3 on A-Site  "}`}
	clips := []domain.ClipWindow{{Index: 0, Start: 0, End: 15}}

	out, err := newTestEnricher(gw).EnrichClips(context.Background(), clips,
		"", "", "", "", nil)
	require.NoError(t, err)
	require.Equal(t, "Clutch 1v3 on A-Site", out[0].Title)
}

func TestEnrichClips_GatewayFailureKeepsDefaults(t *testing.T) {
	gw := &titleGateway{err: errors.New("upstream down")}
	clips := []domain.ClipWindow{{Index: 0}, {Index: 1}}

	out, err := newTestEnricher(gw).EnrichClips(context.Background(), clips,
		"", "", "", "", nil)
	require.Error(t, err)
	require.Equal(t, "Highlight #1", out[0].Title)
	require.Equal(t, "Highlight #2", out[1].Title)
}

func TestTermsInWindow_CapsTermCount(t *testing.T) {
	detected := map[int][]string{}
	for sec := 0; sec < 20; sec++ {
		detected[sec] = []string{strings.Repeat("x", sec+1)}
	}
	terms := termsInWindow(detected, 0, 19)
	require.Len(t, terms, 10)
}
