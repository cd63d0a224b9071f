package chunker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openstream/octane/internal/domain"
)

// A nil counter falls back to the 4-chars-per-token estimate, keeping the
// token math in these tests deterministic.
func newTestChunker(ai domain.AIGateway) *Chunker { return New(nil, ai) }

type embedFake struct {
	calls   int
	vectors [][]float32
	err     error
}

func (f *embedFake) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (f *embedFake) Chat(domain.Context, string, string, string) (string, error) { return "", nil }
func (f *embedFake) Rerank(domain.Context, string, []domain.RerankDoc) ([]domain.RerankResult, error) {
	return nil, nil
}
func (f *embedFake) AnalyzeQuery(domain.Context, string) (domain.QueryAnalysis, error) {
	return domain.QueryAnalysis{}, nil
}

func TestSplit_TextWithinBudgetIsOneChunk(t *testing.T) {
	c := newTestChunker(nil)
	chunks, err := c.Split(context.Background(), "hello world", domain.ChunkingRecursive, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"hello world"}, chunks)
}

func TestSplit_ParagraphBoundariesFirst(t *testing.T) {
	// Two 40-char paragraphs (10 tokens each) against a 12-token budget:
	// they cannot share a window, so each paragraph becomes its own chunk.
	p1 := strings.Repeat("aaaa ", 8)[:40]
	p2 := strings.Repeat("bbbb ", 8)[:40]
	c := newTestChunker(nil)

	chunks, err := c.Split(context.Background(), p1+"\n\n"+p2, domain.ChunkingRecursive, 12, 0)
	require.NoError(t, err)
	require.Equal(t, []string{strings.TrimSpace(p1), strings.TrimSpace(p2)}, chunks)
}

func TestSplit_SentenceBoundaries(t *testing.T) {
	text := "Aaaa bbbb cccc. Dddd eeee ffff. Gggg hhhh iiii."
	c := newTestChunker(nil)

	chunks, err := c.Split(context.Background(), text, domain.ChunkingRecursive, 4, 0)
	require.NoError(t, err)
	require.Equal(t, []string{
		"Aaaa bbbb cccc.",
		"Dddd eeee ffff.",
		"Gggg hhhh iiii.",
	}, chunks)
}

func TestSplit_OverlapCarriesTrailingPieces(t *testing.T) {
	// Ten 1-token words, 4-token windows with 2 tokens of overlap: windows
	// advance by two words and repeat the previous window's tail.
	words := make([]string, 10)
	for i := range words {
		words[i] = "alpha" + string(rune('0'+i))
	}
	c := newTestChunker(nil)

	chunks, err := c.Split(context.Background(), strings.Join(words, " "), domain.ChunkingRecursive, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []string{
		"alpha0 alpha1 alpha2 alpha3",
		"alpha2 alpha3 alpha4 alpha5",
		"alpha4 alpha5 alpha6 alpha7",
		"alpha6 alpha7 alpha8 alpha9",
	}, chunks)
}

func TestSplit_OverlapClampedBelowChunkSize(t *testing.T) {
	c := newTestChunker(nil)
	text := strings.Repeat("word ", 40)

	// Overlap >= chunk size would never advance; it is clamped instead.
	chunks, err := c.Split(context.Background(), text, domain.ChunkingRecursive, 4, 10)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk)/4, 4)
	}
}

func TestSplit_ZeroChunkSizeUsesDefault(t *testing.T) {
	c := newTestChunker(nil)
	chunks, err := c.Split(context.Background(), "short text", domain.ChunkingRecursive, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"short text"}, chunks)
}

func TestSplit_SemanticSingleAtomSkipsEmbedding(t *testing.T) {
	ai := &embedFake{}
	c := newTestChunker(ai)

	chunks, err := c.Split(context.Background(), "tiny text", domain.ChunkingSemantic, 100, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"tiny text"}, chunks)
	require.Zero(t, ai.calls, "a single atom needs no embeddings")
}

func TestSplit_SemanticFallsBackOnEmbedFailure(t *testing.T) {
	ai := &embedFake{err: errors.New("intelligence service down")}
	c := newTestChunker(ai)

	p1 := strings.Repeat("aaaa ", 8)[:40]
	p2 := strings.Repeat("bbbb ", 8)[:40]
	chunks, err := c.Split(context.Background(), p1+"\n\n"+p2, domain.ChunkingSemantic, 12, 0)
	require.NoError(t, err, "semantic failures degrade to recursive")
	require.Equal(t, []string{strings.TrimSpace(p1), strings.TrimSpace(p2)}, chunks)
}

func TestSplit_SemanticWithoutGatewayFallsBack(t *testing.T) {
	c := newTestChunker(nil)
	chunks, err := c.Split(context.Background(), "some text here", domain.ChunkingSemantic, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs score zero rather than NaN.
	require.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}))
	require.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	require.Zero(t, cosineSimilarity(nil, nil))
}

func TestPercentile(t *testing.T) {
	require.Zero(t, percentile(nil, 95))
	require.Equal(t, 3.0, percentile([]float64{3}, 95))
	require.Equal(t, 1.0, percentile([]float64{1, 1, 1}, 95))

	// Linear interpolation between the two largest values.
	require.InDelta(t, 9.5, percentile([]float64{0, 10, 5}, 95), 1e-9)
}

func TestSplit_ReassemblesWithoutLoss(t *testing.T) {
	// With zero overlap the chunks cover the source text in order.
	text := "First sentence is right here. Second one follows. Third closes it out."
	c := newTestChunker(nil)

	chunks, err := c.Split(context.Background(), text, domain.ChunkingRecursive, 6, 0)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	pos := 0
	for _, chunk := range chunks {
		idx := strings.Index(text[pos:], chunk)
		require.GreaterOrEqual(t, idx, 0, "chunk %q must appear after offset %d", chunk, pos)
		pos += idx + len(chunk)
	}
}
