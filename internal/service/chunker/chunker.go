// Package chunker splits document text into embedding-sized chunks.
//
// Sizes are measured in tokens, not characters, so chunk budgets line up
// with the embedding model's context window. Two strategies exist: a
// recursive splitter that walks a separator ladder from paragraphs down to
// single characters, and a semantic strategy that groups sentences by
// embedding similarity and falls back to recursive on any failure.
package chunker

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/openstream/octane/internal/adapter/ai/tokencount"
	"github.com/openstream/octane/internal/domain"
)

// Chunker implements both chunking strategies.
type Chunker struct {
	counter *tokencount.Counter
	ai      domain.AIGateway
}

// New constructs a Chunker. The AI gateway is only used by the semantic
// strategy and may be nil when only recursive splitting is needed.
func New(counter *tokencount.Counter, ai domain.AIGateway) *Chunker {
	return &Chunker{counter: counter, ai: ai}
}

func (c *Chunker) tokens(text string) int {
	if c.counter == nil {
		return tokencount.EstimateTokens(text)
	}
	return c.counter.CountTokens(text)
}

// Split chunks text with the requested strategy. Overlap is clamped below
// the chunk size so a window can never be pure overlap.
func (c *Chunker) Split(ctx domain.Context, text, strategy string, chunkSize, chunkOverlap int) ([]string, error) {
	if chunkSize <= 0 {
		chunkSize = domain.DefaultChunkSize
	}
	overlap := chunkOverlap
	if chunkSize > 1 && overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	if strategy == domain.ChunkingSemantic {
		chunks, err := c.splitSemantic(ctx, text, chunkSize, overlap)
		if err == nil {
			return chunks, nil
		}
		slog.Error("semantic chunking failed, falling back to recursive", slog.Any("error", err))
	}

	return c.splitRecursive(text, chunkSize, overlap), nil
}

// Separator ladder, from coarse to fine. Sentence and clause boundaries
// split after the punctuation so it stays attached to the left piece.
var (
	sentenceBoundaryRe = regexp.MustCompile(`[.!?]\s+`)
	clauseBoundaryRe   = regexp.MustCompile(`[,;:]\s+`)
)

type separator struct {
	literal  string
	boundary *regexp.Regexp
}

var separatorLadder = []separator{
	{literal: "\n\n"},
	{literal: "\n"},
	{boundary: sentenceBoundaryRe},
	{boundary: clauseBoundaryRe},
	{literal: " "},
	{}, // character split
}

// splitRecursive walks the separator ladder: split on the coarsest
// separator present, keep pieces that fit, and recurse into pieces that
// don't with the remaining finer separators.
func (c *Chunker) splitRecursive(text string, chunkSize, overlap int) []string {
	return c.recurse(text, separatorLadder, chunkSize, overlap)
}

func (c *Chunker) recurse(text string, seps []separator, chunkSize, overlap int) []string {
	sep, rest := pickSeparator(text, seps)
	pieces := splitOn(text, sep)

	var final []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			final = append(final, c.merge(pending, chunkSize, overlap)...)
			pending = nil
		}
	}
	for _, p := range pieces {
		if c.tokens(p) <= chunkSize {
			pending = append(pending, p)
			continue
		}
		flush()
		if len(rest) == 0 {
			final = append(final, p)
			continue
		}
		final = append(final, c.recurse(p, rest, chunkSize, overlap)...)
	}
	flush()
	return final
}

// pickSeparator returns the first ladder entry that actually occurs in the
// text, and the finer entries after it for recursion.
func pickSeparator(text string, seps []separator) (separator, []separator) {
	for i, s := range seps {
		switch {
		case s.boundary != nil:
			if s.boundary.MatchString(text) {
				return s, seps[i+1:]
			}
		case s.literal != "":
			if strings.Contains(text, s.literal) {
				return s, seps[i+1:]
			}
		default:
			return s, nil
		}
	}
	return separator{}, nil
}

// splitOn breaks text on the separator, keeping separator characters so the
// rejoined chunks reproduce the original text.
func splitOn(text string, sep separator) []string {
	switch {
	case sep.boundary != nil:
		var pieces []string
		last := 0
		for _, m := range sep.boundary.FindAllStringIndex(text, -1) {
			// Cut after the punctuation character; trailing whitespace
			// opens the next piece.
			cut := m[0] + 1
			pieces = append(pieces, text[last:cut])
			last = cut
		}
		if last < len(text) {
			pieces = append(pieces, text[last:])
		}
		return pieces
	case sep.literal != "":
		raw := strings.SplitAfter(text, sep.literal)
		pieces := make([]string, 0, len(raw))
		for _, p := range raw {
			if p != "" {
				pieces = append(pieces, p)
			}
		}
		return pieces
	default:
		runes := []rune(text)
		pieces := make([]string, 0, len(runes))
		for _, r := range runes {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
}

// merge packs consecutive pieces into windows of at most chunkSize tokens,
// carrying overlap tokens of trailing pieces into the next window.
func (c *Chunker) merge(pieces []string, chunkSize, overlap int) []string {
	var chunks []string
	var window []string
	total := 0

	emit := func() {
		if len(window) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(window, ""))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, p := range pieces {
		n := c.tokens(p)
		if total+n > chunkSize && total > 0 {
			emit()
			// Shed leading pieces until the carried tail fits the overlap
			// budget and leaves room for the incoming piece.
			for total > overlap || (total+n > chunkSize && total > 0) {
				total -= c.tokens(window[0])
				window = window[1:]
				if len(window) == 0 {
					total = 0
					break
				}
			}
		}
		window = append(window, p)
		total += n
	}
	emit()
	return chunks
}

// splitSemantic groups sentence atoms by embedding similarity: a boundary
// opens wherever the cosine distance between consecutive atoms crosses the
// 95th percentile. Oversized groups are refined with the recursive splitter.
func (c *Chunker) splitSemantic(ctx domain.Context, text string, chunkSize, overlap int) ([]string, error) {
	if c.ai == nil {
		return nil, domain.ErrInvalidArgument
	}

	// Atoms are pre-split generously so each carries enough context to
	// embed meaningfully.
	atoms := c.splitRecursive(text, chunkSize*5, 0)
	if len(atoms) <= 1 {
		return atoms, nil
	}

	vectors, err := c.ai.Embed(ctx, atoms)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(atoms) {
		return nil, domain.ErrInternal
	}

	distances := make([]float64, len(atoms)-1)
	for i := 0; i < len(atoms)-1; i++ {
		distances[i] = 1 - cosineSimilarity(vectors[i], vectors[i+1])
	}
	threshold := percentile(distances, 95)

	var groups []string
	var current []string
	for i, atom := range atoms {
		current = append(current, atom)
		if i < len(distances) && distances[i] > threshold {
			groups = append(groups, strings.TrimSpace(strings.Join(current, " ")))
			current = nil
		}
	}
	if len(current) > 0 {
		groups = append(groups, strings.TrimSpace(strings.Join(current, " ")))
	}

	limit := float64(chunkSize) * 1.5
	var final []string
	for _, g := range groups {
		if float64(c.tokens(g)) > limit {
			final = append(final, c.splitRecursive(g, chunkSize, overlap)...)
		} else {
			final = append(final, g)
		}
	}
	slog.Info("semantic chunking completed", slog.Int("chunks", len(final)))
	return final, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile returns the p-th percentile of values by linear interpolation.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
