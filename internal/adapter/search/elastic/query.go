package elastic

import (
	"github.com/openstream/octane/internal/domain"
)

// QueryParams carries everything the query builder needs beyond the raw
// request: the effective query text (post-translation/expansion), the query
// embedding, and analysis output.
type QueryParams struct {
	Query           string
	Vector          []float32
	Entities        []string
	Language        string
	Limit           int
	MinScore        float64
	SortBy          string
	Filters         map[string]any
	UseHybrid       bool
	VectorThreshold float64
	ReturnChunks    bool
}

// BuildSearchBody composes the retrieval query. Lexical clauses and the
// nested chunk clause are all "should" with minimum_should_match 1, each
// carrying a named boost so _matched_queries explains the score breakdown.
func BuildSearchBody(p QueryParams) map[string]any {
	filter := []any{
		map[string]any{"term": map[string]any{"status": "ready"}},
	}
	for name, value := range p.Filters {
		filter = append(filter, map[string]any{
			"term": map[string]any{MapFilterField(name): value},
		})
	}

	should := []any{
		map[string]any{
			"match_phrase": map[string]any{
				"title": map[string]any{
					"query": p.Query,
					"boost": 50,
					"_name": "title_proximity_bonus",
				},
			},
		},
		map[string]any{
			"multi_match": map[string]any{
				"query":    p.Query,
				"fields":   []string{"title^2", "summary^1.5", "content"},
				"type":     "most_fields",
				"operator": "and",
				"boost":    2,
				"_name":    "keyword_density",
			},
		},
	}
	if len(p.Entities) > 0 {
		should = append(should, map[string]any{
			"terms": map[string]any{
				"entities": p.Entities,
				"boost":    20,
				"_name":    "entity_match_bonus",
			},
		})
	}
	if p.Language != "" {
		should = append(should, map[string]any{
			"term": map[string]any{
				"language": map[string]any{
					"value": p.Language,
					"boost": 10,
					"_name": "language_match_bonus",
				},
			},
		})
	}
	should = append(should, nestedChunkClause(p))

	minScore := 0.0
	if p.SortBy == domain.SortRelevancy {
		minScore = p.MinScore
	}

	inner := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
		"filter":               filter,
	}

	body := map[string]any{
		"size":      p.Limit,
		"min_score": minScore,
		"_source": map[string]any{
			"includes": []string{
				"title", "summary", "metadata", "entity_id", "source_app",
				"chunks.text_chunk", "published_at", "entities",
				"key_concepts", "language",
			},
			"excludes": []string{"content", "chunks.vector"},
		},
	}

	switch p.SortBy {
	case domain.SortRecency:
		body["query"] = map[string]any{"bool": inner}
		body["sort"] = []any{
			map[string]any{"published_at": map[string]any{"order": "desc", "missing": "_last"}},
		}
	case domain.SortBalanced:
		// Sum the lexical score with an exponentially decayed freshness
		// weight so a week-old hit loses about half the bonus.
		body["query"] = map[string]any{
			"function_score": map[string]any{
				"query": map[string]any{"bool": inner},
				"functions": []any{
					map[string]any{
						"exp": map[string]any{
							"published_at": map[string]any{
								"origin": "now",
								"scale":  "7d",
								"offset": "0d",
								"decay":  0.5,
							},
						},
						"weight": 15,
					},
				},
				"score_mode": "sum",
				"boost_mode": "sum",
			},
		}
	default:
		body["query"] = map[string]any{"bool": inner}
	}

	return body
}

// nestedChunkClause combines phrase proximity inside chunks with an optional
// kNN sub-clause; max score mode keeps the best chunk from dominating via
// repetition.
func nestedChunkClause(p QueryParams) map[string]any {
	chunkShould := []any{
		map[string]any{
			"constant_score": map[string]any{
				"filter": map[string]any{
					"match_phrase": map[string]any{"chunks.text_chunk": p.Query},
				},
				"boost": 15,
				"_name": "chunk_proximity_bonus",
			},
		},
	}
	if p.UseHybrid && len(p.Vector) > 0 {
		chunkShould = append(chunkShould, map[string]any{
			"knn": map[string]any{
				"field":          "chunks.vector",
				"query_vector":   p.Vector,
				"num_candidates": 100,
				"similarity":     p.VectorThreshold,
				"boost":          25,
				"_name":          "chunk_semantic",
			},
		})
	}

	nested := map[string]any{
		"path":       "chunks",
		"score_mode": "max",
		"query": map[string]any{
			"bool": map[string]any{
				"should":               chunkShould,
				"minimum_should_match": 1,
			},
		},
	}
	if p.ReturnChunks {
		nested["inner_hits"] = map[string]any{
			"name":    "matched_chunks",
			"size":    1,
			"_source": []string{"chunks.text_chunk"},
		}
	}
	return map[string]any{"nested": nested}
}
