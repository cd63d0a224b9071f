package ai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/openstream/octane/internal/domain"
)

// ResponseCleaner recovers structured JSON from model completions that wrap
// it in markdown fences or surrounding prose.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// CleanJSONResponse strips markdown fences and extracts the outermost JSON
// object from mixed content.
func (rc *ResponseCleaner) CleanJSONResponse(response string) string {
	if m := fencedJSONRe.FindStringSubmatch(response); m != nil {
		response = m[1]
	}
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)
	return rc.extractJSON(response)
}

// extractJSON returns the first balanced {...} object found in the text.
func (rc *ResponseCleaner) extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return response
	}
	depth := 0
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return response
}

// IsValidJSON reports whether the string parses as JSON.
func (rc *ResponseCleaner) IsValidJSON(response string) bool {
	var temp any
	return json.Unmarshal([]byte(response), &temp) == nil
}

// ParseEnrichment decodes a summarization completion into a structured
// result. When the completion is not valid JSON the raw text becomes the
// summary and the result carries a parse error marker, so a chatty model
// degrades the document instead of failing the oplog row.
func (rc *ResponseCleaner) ParseEnrichment(raw string) domain.EnrichmentResult {
	cleaned := rc.CleanJSONResponse(raw)
	var res domain.EnrichmentResult
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
		return domain.EnrichmentResult{
			Summary: strings.TrimSpace(raw),
			Error:   "json_parse_failed",
		}
	}
	if res.Summary == "" && res.Overview != "" {
		res.Summary = res.Overview
	}
	return res
}

// ParseClipTitles decodes a clip-title completion of the form
// {"0": "title", "1": "title"} into an index-keyed map. Non-integer keys
// are dropped.
func (rc *ResponseCleaner) ParseClipTitles(raw string) (map[int]string, error) {
	cleaned := rc.CleanJSONResponse(raw)
	var byKey map[string]string
	if err := json.Unmarshal([]byte(cleaned), &byKey); err != nil {
		return nil, err
	}
	titles := make(map[int]string, len(byKey))
	for k, v := range byKey {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			continue
		}
		titles[idx] = v
	}
	return titles, nil
}
