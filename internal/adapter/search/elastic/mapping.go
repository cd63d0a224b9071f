package elastic

// baseProperties returns the lexical field mapping shared by every index.
func baseProperties() map[string]any {
	return map[string]any{
		"source_app":   map[string]any{"type": "keyword"},
		"entity_id":    map[string]any{"type": "keyword"},
		"title":        map[string]any{"type": "text", "analyzer": "standard"},
		"content":      map[string]any{"type": "text", "analyzer": "standard"},
		"summary":      map[string]any{"type": "text", "analyzer": "standard"},
		"status":       map[string]any{"type": "keyword"},
		"language":     map[string]any{"type": "keyword"},
		"entities":     map[string]any{"type": "keyword"},
		"key_concepts": map[string]any{"type": "keyword"},
		"published_at": map[string]any{"type": "date"},
		"metadata":     map[string]any{"type": "flattened"},
	}
}

// entityProperties returns the per-entity typed sub-objects. Custom fields
// for other entity types live under metadata instead.
func entityProperties() map[string]any {
	return map[string]any{
		"video": map[string]any{
			"properties": map[string]any{
				"duration":      map[string]any{"type": "float"},
				"thumbnail_url": map[string]any{"type": "keyword"},
			},
		},
		"blog": map[string]any{
			"properties": map[string]any{
				"author": map[string]any{"type": "keyword"},
				"tags":   map[string]any{"type": "keyword"},
			},
		},
	}
}

// vectorProperty returns the nested chunks mapping with a dense cosine
// vector of the configured dimension.
func vectorProperty(dims int) map[string]any {
	return map[string]any{
		"type": "nested",
		"properties": map[string]any{
			"text_chunk": map[string]any{"type": "text"},
			"vector": map[string]any{
				"type":       "dense_vector",
				"dims":       dims,
				"index":      true,
				"similarity": "cosine",
			},
		},
	}
}

// FullMapping assembles the strict index mapping for the given embedding
// dimension.
func FullMapping(dims int) map[string]any {
	props := baseProperties()
	for k, v := range entityProperties() {
		props[k] = v
	}
	props["chunks"] = vectorProperty(dims)
	return map[string]any{
		"dynamic":    "strict",
		"properties": props,
	}
}

var (
	videoFields = map[string]bool{"duration": true, "thumbnail_url": true}
	blogFields  = map[string]bool{"author": true, "tags": true}
	baseFields  = map[string]bool{"source_app": true, "entity_id": true, "status": true}
)

// MapFilterField maps a generic filter name to its typed path in the schema.
// Unknown names land under the flattened metadata object.
func MapFilterField(name string) string {
	switch {
	case videoFields[name]:
		return "video." + name
	case blogFields[name]:
		return "blog." + name
	case baseFields[name]:
		return name
	default:
		return "metadata." + name
	}
}
