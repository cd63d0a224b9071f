package domain

// HighlightJobPayload is one highlight-generation request off the bus.
type HighlightJobPayload struct {
	VideoID          string `json:"videoId" validate:"required"`
	Proxy480pPath    string `json:"proxy480pPath" validate:"required"`
	SourceVideoPath  string `json:"sourceVideoPath,omitempty"`
	ChatPath         string `json:"chatPath,omitempty"`
	ConfigPath       string `json:"configPath,omitempty"`
	VideoTitle       string `json:"videoTitle,omitempty"`
	VideoDescription string `json:"videoDescription,omitempty"`
	VideoCategory    string `json:"videoCategory,omitempty"`
	OwnerID          string `json:"ownerId,omitempty"`
}

// SignalScores maps a second offset to a score in [0,1]; sparse.
type SignalScores map[int]float64

// AggregateScore is the fused per-second total across signals.
type AggregateScore struct {
	Total    float64
	SigCount int
}

// ClipWindow is one consolidated highlight clip.
// Invariant: MinClipDuration <= End-Start <= MaxClipDuration; clips are
// pairwise non-overlapping modulo the consolidation min_gap.
type ClipWindow struct {
	Index         int                `json:"index"`
	Start         float64            `json:"start"`
	End           float64            `json:"end"`
	Score         float64            `json:"score"`
	PeakSecond    int                `json:"peak_second"`
	Title         string             `json:"title,omitempty"`
	ClipPath      string             `json:"clip_path,omitempty"`
	ThumbnailPath string             `json:"thumbnail_path,omitempty"`
	ClipURL       string             `json:"clipUrl,omitempty"`
	ThumbnailURL  string             `json:"thumbnailUrl,omitempty"`
	// Signals holds each detector's score at the clip's peak second.
	Signals map[string]float64 `json:"signals,omitempty"`
}

// Duration returns the clip length in seconds.
func (c ClipWindow) Duration() float64 { return c.End - c.Start }

// HighlightsManifest is serialized to highlights/{videoId}/highlights.json.
type HighlightsManifest struct {
	VideoID string       `json:"videoId"`
	Clips   []ClipWindow `json:"clips"`
}

// Highlight job outcome kinds, routed to distinct bus topics.
const (
	OutcomeComplete = "complete"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// HighlightOutcomeEvent reports the terminal state of a highlight job.
type HighlightOutcomeEvent struct {
	VideoID            string   `json:"videoId"`
	ClipCount          int      `json:"clipCount"`
	HighlightsJSONPath string   `json:"highlightsJsonPath,omitempty"`
	DurationMs         int64    `json:"durationMs"`
	VTTUsed            bool     `json:"vttUsed"`
	Warnings           []string `json:"warnings"`
	Error              string   `json:"error,omitempty"`
}
