package ai

import (
	"fmt"
	"strings"

	"github.com/openstream/octane/internal/domain"
)

const videoSummaryPrompt = `You are an expert video content analyzer. Your task is to summarize the following video transcript to enhance discoverability.

Structure your response as follows:
1. **Topic**: The primary subject of the video.
2. **Summary**: A narrative summary of the discussion or presentation.
3. **Key Moments**: A bulleted list of key topics or questions addressed in the video.

Ignore filler words and focus on the substantive content.`

const blogSummaryPrompt = `You are an expert content analyzer. Your task is to generate a comprehensive summary of the following article to optimize searchability.

Structure your response as follows:
1. **Title**: A representative title.
2. **Overview**: A concise paragraph summarizing the main thesis.
3. **Key Concepts**: A bulleted list of 5 important concepts, entities, or arguments discussed.

Ensure specific terminology and key entities are preserved.`

const defaultSummaryPrompt = `Summarize the following text into exactly 5 concise sentences.

Each sentence must express a distinct key idea.
Avoid repetition, speculation, or adding information not present in the text.
Return only the five sentences as plain text.`

// SummarySystemPrompt selects the summarization system prompt for the
// entity type.
func SummarySystemPrompt(entityType string) string {
	switch entityType {
	case domain.EntityVideoTranscript, domain.EntityVideo:
		return videoSummaryPrompt
	case domain.EntityBlogPost:
		return blogSummaryPrompt
	default:
		return defaultSummaryPrompt
	}
}

const maxSummaryInputChars = 10000

// SummaryUserPrompt wraps the content body, truncated to keep the request
// within the summarizer's context budget.
func SummaryUserPrompt(text string) string {
	if len(text) > maxSummaryInputChars {
		text = text[:maxSummaryInputChars]
	}
	return "Text to analyze:\n\n" + text
}

// HighlightTitleSystemPrompt instructs the model to produce per-clip titles
// as a single JSON object keyed by clip index.
const HighlightTitleSystemPrompt = `You are a world-class content curator and video editor.
Your task is to generate short, attention-grabbing titles (max 60 chars) for a series of highlight clips.

### ADAPTATION RULES:
1. TONE: Identify the content type from the Video Title/Description/Category (e.g., Gaming, Vlog, Tutorial, Music, Podcast).
2. STYLE:
   - For GAMING: Action-oriented, hype-focused (but no generic "Epic"/"Insane"). Use specific game terminology.
   - For EDUCATIONAL/TUTORIAL: Informative, highlighting the specific concept, tool, or "lightbulb" moment.
   - For VLOGS/TALK/PODCASTS: Use quotes, emotional anchors, or the main topic discussed.
3. SPECIFICITY: Always prioritize specific details (names, tools, locations, or key phrases) over generic summaries.

### CONSTRAINTS:
- DO NOT use generic buzzwords: 'Epic Showdown', 'Intense Moment', 'Boldest Move', 'Game Changer', 'Momentous Comeback', 'Action-packed'.
- Ensure every title is unique from the others in the batch.
- If the context contains spoken words, use them as inspiration.
- Do not use quotes in your titles.
- Respond ONLY with a valid JSON object.

Example Output:
{
  "0": "Clutch 1v3 with Vandal on A-Site",
  "1": "How to center a div with TailWind",
  "2": "The moment he realized his mic was muted"
}
`

// ClipContext pairs a clip index with the transcript/context text around it.
type ClipContext struct {
	Index   int
	Context string
}

const maxClipContextChars = 1000

// BuildHighlightBatchPrompt constructs the user prompt for one batch of clip
// title requests.
func BuildHighlightBatchPrompt(videoTitle, videoDescription, videoCategory string, clips []ClipContext) string {
	if videoCategory == "" {
		videoCategory = "Unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Video Title: %s\n", videoTitle)
	fmt.Fprintf(&b, "Video Category: %s\n", videoCategory)
	fmt.Fprintf(&b, "Video Description: %s\n\n", videoDescription)
	b.WriteString("Here are the clips you need to name. Use the context and detected events to give each a unique ACTIONABLE title:\n\n")
	for _, c := range clips {
		ctx := c.Context
		if len(ctx) > maxClipContextChars {
			ctx = ctx[:maxClipContextChars]
		}
		fmt.Fprintf(&b, "--- Clip Index: %d ---\n%s\n\n", c.Index, ctx)
	}
	return b.String()
}
