package synthesis

import "strings"

// Suggestion categories.
const (
	CategoryTone    = "tone"
	CategoryContent = "content"
	CategoryTiming  = "timing"
)

var toneCues = []string{
	"feel", "feeling", "felt", "acknowledge", "validate", "empath", "tone",
	"gently", "softly", "calm", "appreciate", "i-statement", "i statement",
	"listen", "hear them",
}

var timingCues = []string{
	"when ", "before ", "after ", "wait", "pause", "moment", "later",
	"tonight", "timing", "right now", "take a break", "sleep on",
}

// Classify picks a category from lexical cues in the suggestion text. Tone
// cues win over timing cues: coaching language leans on feelings even when a
// clause mentions timing. Everything else is content.
func Classify(text, topic string) string {
	lower := strings.ToLower(text)
	for _, cue := range toneCues {
		if strings.Contains(lower, cue) {
			return CategoryTone
		}
	}
	for _, cue := range timingCues {
		if strings.Contains(lower, cue) {
			return CategoryTiming
		}
	}
	if topic == "time" {
		return CategoryTiming
	}
	return CategoryContent
}
