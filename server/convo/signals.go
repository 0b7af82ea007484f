package convo

import (
	"strings"
)

// topicLexicon maps topic labels to cue words. Deliberately small; the goal
// is a cheap running label, not classification accuracy.
var topicLexicon = map[string][]string{
	"communication": {"listen", "listening", "talk", "talking", "heard", "unheard", "ignored", "conversation", "say", "tell", "express"},
	"conflict":      {"fight", "fighting", "argue", "arguing", "argument", "angry", "blame", "yell", "yelling", "disagree"},
	"trust":         {"trust", "honest", "honesty", "lie", "lying", "secret", "secrets", "faithful", "doubt"},
	"intimacy":      {"close", "closeness", "affection", "distant", "distance", "lonely", "alone", "connection", "intimate"},
	"time":          {"busy", "time", "schedule", "work", "late", "weekend", "together", "priorities"},
}

// sentimentLexicon scores individual words. Positive words pull the running
// score up, negative words pull it down.
var sentimentLexicon = map[string]float64{
	"good": 1, "great": 1, "better": 1, "happy": 1, "love": 1, "loved": 1,
	"appreciate": 1, "appreciated": 1, "glad": 1, "thankful": 1, "hopeful": 1,
	"calm": 1, "closer": 1, "improving": 1, "progress": 1,

	"bad": -1, "worse": -1, "sad": -1, "angry": -1, "hurt": -1, "hate": -1,
	"ignored": -1, "unheard": -1, "lonely": -1, "frustrated": -1, "tired": -1,
	"upset": -1, "annoyed": -1, "distant": -1, "afraid": -1, "anxious": -1,
}

// trendThreshold is the EWMA delta that separates steady from a trend.
const trendThreshold = 0.15

// sentimentAlpha is the smoothing factor for the running sentiment score.
const sentimentAlpha = 0.4

// sentimentTracker keeps a running sentiment EWMA and its direction.
type sentimentTracker struct {
	score    float64
	previous float64
	observed bool
}

func (t *sentimentTracker) observe(text string) {
	t.previous = t.score
	s := scoreSentiment(text)
	if !t.observed {
		t.score = s
		t.observed = true
		return
	}
	t.score = sentimentAlpha*s + (1-sentimentAlpha)*t.score
}

func (t *sentimentTracker) trend() string {
	delta := t.score - t.previous
	switch {
	case delta > trendThreshold:
		return "improving"
	case delta < -trendThreshold:
		return "declining"
	default:
		return "steady"
	}
}

// scoreSentiment returns the mean lexicon score of the message's words,
// in [-1,1]. Unknown words contribute nothing.
func scoreSentiment(text string) float64 {
	var total float64
	hits := 0
	for _, word := range normalizeWords(text) {
		if s, ok := sentimentLexicon[word]; ok {
			total += s
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return total / float64(hits)
}

// topicHits counts lexicon cue words per topic in the message.
func topicHits(text string) map[string]int {
	words := normalizeWords(text)
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[w] = struct{}{}
	}

	hits := make(map[string]int)
	for topic, cues := range topicLexicon {
		for _, cue := range cues {
			if _, ok := present[cue]; ok {
				hits[topic]++
			}
		}
	}
	return hits
}

func normalizeWords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
