package ai

import (
	"strings"
	"time"
)

// ConfidenceWeights controls how the pieces of the confidence score combine.
type ConfidenceWeights struct {
	SelfReported float64
	Latency      float64
	Agreement    float64
	// DefaultSelf substitutes for the self-reported term when the backend
	// does not report one.
	DefaultSelf float64
}

// DefaultConfidenceWeights returns the default combination.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		SelfReported: 0.5,
		Latency:      0.25,
		Agreement:    0.25,
		DefaultSelf:  0.6,
	}
}

// ScoreConfidence combines the provider's self-reported certainty, response
// latency relative to the provider's historical baseline, and lexical
// agreement with the retrieved chunks. Used downstream for ranking, never
// for accept/reject.
func ScoreConfidence(result *GenerationResult, baseline time.Duration, groundingTexts []string, w ConfidenceWeights) float64 {
	self := result.ProviderConfidence
	if self <= 0 {
		self = w.DefaultSelf
	}

	latency := latencyScore(result.Latency, baseline)
	agreement := lexicalAgreement(result.Text, groundingTexts)

	score := w.SelfReported*self + w.Latency*latency + w.Agreement*agreement
	return clamp01(score)
}

// latencyScore maps a response latency onto [0,1] against the provider's
// rolling baseline. At or below baseline scores 1; score decays as the
// response runs over.
func latencyScore(latency, baseline time.Duration) float64 {
	if latency <= 0 {
		return 0.5
	}
	if baseline <= 0 || latency <= baseline {
		return 1.0
	}
	return float64(baseline) / float64(latency)
}

// lexicalAgreement is the best token overlap between the generation and any
// grounding text. No grounding scores a neutral 0.5 so ungrounded mode is not
// penalized relative to grounded mode.
func lexicalAgreement(text string, groundingTexts []string) float64 {
	if len(groundingTexts) == 0 {
		return 0.5
	}
	genTokens := tokenSet(text)
	if len(genTokens) == 0 {
		return 0
	}
	best := 0.0
	for _, g := range groundingTexts {
		if overlap := overlapRatio(genTokens, tokenSet(g)); overlap > best {
			best = overlap
		}
	}
	return best
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 3 {
			set[f] = struct{}{}
		}
	}
	return set
}

// overlapRatio is the fraction of tokens in a that also appear in b.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	hits := 0
	for token := range a {
		if _, ok := b[token]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
