// Package synthesis turns a context snapshot, retrieved knowledge and a
// provider generation into ranked, deduplicated coaching suggestions.
package synthesis

import (
	"log/slog"
	"sort"

	"github.com/lithammer/shortuuid/v4"

	"github.com/attuneai/attune/server/ai"
	"github.com/attuneai/attune/server/convo"
	"github.com/attuneai/attune/store"
)

// Provenance records which provider and chunks contributed to a suggestion.
type Provenance struct {
	ProviderID string   `json:"providerId,omitempty"`
	ChunkIDs   []string `json:"chunkIds,omitempty"`
}

// Suggestion is one ranked coaching suggestion. Created per synthesis cycle;
// never persisted by this core.
type Suggestion struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Category   string     `json:"category"`
	Provenance Provenance `json:"provenance"`
}

// Config holds the synthesizer's scoring policy.
type Config struct {
	// ConfidenceWeight, GroundingWeight and NoveltyWeight combine into the
	// candidate score.
	ConfidenceWeight float64
	GroundingWeight  float64
	NoveltyWeight    float64
	// DedupeThreshold collapses candidates at or above this similarity,
	// keeping the higher-scored one.
	DedupeThreshold float64
	// MaxSuggestions caps the returned list.
	MaxSuggestions int
	// FallbackConfidence is the base confidence when synthesizing directly
	// from chunks with no provider result.
	FallbackConfidence float64
}

// DefaultConfig returns the default scoring policy.
func DefaultConfig() Config {
	return Config{
		ConfidenceWeight:   0.5,
		GroundingWeight:    0.3,
		NoveltyWeight:      0.2,
		DedupeThreshold:    0.9,
		MaxSuggestions:     5,
		FallbackConfidence: 0.4,
	}
}

// Synthesizer ranks suggestion candidates. Stateless; per-session novelty
// state lives in a History owned by the session.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a synthesizer.
func New(cfg Config, logger *slog.Logger) *Synthesizer {
	def := DefaultConfig()
	if cfg.ConfidenceWeight <= 0 {
		cfg.ConfidenceWeight = def.ConfidenceWeight
	}
	if cfg.GroundingWeight <= 0 {
		cfg.GroundingWeight = def.GroundingWeight
	}
	if cfg.NoveltyWeight <= 0 {
		cfg.NoveltyWeight = def.NoveltyWeight
	}
	if cfg.DedupeThreshold <= 0 {
		cfg.DedupeThreshold = def.DedupeThreshold
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = def.MaxSuggestions
	}
	if cfg.FallbackConfidence <= 0 {
		cfg.FallbackConfidence = def.FallbackConfidence
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{cfg: cfg, logger: logger}
}

// Synthesize produces up to MaxSuggestions ranked suggestions. With no
// provider result it falls back to the top chunks directly; with neither it
// returns an empty list and the caller emits an explicit no-suggestions
// status, never silence.
func (s *Synthesizer) Synthesize(snap convo.Snapshot, chunks []*store.KnowledgeChunk, result *ai.GenerationResult, history *History) []Suggestion {
	if result == nil || result.Text == "" {
		return s.fromChunks(chunks, history)
	}

	candidates := SegmentResponse(result.Text)
	if len(candidates) == 0 {
		return s.fromChunks(chunks, history)
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for _, text := range candidates {
		grounding, chunkIDs := groundingOverlap(text, chunks)
		novelty := history.Novelty(text)

		score := s.cfg.ConfidenceWeight*result.Confidence +
			s.cfg.GroundingWeight*grounding +
			s.cfg.NoveltyWeight*novelty

		suggestions = append(suggestions, Suggestion{
			ID:         shortuuid.New(),
			Text:       text,
			Confidence: clamp01(score),
			Category:   Classify(text, snap.Topic),
			Provenance: Provenance{ProviderID: result.ProviderID, ChunkIDs: chunkIDs},
		})
	}

	suggestions = s.dedupe(suggestions)
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > s.cfg.MaxSuggestions {
		suggestions = suggestions[:s.cfg.MaxSuggestions]
	}
	return suggestions
}

// fromChunks synthesizes a fallback suggestion set directly from the top
// chunks' text, at a lower default confidence.
func (s *Synthesizer) fromChunks(chunks []*store.KnowledgeChunk, history *History) []Suggestion {
	suggestions := make([]Suggestion, 0, len(chunks))
	for _, c := range chunks {
		text := leadSentence(c.Text)
		if text == "" {
			continue
		}
		score := s.cfg.FallbackConfidence * c.Score
		if history != nil {
			score *= history.Novelty(text)
		}
		suggestions = append(suggestions, Suggestion{
			ID:         shortuuid.New(),
			Text:       text,
			Confidence: clamp01(score),
			Category:   Classify(text, ""),
			Provenance: Provenance{ChunkIDs: []string{c.ID}},
		})
	}

	suggestions = s.dedupe(suggestions)
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > s.cfg.MaxSuggestions {
		suggestions = suggestions[:s.cfg.MaxSuggestions]
	}
	return suggestions
}

// dedupe collapses near-identical candidates, keeping the higher-scored one.
func (s *Synthesizer) dedupe(suggestions []Suggestion) []Suggestion {
	kept := make([]Suggestion, 0, len(suggestions))
	for _, candidate := range suggestions {
		duplicate := -1
		for i, existing := range kept {
			if TokenJaccard(candidate.Text, existing.Text) >= s.cfg.DedupeThreshold {
				duplicate = i
				break
			}
		}
		if duplicate == -1 {
			kept = append(kept, candidate)
			continue
		}
		if candidate.Confidence > kept[duplicate].Confidence {
			kept[duplicate] = candidate
		}
	}
	return kept
}

// groundingOverlap returns the best token overlap between the candidate and
// any chunk, plus the ids of chunks that materially ground it.
func groundingOverlap(text string, chunks []*store.KnowledgeChunk) (float64, []string) {
	const provenanceFloor = 0.1

	best := 0.0
	var ids []string
	for _, c := range chunks {
		overlap := TokenJaccard(text, c.Text)
		if overlap > best {
			best = overlap
		}
		if overlap >= provenanceFloor {
			ids = append(ids, c.ID)
		}
	}
	return best, ids
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
