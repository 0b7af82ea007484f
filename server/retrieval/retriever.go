// Package retrieval implements the knowledge retriever: hybrid vector plus
// keyword search over the external knowledge store, with score fusion and a
// small result cache.
package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/attuneai/attune/server/ai"
	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/store"
	"github.com/attuneai/attune/store/cache"
)

// Config holds the retriever's scoring and budget policy.
type Config struct {
	// VectorWeight and KeywordWeight combine the two search scores.
	VectorWeight  float64
	KeywordWeight float64
	// MinRelevance drops chunks below this fused score. An empty result is
	// "no grounding available", not an error.
	MinRelevance float64
	// Timeout bounds one retrieval call.
	Timeout time.Duration
	// CacheSize / CacheTTL control the query-result cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns the default retrieval policy.
func DefaultConfig() Config {
	return Config{
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		MinRelevance:  0.35,
		Timeout:       1500 * time.Millisecond,
		CacheSize:     256,
		CacheTTL:      30 * time.Second,
	}
}

// Options parameterizes one retrieval.
type Options struct {
	Query   string
	Filters store.SearchFilters
	Limit   int
}

// Retriever combines vector similarity rank with a keyword boost.
type Retriever struct {
	store    *store.Store
	embedder ai.EmbeddingService
	cfg      Config
	cache    *cache.LRUCache
	logger   *slog.Logger
}

// New creates a retriever.
func New(st *store.Store, embedder ai.EmbeddingService, cfg Config, logger *slog.Logger) *Retriever {
	def := DefaultConfig()
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = def.VectorWeight
	}
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = def.KeywordWeight
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = def.MinRelevance
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:    st,
		embedder: embedder,
		cfg:      cfg,
		cache:    cache.NewLRUCache(cfg.CacheSize, cfg.CacheTTL),
		logger:   logger,
	}
}

// Retrieve returns at most opts.Limit chunks ordered by fused relevance.
// If the store is unreachable on both paths it returns RetrievalUnavailable;
// the caller degrades to ungrounded synthesis.
func (r *Retriever) Retrieve(ctx context.Context, opts *Options) ([]*store.KnowledgeChunk, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	key := cacheKey(opts)
	if cached, ok := r.cache.Get(key); ok {
		var chunks []*store.KnowledgeChunk
		if err := json.Unmarshal(cached, &chunks); err == nil {
			return chunks, nil
		}
		r.cache.Invalidate(key)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	type vectorOut struct {
		chunks []*store.KnowledgeChunk
		err    error
	}
	type keywordOut struct {
		chunks []*store.KnowledgeChunk
		err    error
	}

	vectorCh := make(chan vectorOut, 1)
	keywordCh := make(chan keywordOut, 1)

	go func() {
		vector, err := r.embedder.Embed(ctx, opts.Query)
		if err != nil {
			vectorCh <- vectorOut{nil, err}
			return
		}
		chunks, err := r.store.VectorSearch(ctx, &store.VectorSearchOptions{
			Vector:  vector,
			Filters: opts.Filters,
			Limit:   opts.Limit * 4,
		})
		vectorCh <- vectorOut{chunks, err}
	}()

	go func() {
		chunks, err := r.store.KeywordSearch(ctx, &store.KeywordSearchOptions{
			Query:   opts.Query,
			Filters: opts.Filters,
			Limit:   opts.Limit * 4,
		})
		keywordCh <- keywordOut{chunks, err}
	}()

	var vector vectorOut
	var keyword keywordOut
	select {
	case vector = <-vectorCh:
	case <-ctx.Done():
		return nil, pipeerr.RetrievalUnavailable(ctx.Err())
	}
	select {
	case keyword = <-keywordCh:
	case <-ctx.Done():
		return nil, pipeerr.RetrievalUnavailable(ctx.Err())
	}

	if vector.err != nil && keyword.err != nil {
		r.logger.Warn("both retrieval paths failed",
			slog.String("vector_error", vector.err.Error()),
			slog.String("keyword_error", keyword.err.Error()))
		return nil, pipeerr.RetrievalUnavailable(vector.err)
	}
	if vector.err != nil {
		r.logger.Warn("vector search failed, using keyword only",
			slog.String("error", vector.err.Error()))
	}
	if keyword.err != nil {
		r.logger.Warn("keyword search failed, using vector only",
			slog.String("error", keyword.err.Error()))
	}

	chunks := FuseScores(vector.chunks, keyword.chunks, r.cfg.VectorWeight, r.cfg.KeywordWeight)
	chunks = filterAndRank(chunks, r.cfg.MinRelevance, opts.Limit)

	if encoded, err := json.Marshal(chunks); err == nil {
		r.cache.Set(key, encoded, 0)
	}
	return chunks, nil
}

// FuseScores merges the two ranked lists into one, scoring each chunk
// vectorWeight*vectorScore + keywordWeight*keywordScore. A chunk absent from
// one list contributes zero for that component. Negative cosine scores clamp
// to zero.
func FuseScores(vector, keyword []*store.KnowledgeChunk, vectorWeight, keywordWeight float64) []*store.KnowledgeChunk {
	type fused struct {
		chunk   *store.KnowledgeChunk
		vScore  float64
		kwScore float64
	}
	byID := make(map[string]*fused)
	order := []string{}

	for _, c := range vector {
		score := c.Score
		if score < 0 {
			score = 0
		}
		byID[c.ID] = &fused{chunk: c, vScore: score}
		order = append(order, c.ID)
	}
	for _, c := range keyword {
		if f, ok := byID[c.ID]; ok {
			f.kwScore = c.Score
			continue
		}
		byID[c.ID] = &fused{chunk: c, kwScore: c.Score}
		order = append(order, c.ID)
	}

	out := make([]*store.KnowledgeChunk, 0, len(order))
	for _, id := range order {
		f := byID[id]
		merged := *f.chunk
		merged.Score = vectorWeight*f.vScore + keywordWeight*f.kwScore
		out = append(out, &merged)
	}
	return out
}

// filterAndRank drops chunks under the relevance floor and orders the rest by
// score descending, ties broken by chunk recency.
func filterAndRank(chunks []*store.KnowledgeChunk, minRelevance float64, limit int) []*store.KnowledgeChunk {
	kept := make([]*store.KnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= minRelevance {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].IndexedTs > kept[j].IndexedTs
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func cacheKey(opts *Options) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(opts.Query)),
		opts.Filters.Category,
		strings.Join(opts.Filters.Tags, ","),
	}
	return strings.Join(parts, "|")
}
