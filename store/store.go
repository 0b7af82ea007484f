// Package store defines the boundary to the external knowledge store. The
// pipeline only reads from it; chunking, embedding and indexing of documents
// are owned by an external collaborator.
package store

import (
	"context"
	"log/slog"
	"time"
)

// Metadata carries document-level attributes attached to a chunk.
type Metadata struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// KnowledgeChunk is a scored, retrievable fragment of indexed material.
// Immutable within the pipeline.
type KnowledgeChunk struct {
	ID         string
	DocumentID string
	Text       string
	// Score is the store-reported relevance in [0,1]. Its meaning depends on
	// the search that produced it (cosine similarity or keyword rank).
	Score float64
	// IndexedTs is the unix timestamp the chunk was indexed; used for
	// recency tie-breaks.
	IndexedTs int64
	Metadata  Metadata
}

// SearchFilters restricts a search to a category and/or tags.
type SearchFilters struct {
	Category string
	Tags     []string
}

// VectorSearchOptions parameterizes a similarity search.
type VectorSearchOptions struct {
	Vector  []float32
	Filters SearchFilters
	Limit   int
}

// KeywordSearchOptions parameterizes a keyword search.
type KeywordSearchOptions struct {
	Query   string
	Filters SearchFilters
	Limit   int
}

// Driver is implemented per database backend.
type Driver interface {
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*KnowledgeChunk, error)
	KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*KnowledgeChunk, error)
	Close() error
}

// Store wraps a Driver with logging. It is safe for concurrent use as long
// as the underlying driver is.
type Store struct {
	driver Driver
	logger *slog.Logger
}

// New creates a store on top of the given driver.
func New(driver Driver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{driver: driver, logger: logger}
}

// VectorSearch runs a similarity search against the driver.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*KnowledgeChunk, error) {
	start := time.Now()
	chunks, err := s.driver.VectorSearch(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("vector search completed",
		"result_count", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())
	return chunks, nil
}

// KeywordSearch runs a keyword search against the driver.
func (s *Store) KeywordSearch(ctx context.Context, opts *KeywordSearchOptions) ([]*KnowledgeChunk, error) {
	start := time.Now()
	chunks, err := s.driver.KeywordSearch(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("keyword search completed",
		"query", opts.Query,
		"result_count", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())
	return chunks, nil
}

// Close releases the underlying driver.
func (s *Store) Close() error {
	return s.driver.Close()
}
