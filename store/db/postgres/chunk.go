package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/attuneai/attune/store"
)

// VectorSearch performs cosine similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity), so
// ordering by distance ASC yields the most similar chunks first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.KnowledgeChunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vector := pgvector.NewVector(opts.Vector)
	args := []any{vector}
	where := []string{}
	appendFilters(&where, &args, opts.Filters)

	query := `
		SELECT c.id, c.document_id, c.content, c.title, c.category, c.tags, c.indexed_ts,
			1 - (c.embedding <=> $1) AS score
		FROM knowledge_chunk c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, vector)
	query += " ORDER BY c.embedding <=> $" + strconv.Itoa(len(args))
	args = append(args, limit)
	query += " LIMIT $" + strconv.Itoa(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	return scanChunks(rows)
}

// KeywordSearch performs full-text search ranked with ts_rank.
func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.KnowledgeChunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	args := []any{opts.Query}
	where := []string{"to_tsvector('english', c.content) @@ plainto_tsquery('english', $1)"}
	appendFilters(&where, &args, opts.Filters)

	// ts_rank is unbounded above; least() clamps the score into [0,1] so it
	// composes with vector similarity downstream.
	query := `
		SELECT c.id, c.document_id, c.content, c.title, c.category, c.tags, c.indexed_ts,
			LEAST(ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', $1)), 1.0) AS score
		FROM knowledge_chunk c
		WHERE ` + strings.Join(where, " AND ")
	query += " ORDER BY score DESC, c.indexed_ts DESC"
	args = append(args, limit)
	query += " LIMIT $" + strconv.Itoa(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to keyword search")
	}
	defer rows.Close()

	return scanChunks(rows)
}

func appendFilters(where *[]string, args *[]any, filters store.SearchFilters) {
	if filters.Category != "" {
		*args = append(*args, filters.Category)
		*where = append(*where, "c.category = $"+strconv.Itoa(len(*args)))
	}
	if len(filters.Tags) > 0 {
		*args = append(*args, pq.Array(filters.Tags))
		*where = append(*where, "c.tags && $"+strconv.Itoa(len(*args)))
	}
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChunks(rows rowScanner) ([]*store.KnowledgeChunk, error) {
	chunks := []*store.KnowledgeChunk{}
	for rows.Next() {
		var chunk store.KnowledgeChunk
		var tags pq.StringArray
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Text,
			&chunk.Metadata.Title,
			&chunk.Metadata.Category,
			&tags,
			&chunk.IndexedTs,
			&chunk.Score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge chunk")
		}
		chunk.Metadata.Tags = tags
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}
