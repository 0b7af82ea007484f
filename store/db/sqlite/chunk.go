package sqlite

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/attuneai/attune/store"
)

// candidateLimit caps how many rows the similarity scan loads per query.
const candidateLimit = 2000

// VectorSearch loads candidate chunks and ranks them by cosine similarity in
// process. The candidate set is bounded; beyond that, use PostgreSQL.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.KnowledgeChunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, document_id, content, title, category, tags, indexed_ts, embedding
		FROM knowledge_chunk`
	where, args := buildFilters(opts.Filters)
	if where != "" {
		query += " WHERE " + where
	}
	args = append(args, candidateLimit)
	query += " ORDER BY indexed_ts DESC LIMIT ?"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load chunk candidates")
	}
	defer rows.Close()

	chunks := []*store.KnowledgeChunk{}
	for rows.Next() {
		var chunk store.KnowledgeChunk
		var tagsJSON string
		var blob []byte
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Text,
			&chunk.Metadata.Title,
			&chunk.Metadata.Category,
			&tagsJSON,
			&chunk.IndexedTs,
			&blob,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge chunk")
		}
		decodeTags(tagsJSON, &chunk)

		embedding, err := DecodeVector(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %s has a corrupt embedding", chunk.ID)
		}
		chunk.Score = CosineSimilarity(opts.Vector, embedding)
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].IndexedTs > chunks[j].IndexedTs
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

// KeywordSearch filters with LIKE and scores by query-term overlap in process.
func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.KnowledgeChunk, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	terms := queryTerms(opts.Query)
	if len(terms) == 0 {
		return []*store.KnowledgeChunk{}, nil
	}

	where, args := buildFilters(opts.Filters)
	likeClauses := make([]string, 0, len(terms))
	for _, term := range terms {
		likeClauses = append(likeClauses, "content LIKE ?")
		args = append(args, "%"+term+"%")
	}
	likeWhere := "(" + strings.Join(likeClauses, " OR ") + ")"
	if where != "" {
		where += " AND " + likeWhere
	} else {
		where = likeWhere
	}

	query := `
		SELECT id, document_id, content, title, category, tags, indexed_ts
		FROM knowledge_chunk
		WHERE ` + where + `
		ORDER BY indexed_ts DESC LIMIT ?`
	args = append(args, candidateLimit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to keyword search")
	}
	defer rows.Close()

	chunks := []*store.KnowledgeChunk{}
	for rows.Next() {
		var chunk store.KnowledgeChunk
		var tagsJSON string
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Text,
			&chunk.Metadata.Title,
			&chunk.Metadata.Category,
			&tagsJSON,
			&chunk.IndexedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge chunk")
		}
		decodeTags(tagsJSON, &chunk)
		chunk.Score = TermOverlapScore(terms, chunk.Text)
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].IndexedTs > chunks[j].IndexedTs
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

// TermOverlapScore returns the fraction of query terms present in the text.
func TermOverlapScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func buildFilters(filters store.SearchFilters) (string, []any) {
	clauses := []string{}
	args := []any{}
	if filters.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filters.Category)
	}
	// Tags are stored as a JSON array; match any requested tag.
	if len(filters.Tags) > 0 {
		tagClauses := make([]string, 0, len(filters.Tags))
		for _, tag := range filters.Tags {
			tagClauses = append(tagClauses, "tags LIKE ?")
			args = append(args, `%"`+tag+`"%`)
		}
		clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
	}
	return strings.Join(clauses, " AND "), args
}

func decodeTags(tagsJSON string, chunk *store.KnowledgeChunk) {
	if tagsJSON == "" {
		return
	}
	// Tolerate malformed tag payloads rather than failing the search.
	_ = json.Unmarshal([]byte(tagsJSON), &chunk.Metadata.Tags)
}
