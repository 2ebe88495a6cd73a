package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// FullTextSearch performs tsvector search over title and content, ranked by
// ts_rank. When the strict all-terms query returns nothing, it retries once
// with OR semantics so near-miss phrasings still surface results.
func (s *Store) FullTextSearch(ctx context.Context, userID, query string, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	memories, err := s.ftsQuery(ctx, userID, "plainto_tsquery('english', $1)", query, limit)
	if err != nil {
		return nil, err
	}

	if len(memories) == 0 && len(terms) > 1 {
		// plainto_tsquery ANDs all terms; join sanitized lexemes with | for
		// the relaxed retry.
		relaxed := strings.Join(sanitizeTerms(terms), " | ")
		if relaxed == "" {
			return nil, nil
		}
		return s.ftsQuery(ctx, userID, "to_tsquery('english', $1)", relaxed, limit)
	}
	return memories, nil
}

// ftsQuery runs one tsquery expression, scoped to the user and excluding
// soft-deleted rows.
func (s *Store) ftsQuery(ctx context.Context, userID, tsqueryExpr, query string, limit int) ([]types.Memory, error) {
	sqlQuery := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE content_tsv @@ ` + tsqueryExpr + `
			AND user_id = $2 AND deleted_at IS NULL
		ORDER BY ts_rank(content_tsv, ` + tsqueryExpr + `) DESC, created_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, sqlQuery, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: full-text search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// sanitizeTerms strips tsquery syntax characters so user input cannot break
// the to_tsquery expression used by the OR retry.
func sanitizeTerms(terms []string) []string {
	var out []string
	for _, term := range terms {
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case '&', '|', '!', '(', ')', ':', '*', '\'', '\\', '<', '>':
				return -1
			}
			return r
		}, term)
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// VectorSearch performs nearest-neighbor search using pgvector cosine
// distance. Cosine similarity is 1 - distance; the threshold filter runs in
// the database so the ivfflat index can serve the ORDER BY.
func (s *Store) VectorSearch(ctx context.Context, userID string, embedding []float32, minSimilarity float64, limit int) ([]storage.ScoredMemory, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(embedding)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`,
			1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE user_id = $2 AND deleted_at IS NULL AND embedding IS NOT NULL
			AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $4
	`, vec, userID, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []storage.ScoredMemory
	for rows.Next() {
		var memory types.Memory
		var emb nullVector
		var categoryID sql.NullString
		var sourcePlatform string
		var occurredAt, deletedAt sql.NullTime
		var similarity float64

		err := rows.Scan(
			&memory.ID, &memory.UserID, &memory.Title, &memory.Content,
			&memory.Summary, &emb, &categoryID, &sourcePlatform,
			&occurredAt, &memory.CreatedAt, &memory.UpdatedAt, &deletedAt,
			&similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored memory: %w", err)
		}

		if emb.valid {
			memory.Embedding = emb.vec.Slice()
		}
		memory.SourcePlatform = types.Channel(sourcePlatform)
		if categoryID.Valid {
			memory.CategoryID = categoryID.String
		}
		if occurredAt.Valid {
			t := occurredAt.Time
			memory.OccurredAt = &t
		}

		scored = append(scored, storage.ScoredMemory{Memory: memory, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return scored, nil
}
