package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// FullTextSearch performs FTS5 search over title and content, best match
// first (bm25). When the strict all-terms query returns nothing, it retries
// once with OR semantics so near-miss phrasings still surface results.
func (s *Store) FullTextSearch(ctx context.Context, userID, query string, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	memories, err := s.ftsQuery(ctx, userID, buildMatchExpr(terms, " "), limit)
	if err != nil {
		return nil, err
	}

	if len(memories) == 0 && len(terms) > 1 {
		return s.ftsQuery(ctx, userID, buildMatchExpr(terms, " OR "), limit)
	}
	return memories, nil
}

// ftsQuery runs one FTS5 MATCH, scoped to the user and excluding
// soft-deleted rows.
func (s *Store) ftsQuery(ctx context.Context, userID, matchExpr string, limit int) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			m.id, m.user_id, m.title, m.content, m.summary, m.embedding,
			m.category_id, m.source_platform, m.occurred_at, m.created_at,
			m.updated_at, m.deleted_at
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.user_id = ? AND m.deleted_at IS NULL
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, matchExpr, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: full-text search %q: %w", matchExpr, err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// buildMatchExpr quotes each term so user input cannot inject FTS5 syntax,
// then joins with the given operator.
func buildMatchExpr(terms []string, op string) string {
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(quoted, op)
}

// VectorSearch performs nearest-neighbor search by scanning the user's
// embeddings and computing cosine similarity in process. SQLite has no
// vector index, so this is a deliberate brute-force pass over one user's
// rows; the Postgres backend uses pgvector for the same contract.
func (s *Store) VectorSearch(ctx context.Context, userID string, embedding []float32, minSimilarity float64, limit int) ([]storage.ScoredMemory, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = ? AND deleted_at IS NULL AND embedding IS NOT NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	var scored []storage.ScoredMemory
	for _, memory := range memories {
		sim := cosineSimilarity(embedding, memory.Embedding)
		if sim < minSimilarity {
			continue
		}
		scored = append(scored, storage.ScoredMemory{Memory: memory, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
