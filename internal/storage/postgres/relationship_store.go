package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// UpsertAuto inserts an auto edge for the canonical pair, or refreshes the
// score of an existing auto edge. The conditional DO UPDATE leaves manual
// edges untouched so discovery can never downgrade a user-created link.
func (s *Store) UpsertAuto(ctx context.Context, aID, bID string, score float64) error {
	first, second, err := canonicalEdge(aID, bID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			memory_a_id, memory_b_id, relation_type, similarity_score,
			created_at, updated_at
		) VALUES ($1, $2, 'auto', $3, $4, $4)
		ON CONFLICT (memory_a_id, memory_b_id) DO UPDATE SET
			similarity_score = EXCLUDED.similarity_score,
			updated_at = EXCLUDED.updated_at
		WHERE relationships.relation_type = 'auto'
	`, first, second, score, now)
	if err != nil {
		return fmt.Errorf("postgres: upsert auto relationship: %w", err)
	}
	return nil
}

// UpsertManual inserts a manual edge with score 1.0, or upgrades an existing
// edge to manual.
func (s *Store) UpsertManual(ctx context.Context, aID, bID string) error {
	first, second, err := canonicalEdge(aID, bID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			memory_a_id, memory_b_id, relation_type, similarity_score,
			created_at, updated_at
		) VALUES ($1, $2, 'manual', 1.0, $3, $3)
		ON CONFLICT (memory_a_id, memory_b_id) DO UPDATE SET
			relation_type = 'manual',
			similarity_score = 1.0,
			updated_at = EXCLUDED.updated_at
	`, first, second, now)
	if err != nil {
		return fmt.Errorf("postgres: upsert manual relationship: %w", err)
	}
	return nil
}

// GetRelationship returns the edge for the unordered pair {aID, bID}.
func (s *Store) GetRelationship(ctx context.Context, aID, bID string) (*types.Relationship, error) {
	first, second, err := canonicalEdge(aID, bID)
	if err != nil {
		return nil, err
	}

	var rel types.Relationship
	var relType string
	err = s.db.QueryRowContext(ctx, `
		SELECT memory_a_id, memory_b_id, relation_type, similarity_score,
			created_at, updated_at
		FROM relationships
		WHERE memory_a_id = $1 AND memory_b_id = $2
	`, first, second).Scan(
		&rel.MemoryAID, &rel.MemoryBID, &relType, &rel.SimilarityScore,
		&rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get relationship: %w", err)
	}
	rel.Type = types.RelationType(relType)
	return &rel, nil
}

// DeleteRelationship removes the edge for the unordered pair {aID, bID}.
func (s *Store) DeleteRelationship(ctx context.Context, aID, bID string) error {
	first, second, err := canonicalEdge(aID, bID)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM relationships WHERE memory_a_id = $1 AND memory_b_id = $2
	`, first, second)
	if err != nil {
		return fmt.Errorf("postgres: delete relationship: %w", err)
	}
	return requireRowAffected(result)
}

// NeighborIDs returns up to limit memory IDs connected to memoryID, strongest
// edges first.
func (s *Store) NeighborIDs(ctx context.Context, memoryID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN memory_a_id = $1 THEN memory_b_id ELSE memory_a_id END
		FROM relationships
		WHERE memory_a_id = $1 OR memory_b_id = $1
		ORDER BY similarity_score DESC, updated_at DESC
		LIMIT $2
	`, memoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: neighbor ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// canonicalEdge validates and orders an edge's endpoints. Self-edges are
// rejected here so no backend can ever store one.
func canonicalEdge(aID, bID string) (string, string, error) {
	if aID == "" || bID == "" {
		return "", "", fmt.Errorf("%w: relationship endpoints are required", storage.ErrInvalidInput)
	}
	if aID == bID {
		return "", "", fmt.Errorf("%w: a memory cannot relate to itself", storage.ErrInvalidInput)
	}
	first, second := types.CanonicalPair(aID, bID)
	return first, second, nil
}
