package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// GetOrCreateTag returns the user's tag with the given name, creating it when
// absent.
func (s *Store) GetOrCreateTag(ctx context.Context, tag *types.Tag) (*types.Tag, error) {
	if tag.UserID == "" || tag.Name == "" {
		return nil, fmt.Errorf("%w: tag user_id and name are required", storage.ErrInvalidInput)
	}

	existing, err := s.getTagByName(ctx, tag.UserID, tag.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tags (id, user_id, name, normalized_name, usage_count)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (user_id, name) DO NOTHING
	`, tag.ID, tag.UserID, tag.Name, tag.NormalizedName)
	if err != nil {
		return nil, fmt.Errorf("postgres: create tag: %w", err)
	}

	// Re-read to cover the lost-insert race under ON CONFLICT.
	return s.getTagByName(ctx, tag.UserID, tag.Name)
}

func (s *Store) getTagByName(ctx context.Context, userID, name string) (*types.Tag, error) {
	var tag types.Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, normalized_name, usage_count
		FROM tags WHERE user_id = $1 AND name = $2
	`, userID, name).Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.NormalizedName, &tag.UsageCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get tag by name: %w", err)
	}
	return &tag, nil
}

// ListTags returns all of a user's tags ordered by usage descending.
func (s *Store) ListTags(ctx context.Context, userID string) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, normalized_name, usage_count
		FROM tags WHERE user_id = $1
		ORDER BY usage_count DESC, name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []types.Tag
	for rows.Next() {
		var tag types.Tag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.NormalizedName, &tag.UsageCount); err != nil {
			return nil, fmt.Errorf("postgres: scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// AssociateTag links a memory to a tag, incrementing usage only when a new
// association row was actually inserted.
func (s *Store) AssociateTag(ctx context.Context, memoryID, tagID string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_tags (memory_id, tag_id) VALUES ($1, $2)
		ON CONFLICT (memory_id, tag_id) DO NOTHING
	`, memoryID, tagID)
	if err != nil {
		return fmt.Errorf("postgres: associate tag: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: associate tag rows affected: %w", err)
	}
	if n == 0 {
		return nil
	}
	return s.AddTagUsage(ctx, tagID, 1)
}

// MemoryIDsForTag returns the memories associated with a tag.
func (s *Store) MemoryIDsForTag(ctx context.Context, tagID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id FROM memory_tags WHERE tag_id = $1`, tagID)
	if err != nil {
		return nil, fmt.Errorf("postgres: memories for tag: %w", err)
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

// TagsForMemory returns the tags associated with a memory.
func (s *Store) TagsForMemory(ctx context.Context, memoryID string) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.name, t.normalized_name, t.usage_count
		FROM memory_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.memory_id = $1
		ORDER BY t.name ASC
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: tags for memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []types.Tag
	for rows.Next() {
		var tag types.Tag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.NormalizedName, &tag.UsageCount); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ReassignTagAssociations moves every association from one tag to another in
// a single transaction. Memories that already carry the destination tag keep
// that single row; the duplicate source row is dropped rather than doubled.
func (s *Store) ReassignTagAssociations(ctx context.Context, fromTagID, toTagID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: reassign associations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE memory_tags SET tag_id = $1
		WHERE tag_id = $2
		AND memory_id NOT IN (SELECT memory_id FROM memory_tags WHERE tag_id = $1)
	`, toTagID, fromTagID)
	if err != nil {
		return fmt.Errorf("postgres: reassign associations update: %w", err)
	}

	// Whatever is left under the source tag duplicates the destination.
	_, err = tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE tag_id = $1`, fromTagID)
	if err != nil {
		return fmt.Errorf("postgres: reassign associations cleanup: %w", err)
	}

	return tx.Commit()
}

// AddTagUsage adjusts a tag's usage count by delta.
func (s *Store) AddTagUsage(ctx context.Context, tagID string, delta int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tags SET usage_count = usage_count + $1 WHERE id = $2`, delta, tagID)
	if err != nil {
		return fmt.Errorf("postgres: add tag usage: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteTag removes a tag row.
func (s *Store) DeleteTag(ctx context.Context, tagID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, tagID)
	if err != nil {
		return fmt.Errorf("postgres: delete tag: %w", err)
	}
	return requireRowAffected(result)
}
