package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// memoryColumns is the canonical SELECT column list for the memories table.
// It must match the scan order in scanMemory.
const memoryColumns = `
	id, user_id, title, content, summary, embedding, category_id,
	source_platform, occurred_at, created_at, updated_at, deleted_at
`

// Create inserts a new memory row.
func (s *Store) CreateMemory(ctx context.Context, memory *types.Memory) error {
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	memory.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, title, content, summary, embedding, category_id,
			source_platform, occurred_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		memory.ID, memory.UserID, memory.Title, memory.Content, memory.Summary,
		encodeEmbedding(memory.Embedding), nullString(memory.CategoryID),
		string(memory.SourcePlatform), nullTime(memory.OccurredAt),
		memory.CreatedAt, memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create memory: %w", err)
	}
	return nil
}

// Get retrieves a memory scoped to its owning user. Soft-deleted rows and
// rows owned by other users both report ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, userID, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, id, userID)

	memory, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get memory: %w", err)
	}
	return memory, nil
}

// List returns a user's memories, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string, opts storage.ListOptions) ([]types.Memory, error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// Update rewrites the content fields and embedding of an existing memory.
func (s *Store) UpdateMemory(ctx context.Context, memory *types.Memory) error {
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	memory.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET title = ?, content = ?, summary = ?, embedding = ?,
			category_id = ?, occurred_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`,
		memory.Title, memory.Content, memory.Summary,
		encodeEmbedding(memory.Embedding), nullString(memory.CategoryID),
		nullTime(memory.OccurredAt), memory.UpdatedAt,
		memory.ID, memory.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update memory: %w", err)
	}
	return requireRowAffected(result)
}

// Delete soft-deletes a memory by setting deleted_at.
func (s *Store) DeleteMemory(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, time.Now().UTC(), time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: delete memory: %w", err)
	}
	return requireRowAffected(result)
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan path.
type scanner interface {
	Scan(dest ...any) error
}

// scanMemory scans a single row into a types.Memory. The column order must
// match memoryColumns.
func scanMemory(row scanner) (*types.Memory, error) {
	var memory types.Memory
	var embedding []byte
	var categoryID sql.NullString
	var sourcePlatform string
	var occurredAt, deletedAt sql.NullTime

	err := row.Scan(
		&memory.ID, &memory.UserID, &memory.Title, &memory.Content,
		&memory.Summary, &embedding, &categoryID, &sourcePlatform,
		&occurredAt, &memory.CreatedAt, &memory.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	memory.Embedding, err = decodeEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("memory %s: %w", memory.ID, err)
	}
	memory.SourcePlatform = types.Channel(sourcePlatform)
	if categoryID.Valid {
		memory.CategoryID = categoryID.String
	}
	if occurredAt.Valid {
		t := occurredAt.Time
		memory.OccurredAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		memory.DeletedAt = &t
	}
	return &memory, nil
}

// scanMemories reads all rows into a slice.
func scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	var memories []types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan memory row: %w", err)
		}
		memories = append(memories, *memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return memories, nil
}

// requireRowAffected converts a zero-row UPDATE into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
