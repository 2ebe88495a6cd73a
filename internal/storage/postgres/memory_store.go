package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// memoryColumns is the canonical SELECT column list for the memories table.
// It must match the scan order in scanMemory.
const memoryColumns = `
	id, user_id, title, content, summary, embedding, category_id,
	source_platform, occurred_at, created_at, updated_at, deleted_at
`

// CreateMemory inserts a new memory row.
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		memory.ID, memory.UserID, memory.Title, memory.Content, memory.Summary,
		vectorParam(memory.Embedding), nullableString(memory.CategoryID),
		string(memory.SourcePlatform), nullableTime(memory.OccurredAt),
		memory.CreatedAt, memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create memory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory scoped to its owning user. Soft-deleted rows
// and rows owned by other users both report ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, userID, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, id, userID)

	memory, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get memory: %w", err)
	}
	return memory, nil
}

// ListMemories returns a user's memories, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string, opts storage.ListOptions) ([]types.Memory, error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// UpdateMemory rewrites the content fields and embedding of an existing memory.
func (s *Store) UpdateMemory(ctx context.Context, memory *types.Memory) error {
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	memory.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET title = $1, content = $2, summary = $3, embedding = $4,
			category_id = $5, occurred_at = $6, updated_at = $7
		WHERE id = $8 AND user_id = $9 AND deleted_at IS NULL
	`,
		memory.Title, memory.Content, memory.Summary,
		vectorParam(memory.Embedding), nullableString(memory.CategoryID),
		nullableTime(memory.OccurredAt), memory.UpdatedAt,
		memory.ID, memory.UserID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update memory: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteMemory soft-deletes a memory by setting deleted_at.
func (s *Store) DeleteMemory(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: delete memory: %w", err)
	}
	return requireRowAffected(result)
}

// scanner abstracts *sql.Row and *sql.Rows for the shared scan path.
type scanner interface {
	Scan(dest ...any) error
}

// nullVector scans a nullable pgvector column.
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (v *nullVector) Scan(src any) error {
	if src == nil {
		v.valid = false
		return nil
	}
	v.valid = true
	return v.vec.Scan(src)
}

// vectorParam converts an embedding to a pgvector parameter, NULL when empty.
func vectorParam(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// scanMemory scans a single row into a types.Memory. The column order must
// match memoryColumns.
func scanMemory(row scanner) (*types.Memory, error) {
	var memory types.Memory
	var embedding nullVector
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

	if embedding.valid {
		memory.Embedding = embedding.vec.Slice()
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
			return nil, fmt.Errorf("postgres: scan memory row: %w", err)
		}
		memories = append(memories, *memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return memories, nil
}

// requireRowAffected converts a zero-row UPDATE into ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nullableString converts a string to sql.NullString (NULL when empty).
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullableTime converts a *time.Time to sql.NullTime (NULL when nil).
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
