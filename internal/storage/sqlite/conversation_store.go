package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// GetConversation returns the live state row for (user, channel). First
// contact reports ErrNotFound; the caller initializes fresh state.
func (s *Store) GetConversation(ctx context.Context, userID string, channel types.Channel) (*types.ConversationState, error) {
	var state types.ConversationState
	var history, mode string

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, channel, history, mode, pending_question,
			created_at, updated_at
		FROM conversations WHERE user_id = ? AND channel = ?
	`, userID, string(channel)).Scan(
		&state.UserID, &state.Channel, &history, &mode, &state.PendingQuestion,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(history), &state.History); err != nil {
		return nil, fmt.Errorf("sqlite: decode conversation history: %w", err)
	}
	state.Mode = types.ConversationMode(mode)
	return &state, nil
}

// SaveConversation upserts the state row for (user, channel).
func (s *Store) SaveConversation(ctx context.Context, state *types.ConversationState) error {
	if state.UserID == "" || state.Channel == "" {
		return fmt.Errorf("%w: conversation user_id and channel are required", storage.ErrInvalidInput)
	}

	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("sqlite: encode conversation history: %w", err)
	}

	now := time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			user_id, channel, history, mode, pending_question,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel) DO UPDATE SET
			history = excluded.history,
			mode = excluded.mode,
			pending_question = excluded.pending_question,
			updated_at = excluded.updated_at
	`,
		state.UserID, string(state.Channel), string(history),
		string(state.Mode), state.PendingQuestion,
		state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save conversation: %w", err)
	}
	return nil
}
