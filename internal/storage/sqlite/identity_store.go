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

// LookupIdentity resolves an external user reference to the internal user ID.
func (s *Store) LookupIdentity(ctx context.Context, channel types.Channel, externalUserID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM channel_identities
		WHERE channel = ? AND external_user_id = ?
	`, string(channel), externalUserID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("sqlite: lookup identity: %w", err)
	}
	return userID, nil
}

// LookupExternalRef resolves the reverse direction, for outbound sends.
func (s *Store) LookupExternalRef(ctx context.Context, userID string, channel types.Channel) (string, error) {
	var externalUserID string
	err := s.db.QueryRowContext(ctx, `
		SELECT external_user_id FROM channel_identities
		WHERE user_id = ? AND channel = ?
	`, userID, string(channel)).Scan(&externalUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("sqlite: lookup external ref: %w", err)
	}
	return externalUserID, nil
}

// LinkIdentity records a mapping, replacing any previous mapping for the same
// (channel, external user) pair.
func (s *Store) LinkIdentity(ctx context.Context, channel types.Channel, externalUserID, userID string) error {
	if channel == "" || externalUserID == "" || userID == "" {
		return fmt.Errorf("%w: channel, external_user_id and user_id are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_identities (channel, external_user_id, user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, external_user_id) DO UPDATE SET
			user_id = excluded.user_id
	`, string(channel), externalUserID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: link identity: %w", err)
	}
	return nil
}
