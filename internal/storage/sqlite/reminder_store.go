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

const reminderColumns = `
	id, memory_id, user_id, title, summary, remind_at, channels, status,
	sent_at, created_at, updated_at
`

// CreateReminder inserts a new reminder row.
func (s *Store) CreateReminder(ctx context.Context, reminder *types.Reminder) error {
	now := time.Now().UTC()
	if err := reminder.Validate(now); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if reminder.Status == "" {
		reminder.Status = types.ReminderPending
	}
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = now
	}
	reminder.UpdatedAt = now

	channels, err := json.Marshal(reminder.Channels)
	if err != nil {
		return fmt.Errorf("sqlite: marshal reminder channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminders (
			id, memory_id, user_id, title, summary, remind_at, channels,
			status, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		reminder.ID, reminder.MemoryID, reminder.UserID, reminder.Title,
		reminder.Summary, reminder.RemindAt.UTC(), string(channels),
		string(reminder.Status), nullTime(reminder.SentAt),
		reminder.CreatedAt, reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create reminder: %w", err)
	}
	return nil
}

// GetReminder retrieves a reminder scoped to its owning user.
func (s *Store) GetReminder(ctx context.Context, userID, id string) (*types.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders WHERE id = ? AND user_id = ?
	`, id, userID)

	reminder, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get reminder: %w", err)
	}
	return reminder, nil
}

// ListReminders returns a user's reminders, soonest remind time first.
func (s *Store) ListReminders(ctx context.Context, userID string, opts storage.ListOptions) ([]types.Reminder, error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders WHERE user_id = ?
		ORDER BY remind_at ASC
		LIMIT ? OFFSET ?
	`, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanReminders(rows)
}

// UpdateReminder rewrites the editable fields of a reminder. Status
// transitions go through SetReminderStatus instead.
func (s *Store) UpdateReminder(ctx context.Context, reminder *types.Reminder) error {
	channels, err := json.Marshal(reminder.Channels)
	if err != nil {
		return fmt.Errorf("sqlite: marshal reminder channels: %w", err)
	}
	reminder.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders
		SET title = ?, summary = ?, remind_at = ?, channels = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`,
		reminder.Title, reminder.Summary, reminder.RemindAt.UTC(),
		string(channels), reminder.UpdatedAt, reminder.ID, reminder.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update reminder: %w", err)
	}
	return requireRowAffected(result)
}

// DueReminders returns pending reminders with remind_at <= t, oldest first.
// The scan loop processes them in firing order.
func (s *Store) DueReminders(ctx context.Context, t time.Time, limit int) ([]types.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = ? AND remind_at <= ?
		ORDER BY remind_at ASC
		LIMIT ?
	`, string(types.ReminderPending), t.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: due reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanReminders(rows)
}

// SetReminderStatus transitions a reminder's status, recording sentAt for
// successful dispatches.
func (s *Store) SetReminderStatus(ctx context.Context, id string, status types.ReminderStatus, sentAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = ?, sent_at = ?, updated_at = ? WHERE id = ?
	`, string(status), nullTime(sentAt), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: set reminder status: %w", err)
	}
	return requireRowAffected(result)
}

func scanReminder(row scanner) (*types.Reminder, error) {
	var reminder types.Reminder
	var channels, status string
	var summary sql.NullString
	var sentAt sql.NullTime

	err := row.Scan(
		&reminder.ID, &reminder.MemoryID, &reminder.UserID, &reminder.Title,
		&summary, &reminder.RemindAt, &channels, &status, &sentAt,
		&reminder.CreatedAt, &reminder.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(channels), &reminder.Channels); err != nil {
		return nil, fmt.Errorf("reminder %s: decode channels: %w", reminder.ID, err)
	}
	reminder.Status = types.ReminderStatus(status)
	if summary.Valid {
		reminder.Summary = summary.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		reminder.SentAt = &t
	}
	return &reminder, nil
}

func scanReminders(rows *sql.Rows) ([]types.Reminder, error) {
	var reminders []types.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan reminder row: %w", err)
		}
		reminders = append(reminders, *reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return reminders, nil
}
