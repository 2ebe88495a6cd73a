package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReminder(remindAt time.Time) *Reminder {
	return &Reminder{
		ID:       "rem:1",
		MemoryID: "mem:1",
		UserID:   "user:1",
		Title:    "Call the dentist",
		RemindAt: remindAt,
		Channels: []NotifyChannel{NotifyEmail},
		Status:   ReminderPending,
	}
}

func TestReminderValidate(t *testing.T) {
	now := time.Now()

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validReminder(now.Add(time.Hour)).Validate(now))
	})

	t.Run("past remind time rejected", func(t *testing.T) {
		err := validReminder(now.Add(-time.Minute)).Validate(now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remind_at")
	})

	t.Run("remind time equal to now rejected", func(t *testing.T) {
		require.Error(t, validReminder(now).Validate(now))
	})

	t.Run("missing title rejected", func(t *testing.T) {
		r := validReminder(now.Add(time.Hour))
		r.Title = ""
		require.Error(t, r.Validate(now))
	})
}

func TestReminderCanModify(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		status   ReminderStatus
		remindAt time.Time
		wantErr  bool
	}{
		{"pending and future", ReminderPending, now.Add(time.Hour), false},
		{"pending but already due", ReminderPending, now.Add(-time.Second), true},
		{"sent is immutable", ReminderSent, now.Add(time.Hour), true},
		{"cancelled is immutable", ReminderCancelled, now.Add(time.Hour), true},
		{"failed is immutable to user edits", ReminderFailed, now.Add(time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReminder(tt.remindAt)
			r.Status = tt.status
			err := r.CanModify(now)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReminderIsDue(t *testing.T) {
	now := time.Now()

	due := validReminder(now.Add(-time.Minute))
	assert.True(t, due.IsDue(now))

	future := validReminder(now.Add(time.Minute))
	assert.False(t, future.IsDue(now))

	sent := validReminder(now.Add(-time.Minute))
	sent.Status = ReminderSent
	assert.False(t, sent.IsDue(now))
}

func TestNotifyChannelFor(t *testing.T) {
	ch, ok := NotifyChannelFor(ChannelTelegram)
	require.True(t, ok)
	assert.Equal(t, NotifyTelegram, ch)

	ch, ok = NotifyChannelFor(ChannelWhatsApp)
	require.True(t, ok)
	assert.Equal(t, NotifyWhatsApp, ch)

	_, ok = NotifyChannelFor(ChannelChat)
	assert.False(t, ok)
}
