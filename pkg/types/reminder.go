package types

import (
	"fmt"
	"time"
)

// ReminderStatus is the lifecycle state of a reminder.
type ReminderStatus string

const (
	// ReminderPending means the reminder has not fired yet.
	ReminderPending ReminderStatus = "pending"

	// ReminderSent means every configured channel was notified.
	ReminderSent ReminderStatus = "sent"

	// ReminderFailed means at least one dispatch failed; the scan loop
	// leaves retry policy to the caller.
	ReminderFailed ReminderStatus = "failed"

	// ReminderCancelled means the user cancelled the reminder before it fired.
	ReminderCancelled ReminderStatus = "cancelled"
)

// NotifyChannel is a delivery target for reminder notifications.
type NotifyChannel string

const (
	NotifyEmail    NotifyChannel = "email"
	NotifyTelegram NotifyChannel = "telegram"
	NotifyWhatsApp NotifyChannel = "whatsapp"
)

// NotifyChannelFor maps a message channel onto its reminder delivery target.
// The chat widget has no push surface, so it maps to nothing.
func NotifyChannelFor(c Channel) (NotifyChannel, bool) {
	switch c {
	case ChannelTelegram:
		return NotifyTelegram, true
	case ChannelWhatsApp:
		return NotifyWhatsApp, true
	}
	return "", false
}

// Reminder schedules a time-based notification tied to a memory.
//
// State machine: created pending; editable only while pending with RemindAt
// in the future; sent and cancelled are terminal; failed is terminal to user
// edits but may be re-dispatched by operator policy.
type Reminder struct {
	ID       string          `json:"id"`
	MemoryID string          `json:"memory_id"`
	UserID   string          `json:"user_id"`
	Title    string          `json:"title"`
	Summary  string          `json:"summary,omitempty"`
	RemindAt time.Time       `json:"remind_at"`
	Channels []NotifyChannel `json:"channels"`
	Status   ReminderStatus  `json:"status"`
	SentAt   *time.Time      `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a reminder at creation time. The remind time must be in
// the future relative to now.
func (r *Reminder) Validate(now time.Time) error {
	if r.ID == "" {
		return ErrMissingField("id")
	}
	if r.UserID == "" {
		return ErrMissingField("user_id")
	}
	if r.MemoryID == "" {
		return ErrMissingField("memory_id")
	}
	if r.Title == "" {
		return ErrMissingField("title")
	}
	if !r.RemindAt.After(now) {
		return &ValidationError{Field: "remind_at", Reason: "must be in the future"}
	}
	return nil
}

// CanModify reports whether the reminder may still be edited or cancelled:
// only while pending and before its remind time has passed. A pending
// reminder whose RemindAt is already in the past belongs to the scan loop
// and is no longer editable.
func (r *Reminder) CanModify(now time.Time) error {
	if r.Status != ReminderPending {
		return fmt.Errorf("reminder is %s and can no longer be modified", r.Status)
	}
	if !r.RemindAt.After(now) {
		return fmt.Errorf("reminder is already due and can no longer be modified")
	}
	return nil
}

// IsDue reports whether a pending reminder should be dispatched.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.Status == ReminderPending && !r.RemindAt.After(now)
}
