package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/everkeep/everkeep/internal/reminder"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// CreateReminder schedules a notification for a memory. When the request
// names no channels the reminder defaults to email plus the memory's capture
// channel.
func (h *Handlers) CreateReminder(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		MemoryID string                `json:"memory_id"`
		Title    string                `json:"title"`
		Summary  string                `json:"summary"`
		RemindAt time.Time             `json:"remind_at"`
		Channels []types.NotifyChannel `json:"channels"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	memory, err := h.store.GetMemory(r.Context(), user, req.MemoryID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	title := req.Title
	if title == "" {
		title = memory.Snippet(80)
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = reminder.DefaultChannels(memory.SourcePlatform)
	}

	now := time.Now().UTC()
	rem := &types.Reminder{
		ID:        uuid.NewString(),
		MemoryID:  memory.ID,
		UserID:    user,
		Title:     title,
		Summary:   req.Summary,
		RemindAt:  req.RemindAt.UTC(),
		Channels:  channels,
		Status:    types.ReminderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rem.Validate(now); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateReminder(r.Context(), rem); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"reminder": rem})
}

// ListReminders returns the caller's reminders, newest first.
func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	opts := listOptions(r)
	reminders, err := h.store.ListReminders(r.Context(), user, opts)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"reminders": reminders,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// GetReminder returns a single reminder.
func (h *Handlers) GetReminder(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	rem, err := h.store.GetReminder(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reminder": rem})
}

// UpdateReminder patches a pending reminder. Reminders that have fired, been
// cancelled, or are already due answer 409.
func (h *Handlers) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title    *string                `json:"title"`
		Summary  *string                `json:"summary"`
		RemindAt *time.Time             `json:"remind_at"`
		Channels *[]types.NotifyChannel `json:"channels"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rem, err := h.store.GetReminder(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	now := time.Now().UTC()
	if err := rem.CanModify(now); err != nil {
		respondStorageError(w, fmt.Errorf("%w: %v", storage.ErrConflict, err))
		return
	}

	if req.Title != nil && *req.Title != "" {
		rem.Title = *req.Title
	}
	if req.Summary != nil {
		rem.Summary = *req.Summary
	}
	if req.RemindAt != nil {
		if !req.RemindAt.After(now) {
			respondError(w, http.StatusBadRequest, "remind_at must be in the future")
			return
		}
		rem.RemindAt = req.RemindAt.UTC()
	}
	if req.Channels != nil && len(*req.Channels) > 0 {
		rem.Channels = *req.Channels
	}
	rem.UpdatedAt = now

	if err := h.store.UpdateReminder(r.Context(), rem); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reminder": rem})
}

// CancelReminder cancels a pending reminder. Cancellation is terminal; the
// scan loop never picks a cancelled reminder up.
func (h *Handlers) CancelReminder(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	rem, err := h.store.GetReminder(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	if err := rem.CanModify(time.Now().UTC()); err != nil {
		respondStorageError(w, fmt.Errorf("%w: %v", storage.ErrConflict, err))
		return
	}

	if err := h.store.SetReminderStatus(r.Context(), rem.ID, types.ReminderCancelled, nil); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
