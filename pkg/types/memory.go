package types

import (
	"strings"
	"time"
)

// Memory is a single captured memory owned by exactly one user.
//
// The embedding is computed by the external embedding service at create and
// update time; retrieval operations assume it is present. Deletion is always
// soft (DeletedAt set) so retrieval can exclude deleted rows without losing
// history.
type Memory struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`

	// Embedding is the fixed-dimension semantic vector for the content.
	Embedding []float32 `json:"-"`

	CategoryID string `json:"category_id,omitempty"`

	// SourcePlatform is the channel the memory was captured from.
	SourcePlatform Channel `json:"source_platform"`

	// OccurredAt is the user-stated time the remembered event happened,
	// when it differs from capture time.
	OccurredAt *time.Time `json:"occurred_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks that the memory has the fields every stored row requires.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrMissingField("id")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return ErrMissingField("user_id")
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrMissingField("content")
	}
	return nil
}

// IsDeleted reports whether the memory has been soft-deleted.
func (m *Memory) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Snippet returns the first n runes of the content for display in recall
// replies and notifications.
func (m *Memory) Snippet(n int) string {
	r := []rune(strings.TrimSpace(m.Content))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// Tag is a user-scoped label attached to memories. UsageCount is a derived,
// eventually-consistent counter maintained as associations change.
type Tag struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	UsageCount     int    `json:"usage_count"`
}
