package types

import "time"

// ConversationMode tells the orchestrator how to interpret the next message
// when intent is ambiguous.
type ConversationMode string

const (
	// ModeRecall answers questions against stored memories.
	ModeRecall ConversationMode = "recall"

	// ModeCreate captures incoming content as new memories.
	ModeCreate ConversationMode = "create"
)

// HistoryWindow caps the rolling message history kept per conversation.
// Older turns are dropped, never the durable memories derived from them.
const HistoryWindow = 40

// Turn is one exchange entry in a conversation history.
type Turn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	Content string `json:"content"`
}

// ConversationState is the durable per-user, per-channel dialogue state.
// One live row exists per (user, channel); it is created on first contact
// and updated after every exchange.
type ConversationState struct {
	UserID  string  `json:"user_id"`
	Channel Channel `json:"channel"`

	// History is the rolling exchange window, oldest first, capped at
	// HistoryWindow entries.
	History []Turn `json:"history"`

	Mode ConversationMode `json:"mode"`

	// PendingQuestion holds an enrichment question the assistant asked and
	// is awaiting an answer to, if any.
	PendingQuestion string `json:"pending_question,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState initializes state for a user's first message on a
// channel. New conversations start in recall mode; capture is opted into by
// intent.
func NewConversationState(userID string, channel Channel, now time.Time) *ConversationState {
	return &ConversationState{
		UserID:    userID,
		Channel:   channel,
		Mode:      ModeRecall,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn and trims the history to the rolling window.
func (s *ConversationState) Append(role, content string) {
	s.History = append(s.History, Turn{Role: role, Content: content})
	if len(s.History) > HistoryWindow {
		s.History = s.History[len(s.History)-HistoryWindow:]
	}
}

// LastUserTurns returns up to n most recent user turns, oldest first.
func (s *ConversationState) LastUserTurns(n int) []Turn {
	var out []Turn
	for i := len(s.History) - 1; i >= 0 && len(out) < n; i-- {
		if s.History[i].Role == "user" {
			out = append(out, s.History[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
