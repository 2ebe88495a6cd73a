// Package storage provides composable storage interfaces for the Everkeep
// system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Every query is scoped to
// a single user and excludes soft-deleted rows unless stated otherwise; the
// durable store is the single source of truth when process-local structures
// (dedup cache, session chains) are reset.
package storage

import (
	"context"
	"time"

	"github.com/everkeep/everkeep/pkg/types"
)

// MemoryStore provides CRUD operations for memories.
type MemoryStore interface {
	// CreateMemory inserts a new memory. The embedding must already be computed.
	CreateMemory(ctx context.Context, memory *types.Memory) error

	// GetMemory retrieves a memory by ID, scoped to the owning user.
	// Returns ErrNotFound for missing rows and rows owned by other users.
	GetMemory(ctx context.Context, userID, id string) (*types.Memory, error)

	// ListMemories retrieves a user's memories, newest first.
	ListMemories(ctx context.Context, userID string, opts ListOptions) ([]types.Memory, error)

	// UpdateMemory modifies content fields and the embedding of an existing memory.
	UpdateMemory(ctx context.Context, memory *types.Memory) error

	// DeleteMemory soft-deletes a memory by setting its deleted_at timestamp.
	DeleteMemory(ctx context.Context, userID, id string) error
}

// SearchProvider provides full-text and vector search over a user's
// memories. Both operations exclude soft-deleted rows and never return rows
// belonging to another user.
type SearchProvider interface {
	// FullTextSearch performs lexical search across memory title and
	// content, best match first.
	FullTextSearch(ctx context.Context, userID, query string, limit int) ([]types.Memory, error)

	// VectorSearch performs nearest-neighbor search by cosine similarity,
	// returning matches at or above minSimilarity, best first.
	VectorSearch(ctx context.Context, userID string, embedding []float32, minSimilarity float64, limit int) ([]ScoredMemory, error)
}

// TagStore manages tags and memory↔tag associations.
type TagStore interface {
	// GetOrCreateTag returns the user's tag with the given name, creating
	// it (with the supplied normalized form) when absent.
	GetOrCreateTag(ctx context.Context, tag *types.Tag) (*types.Tag, error)

	// ListTags returns all of a user's tags ordered by usage descending.
	ListTags(ctx context.Context, userID string) ([]types.Tag, error)

	// AssociateTag links a memory to a tag and increments the tag's usage
	// count. Linking an already-linked pair is a no-op.
	AssociateTag(ctx context.Context, memoryID, tagID string) error

	// MemoryIDsForTag returns the memories associated with a tag.
	MemoryIDsForTag(ctx context.Context, tagID string) ([]string, error)

	// TagsForMemory returns the tags associated with a memory.
	TagsForMemory(ctx context.Context, memoryID string) ([]types.Tag, error)

	// ReassignTagAssociations moves every (memory, fromTag) association to
	// (memory, toTag), dropping rows where the memory already carries the
	// destination tag instead of creating duplicates.
	ReassignTagAssociations(ctx context.Context, fromTagID, toTagID string) error

	// AddTagUsage adjusts a tag's usage count by delta.
	AddTagUsage(ctx context.Context, tagID string, delta int) error

	// DeleteTag removes a tag row. Associations must have been reassigned
	// or removed first.
	DeleteTag(ctx context.Context, tagID string) error
}

// RelationshipStore persists canonical, non-duplicated edges between
// memories. Implementations must enforce one row per unordered pair.
type RelationshipStore interface {
	// UpsertAuto inserts an auto edge for the canonical pair, or refreshes
	// the score of an existing auto edge. Manual edges are left untouched.
	UpsertAuto(ctx context.Context, aID, bID string, score float64) error

	// UpsertManual inserts a manual edge with score 1.0, or upgrades an
	// existing edge to manual.
	UpsertManual(ctx context.Context, aID, bID string) error

	// GetRelationship returns the edge for the unordered pair {aID, bID}.
	GetRelationship(ctx context.Context, aID, bID string) (*types.Relationship, error)

	// DeleteRelationship removes the edge for the unordered pair {aID, bID}.
	DeleteRelationship(ctx context.Context, aID, bID string) error

	// NeighborIDs returns up to limit memory IDs connected to memoryID,
	// strongest edges first.
	NeighborIDs(ctx context.Context, memoryID string, limit int) ([]string, error)
}

// ReminderStore persists reminders and their status transitions.
type ReminderStore interface {
	CreateReminder(ctx context.Context, reminder *types.Reminder) error
	GetReminder(ctx context.Context, userID, id string) (*types.Reminder, error)
	ListReminders(ctx context.Context, userID string, opts ListOptions) ([]types.Reminder, error)

	// UpdateReminder rewrites the editable fields (title, summary,
	// remind_at, channels) of a reminder.
	UpdateReminder(ctx context.Context, reminder *types.Reminder) error

	// DueReminders returns pending reminders with remind_at <= t, oldest first.
	DueReminders(ctx context.Context, t time.Time, limit int) ([]types.Reminder, error)

	// SetReminderStatus transitions a reminder's status, recording sentAt
	// for successful dispatches.
	SetReminderStatus(ctx context.Context, id string, status types.ReminderStatus, sentAt *time.Time) error
}

// ConversationStore persists per-(user, channel) dialogue state.
type ConversationStore interface {
	// GetConversation returns the live state row. Returns ErrNotFound on
	// first contact.
	GetConversation(ctx context.Context, userID string, channel types.Channel) (*types.ConversationState, error)

	// SaveConversation upserts the state row.
	SaveConversation(ctx context.Context, state *types.ConversationState) error
}

// IdentityStore maps provider-side user identifiers onto internal user IDs.
// Account linking itself happens in the external identity provider; this
// store only records the resulting mapping.
type IdentityStore interface {
	// LookupIdentity resolves an external user reference to the internal
	// user ID. Returns ErrNotFound when the account has not been linked.
	LookupIdentity(ctx context.Context, channel types.Channel, externalUserID string) (string, error)

	// LookupExternalRef resolves the reverse direction, for outbound sends.
	LookupExternalRef(ctx context.Context, userID string, channel types.Channel) (string, error)

	// LinkIdentity records a mapping, replacing any previous mapping for
	// the same (channel, external user) pair.
	LinkIdentity(ctx context.Context, channel types.Channel, externalUserID, userID string) error
}

// Store aggregates every persistence concern the server wires together.
// Both the Postgres and SQLite backends implement it.
type Store interface {
	MemoryStore
	SearchProvider
	TagStore
	RelationshipStore
	ReminderStore
	ConversationStore
	IdentityStore

	// Close releases the underlying database resources.
	Close() error
}
