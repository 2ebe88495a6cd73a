package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestMemory(userID, content string, embedding []float32) *types.Memory {
	return &types.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          "Test memory",
		Content:        content,
		Embedding:      embedding,
		SourcePlatform: types.ChannelChat,
	}
}

func TestMemoryCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("user-1", "Bought oat milk at the farmers market", []float32{0.1, 0.2, 0.3})
	require.NoError(t, store.CreateMemory(ctx, memory))

	got, err := store.GetMemory(ctx, "user-1", memory.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.Content, got.Content)
	assert.Equal(t, memory.Embedding, got.Embedding)
	assert.Equal(t, types.ChannelChat, got.SourcePlatform)

	got.Content = "Bought oat milk and eggs at the farmers market"
	require.NoError(t, store.UpdateMemory(ctx, got))

	updated, err := store.GetMemory(ctx, "user-1", memory.ID)
	require.NoError(t, err)
	assert.Contains(t, updated.Content, "eggs")

	require.NoError(t, store.DeleteMemory(ctx, "user-1", memory.ID))

	_, err = store.GetMemory(ctx, "user-1", memory.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryCrossUserIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("user-1", "Private note about the dentist", nil)
	require.NoError(t, store.CreateMemory(ctx, memory))

	// Another user's lookup reports not-found, identically to a missing row.
	_, err := store.GetMemory(ctx, "user-2", memory.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.DeleteMemory(ctx, "user-2", memory.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	memories, err := store.ListMemories(ctx, "user-2", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestListMemoriesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := newTestMemory("user-1", "old entry", nil)
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateMemory(ctx, old))

	recent := newTestMemory("user-1", "recent entry", nil)
	require.NoError(t, store.CreateMemory(ctx, recent))

	memories, err := store.ListMemories(ctx, "user-1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, recent.ID, memories[0].ID)
	assert.Equal(t, old.ID, memories[1].ID)
}

func TestFullTextSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateMemory(ctx, newTestMemory("user-1", "Dentist appointment on Friday morning", nil)))
	require.NoError(t, store.CreateMemory(ctx, newTestMemory("user-1", "Picked up groceries for the week", nil)))
	require.NoError(t, store.CreateMemory(ctx, newTestMemory("user-2", "Dentist recommended a night guard", nil)))

	results, err := store.FullTextSearch(ctx, "user-1", "dentist", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "appointment")
}

func TestFullTextSearchORFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateMemory(ctx, newTestMemory("user-1", "Booked flights to Lisbon", nil)))

	// No row matches both terms; the OR retry should still find the flight.
	results, err := store.FullTextSearch(ctx, "user-1", "lisbon dentist", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Lisbon")
}

func TestFullTextSearchExcludesDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("user-1", "Passport renewal confirmation number", nil)
	require.NoError(t, store.CreateMemory(ctx, memory))
	require.NoError(t, store.DeleteMemory(ctx, "user-1", memory.ID))

	results, err := store.FullTextSearch(ctx, "user-1", "passport", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := newTestMemory("user-1", "close match", []float32{1, 0, 0})
	far := newTestMemory("user-1", "far match", []float32{0, 1, 0})
	other := newTestMemory("user-2", "other user", []float32{1, 0, 0})
	require.NoError(t, store.CreateMemory(ctx, near))
	require.NoError(t, store.CreateMemory(ctx, far))
	require.NoError(t, store.CreateMemory(ctx, other))

	results, err := store.VectorSearch(ctx, "user-1", []float32{1, 0, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, near.ID, results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestTagGetOrCreateIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateTag(ctx, &types.Tag{
		ID: uuid.NewString(), UserID: "user-1", Name: "travel", NormalizedName: "travel",
	})
	require.NoError(t, err)

	second, err := store.GetOrCreateTag(ctx, &types.Tag{
		ID: uuid.NewString(), UserID: "user-1", Name: "travel", NormalizedName: "travel",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestTagAssociateAndUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("user-1", "Weekend in the mountains", nil)
	require.NoError(t, store.CreateMemory(ctx, memory))

	tag, err := store.GetOrCreateTag(ctx, &types.Tag{
		ID: uuid.NewString(), UserID: "user-1", Name: "travel", NormalizedName: "travel",
	})
	require.NoError(t, err)

	require.NoError(t, store.AssociateTag(ctx, memory.ID, tag.ID))
	// Re-associating the same pair must not double-count usage.
	require.NoError(t, store.AssociateTag(ctx, memory.ID, tag.ID))

	tags, err := store.ListTags(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, 1, tags[0].UsageCount)

	memoryTags, err := store.TagsForMemory(ctx, memory.ID)
	require.NoError(t, err)
	require.Len(t, memoryTags, 1)
	assert.Equal(t, "travel", memoryTags[0].Name)
}

func TestReassignTagAssociations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memA := newTestMemory("user-1", "standup notes", nil)
	memB := newTestMemory("user-1", "sprint review notes", nil)
	require.NoError(t, store.CreateMemory(ctx, memA))
	require.NoError(t, store.CreateMemory(ctx, memB))

	keep, err := store.GetOrCreateTag(ctx, &types.Tag{
		ID: uuid.NewString(), UserID: "user-1", Name: "meeting", NormalizedName: "meeting",
	})
	require.NoError(t, err)
	merge, err := store.GetOrCreateTag(ctx, &types.Tag{
		ID: uuid.NewString(), UserID: "user-1", Name: "mtg", NormalizedName: "meeting",
	})
	require.NoError(t, err)

	// memA carries both tags; memB only the one being merged away.
	require.NoError(t, store.AssociateTag(ctx, memA.ID, keep.ID))
	require.NoError(t, store.AssociateTag(ctx, memA.ID, merge.ID))
	require.NoError(t, store.AssociateTag(ctx, memB.ID, merge.ID))

	require.NoError(t, store.ReassignTagAssociations(ctx, merge.ID, keep.ID))

	ids, err := store.MemoryIDsForTag(ctx, keep.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{memA.ID, memB.ID}, ids)

	orphaned, err := store.MemoryIDsForTag(ctx, merge.ID)
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestRelationshipCanonicalUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Insert in both orders; both must land on the same canonical row.
	require.NoError(t, store.UpsertAuto(ctx, "mem-b", "mem-a", 0.81))
	require.NoError(t, store.UpsertAuto(ctx, "mem-a", "mem-b", 0.92))

	rel, err := store.GetRelationship(ctx, "mem-b", "mem-a")
	require.NoError(t, err)
	assert.Equal(t, "mem-a", rel.MemoryAID)
	assert.Equal(t, "mem-b", rel.MemoryBID)
	assert.Equal(t, types.RelationAuto, rel.Type)
	assert.InDelta(t, 0.92, rel.SimilarityScore, 1e-9)
}

func TestRelationshipManualPrecedence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertManual(ctx, "mem-a", "mem-b"))

	// Auto discovery must not downgrade or rescore a manual edge.
	require.NoError(t, store.UpsertAuto(ctx, "mem-a", "mem-b", 0.5))

	rel, err := store.GetRelationship(ctx, "mem-a", "mem-b")
	require.NoError(t, err)
	assert.Equal(t, types.RelationManual, rel.Type)
	assert.InDelta(t, 1.0, rel.SimilarityScore, 1e-9)

	// A later manual upsert over an auto edge upgrades it.
	require.NoError(t, store.UpsertAuto(ctx, "mem-a", "mem-c", 0.7))
	require.NoError(t, store.UpsertManual(ctx, "mem-c", "mem-a"))
	rel, err = store.GetRelationship(ctx, "mem-a", "mem-c")
	require.NoError(t, err)
	assert.Equal(t, types.RelationManual, rel.Type)
}

func TestRelationshipRejectsSelfLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertManual(ctx, "mem-a", "mem-a")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestNeighborIDsStrongestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertAuto(ctx, "hub", "spoke-weak", 0.76))
	require.NoError(t, store.UpsertAuto(ctx, "hub", "spoke-strong", 0.95))
	require.NoError(t, store.UpsertAuto(ctx, "spoke-weak", "unrelated", 0.99))

	ids, err := store.NeighborIDs(ctx, "hub", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"spoke-strong", "spoke-weak"}, ids)
}

func TestReminderLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reminder := &types.Reminder{
		ID:       uuid.NewString(),
		MemoryID: uuid.NewString(),
		UserID:   "user-1",
		Title:    "Renew passport",
		RemindAt: time.Now().UTC().Add(time.Hour),
		Channels: []types.NotifyChannel{types.NotifyEmail, types.NotifyTelegram},
	}
	require.NoError(t, store.CreateReminder(ctx, reminder))

	got, err := store.GetReminder(ctx, "user-1", reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReminderPending, got.Status)
	assert.Equal(t, reminder.Channels, got.Channels)

	_, err = store.GetReminder(ctx, "user-2", reminder.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sentAt := time.Now().UTC()
	require.NoError(t, store.SetReminderStatus(ctx, reminder.ID, types.ReminderSent, &sentAt))

	got, err = store.GetReminder(ctx, "user-1", reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReminderSent, got.Status)
	require.NotNil(t, got.SentAt)
}

func TestDueReminders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mkReminder := func(title string, remindAt time.Time) *types.Reminder {
		return &types.Reminder{
			ID:       uuid.NewString(),
			MemoryID: uuid.NewString(),
			UserID:   "user-1",
			Title:    title,
			RemindAt: remindAt,
			Channels: []types.NotifyChannel{types.NotifyEmail},
		}
	}

	due := mkReminder("due", now.Add(time.Minute))
	later := mkReminder("later", now.Add(time.Hour))
	require.NoError(t, store.CreateReminder(ctx, due))
	require.NoError(t, store.CreateReminder(ctx, later))

	cancelled := mkReminder("cancelled", now.Add(2*time.Minute))
	require.NoError(t, store.CreateReminder(ctx, cancelled))
	require.NoError(t, store.SetReminderStatus(ctx, cancelled.ID, types.ReminderCancelled, nil))

	reminders, err := store.DueReminders(ctx, now.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, due.ID, reminders[0].ID)
}

func TestConversationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetConversation(ctx, "user-1", types.ChannelTelegram)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	state := types.NewConversationState("user-1", types.ChannelTelegram, time.Now().UTC())
	state.Append("user", "remind me to water the plants")
	state.Append("assistant", "When should I remind you?")
	state.Mode = types.ModeCreate
	state.PendingQuestion = "When should I remind you?"
	require.NoError(t, store.SaveConversation(ctx, state))

	got, err := store.GetConversation(ctx, "user-1", types.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, types.ModeCreate, got.Mode)
	assert.Equal(t, state.PendingQuestion, got.PendingQuestion)
	require.Len(t, got.History, 2)
	assert.Equal(t, "user", got.History[0].Role)

	// Saving again must overwrite, not duplicate.
	got.Append("user", "tomorrow morning")
	require.NoError(t, store.SaveConversation(ctx, got))

	again, err := store.GetConversation(ctx, "user-1", types.ChannelTelegram)
	require.NoError(t, err)
	assert.Len(t, again.History, 3)
}

func TestIdentityLinkAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.LookupIdentity(ctx, types.ChannelTelegram, "tg-42")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.LinkIdentity(ctx, types.ChannelTelegram, "tg-42", "user-1"))

	userID, err := store.LookupIdentity(ctx, types.ChannelTelegram, "tg-42")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	external, err := store.LookupExternalRef(ctx, "user-1", types.ChannelTelegram)
	require.NoError(t, err)
	assert.Equal(t, "tg-42", external)

	// Relinking the same external account replaces the mapping.
	require.NoError(t, store.LinkIdentity(ctx, types.ChannelTelegram, "tg-42", "user-2"))
	userID, err = store.LookupIdentity(ctx, types.ChannelTelegram, "tg-42")
	require.NoError(t, err)
	assert.Equal(t, "user-2", userID)
}
