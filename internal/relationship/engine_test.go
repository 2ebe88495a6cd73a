package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/internal/storage/sqlite"
	"github.com/everkeep/everkeep/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedMemory(t *testing.T, store *sqlite.Store, userID string, embedding []float32) types.Memory {
	t.Helper()
	now := time.Now().UTC()
	m := types.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Content:        "memory " + uuid.NewString(),
		Embedding:      embedding,
		SourcePlatform: types.ChannelChat,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateMemory(context.Background(), &m))
	return m
}

func TestDiscoverAndLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := seedMemory(t, store, "u1", []float32{1, 0, 0})
	similar := seedMemory(t, store, "u1", []float32{0.95, 0.05, 0})
	unrelated := seedMemory(t, store, "u1", []float32{0, 1, 0})

	engine := NewEngine(store)

	linked, err := engine.DiscoverAndLink(ctx, "u1", subject.ID, subject.Embedding)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, similar.ID, linked[0])

	rel, err := store.GetRelationship(ctx, subject.ID, similar.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RelationAuto, rel.Type)
	assert.Greater(t, rel.SimilarityScore, 0.9)

	_, err = store.GetRelationship(ctx, subject.ID, unrelated.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "below-threshold memories are not linked")
}

func TestDiscoverExcludesSelf(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := seedMemory(t, store, "u1", []float32{1, 0, 0})
	engine := NewEngine(store)

	linked, err := engine.DiscoverAndLink(ctx, "u1", subject.ID, subject.Embedding)
	require.NoError(t, err)
	assert.Empty(t, linked, "a memory must never link to itself")
}

func TestDiscoverIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := seedMemory(t, store, "u1", []float32{1, 0, 0})
	similar := seedMemory(t, store, "u1", []float32{0.95, 0.05, 0})

	engine := NewEngine(store)

	_, err := engine.DiscoverAndLink(ctx, "u1", subject.ID, subject.Embedding)
	require.NoError(t, err)
	_, err = engine.DiscoverAndLink(ctx, "u1", subject.ID, subject.Embedding)
	require.NoError(t, err)

	neighbors, err := store.NeighborIDs(ctx, subject.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{similar.ID}, neighbors, "repeated discovery must not duplicate edges")
}

func TestDiscoverNeverDowngradesManual(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := seedMemory(t, store, "u1", []float32{1, 0, 0})
	similar := seedMemory(t, store, "u1", []float32{0.95, 0.05, 0})

	engine := NewEngine(store)
	require.NoError(t, engine.LinkManual(ctx, subject.ID, similar.ID))

	_, err := engine.DiscoverAndLink(ctx, "u1", subject.ID, subject.Embedding)
	require.NoError(t, err)

	rel, err := store.GetRelationship(ctx, subject.ID, similar.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RelationManual, rel.Type)
	assert.Equal(t, 1.0, rel.SimilarityScore)
}

func TestFindRelatedCapsResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	subject := seedMemory(t, store, "u1", []float32{1, 0, 0})
	for i := 0; i < 12; i++ {
		seedMemory(t, store, "u1", []float32{0.99, 0.01, 0})
	}

	engine := NewEngine(store)

	related, err := engine.FindRelated(ctx, "u1", subject.ID, subject.Embedding)
	require.NoError(t, err)
	assert.Len(t, related, DefaultMaxLinks)
	assert.NotContains(t, related, subject.ID)
}

func TestFindRelatedEmptyEmbedding(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	related, err := engine.FindRelated(context.Background(), "u1", "m1", nil)
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestLinkManualRejectsSelfLink(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	err := engine.LinkManual(context.Background(), "m1", "m1")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestUnlink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := seedMemory(t, store, "u1", []float32{1, 0, 0})
	b := seedMemory(t, store, "u1", []float32{0, 1, 0})

	engine := NewEngine(store)
	require.NoError(t, engine.LinkManual(ctx, a.ID, b.ID))
	require.NoError(t, engine.Unlink(ctx, b.ID, a.ID), "unlink accepts either endpoint order")

	_, err := store.GetRelationship(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
