package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/internal/storage/sqlite"
	"github.com/everkeep/everkeep/pkg/types"
)

type fakeEmbedder struct {
	embedding []float32
	err       error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.embedding, f.err
}

func (f *fakeEmbedder) Dimension() int { return len(f.embedding) }

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedMemory(t *testing.T, store *sqlite.Store, userID, content string, embedding []float32, createdAt time.Time) types.Memory {
	t.Helper()
	m := types.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Content:        content,
		Embedding:      embedding,
		SourcePlatform: types.ChannelChat,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, store.CreateMemory(context.Background(), &m))
	return m
}

func TestHybridSearchPrefersDoubleHits(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	// "kubernetes upgrade" hits both legs; the other two hit one leg each.
	both := seedMemory(t, store, "u1", "kubernetes upgrade notes", []float32{1, 0, 0}, now.Add(-3*time.Hour))
	lexOnly := seedMemory(t, store, "u1", "kubernetes meetup recap", []float32{0, 1, 0}, now.Add(-2*time.Hour))
	semOnly := seedMemory(t, store, "u1", "cluster maintenance window", []float32{0.9, 0.1, 0}, now.Add(-1*time.Hour))

	searcher := NewSearcher(store, &fakeEmbedder{embedding: []float32{1, 0, 0}}, Config{})

	result, err := searcher.HybridSearch(context.Background(), "u1", "kubernetes", 10)
	require.NoError(t, err)
	require.False(t, result.Degraded)
	require.NotEmpty(t, result.Memories)

	assert.Equal(t, both.ID, result.Memories[0].ID, "memory ranked on both legs wins")

	ids := make([]string, 0, len(result.Memories))
	for _, m := range result.Memories {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, lexOnly.ID)
	assert.Contains(t, ids, semOnly.ID)
}

func TestHybridSearchSemanticOutweighsLexical(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	// Same rank on opposite legs: the semantic hit must score higher
	// because its weight is larger.
	lexHit := seedMemory(t, store, "u1", "passport renewal deadline", []float32{0, 1, 0}, now.Add(-2*time.Hour))
	semHit := seedMemory(t, store, "u1", "travel documents expire in march", []float32{1, 0, 0}, now.Add(-1*time.Hour))

	searcher := NewSearcher(store, &fakeEmbedder{embedding: []float32{1, 0, 0}}, Config{})

	result, err := searcher.HybridSearch(context.Background(), "u1", "passport", 10)
	require.NoError(t, err)
	require.Len(t, result.Memories, 2)
	assert.Equal(t, semHit.ID, result.Memories[0].ID)
	assert.Equal(t, lexHit.ID, result.Memories[1].ID)
}

func TestHybridSearchDegradesWhenEmbedderDown(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	m := seedMemory(t, store, "u1", "backup restore drill went fine", nil, now)

	searcher := NewSearcher(store, &fakeEmbedder{err: collab.ErrUnavailable}, Config{})

	result, err := searcher.HybridSearch(context.Background(), "u1", "backup drill", 10)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, m.ID, result.Memories[0].ID)
}

func TestHybridSearchNoEmbedderIsLexicalOnly(t *testing.T) {
	store := newTestStore(t)
	seedMemory(t, store, "u1", "dentist appointment moved", nil, time.Now().UTC())

	searcher := NewSearcher(store, nil, Config{})

	result, err := searcher.HybridSearch(context.Background(), "u1", "dentist", 10)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Len(t, result.Memories, 1)
}

func TestHybridSearchTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	seedMemory(t, store, "u1", "shared project kickoff", []float32{1, 0, 0}, now)
	seedMemory(t, store, "u2", "shared project kickoff", []float32{1, 0, 0}, now)

	searcher := NewSearcher(store, &fakeEmbedder{embedding: []float32{1, 0, 0}}, Config{})

	result, err := searcher.HybridSearch(context.Background(), "u1", "project kickoff", 10)
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, "u1", result.Memories[0].UserID)
}

func TestNetworkRecallExpandsOneHop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := seedMemory(t, store, "u1", "moved the server rack to the garage", []float32{1, 0, 0}, now.Add(-2*time.Hour))
	neighbor := seedMemory(t, store, "u1", "garage needs a dedicated circuit", []float32{0, 1, 0}, now.Add(-1*time.Hour))
	require.NoError(t, store.UpsertAuto(ctx, seed.ID, neighbor.ID, 0.9))

	searcher := NewSearcher(store, nil, Config{})

	memories, err := searcher.NetworkRecall(ctx, "u1", []float32{1, 0, 0}, 5, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, seed.ID, memories[0].ID, "seeds come before neighbors")
	assert.Equal(t, neighbor.ID, memories[1].ID)
}

func TestNetworkRecallDeduplicatesLinkedSeeds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := seedMemory(t, store, "u1", "first memory", []float32{1, 0, 0}, now.Add(-2*time.Hour))
	b := seedMemory(t, store, "u1", "second memory", []float32{0.95, 0.05, 0}, now.Add(-1*time.Hour))
	require.NoError(t, store.UpsertAuto(ctx, a.ID, b.ID, 0.9))

	searcher := NewSearcher(store, nil, Config{})

	memories, err := searcher.NetworkRecall(ctx, "u1", []float32{1, 0, 0}, 5, 3, 0.5)
	require.NoError(t, err)
	assert.Len(t, memories, 2, "mutually linked seeds must not duplicate")
}

func TestNetworkRecallSkipsDeletedNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := seedMemory(t, store, "u1", "keep this one", []float32{1, 0, 0}, now.Add(-2*time.Hour))
	gone := seedMemory(t, store, "u1", "this one is gone", []float32{0, 1, 0}, now.Add(-1*time.Hour))
	require.NoError(t, store.UpsertAuto(ctx, seed.ID, gone.ID, 0.8))
	require.NoError(t, store.DeleteMemory(ctx, "u1", gone.ID))

	searcher := NewSearcher(store, nil, Config{})

	memories, err := searcher.NetworkRecall(ctx, "u1", []float32{1, 0, 0}, 5, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, seed.ID, memories[0].ID)
}

func TestFuseRaisingOneWeightNeverDemotesItsExclusiveHits(t *testing.T) {
	now := time.Now().UTC()
	mk := func(id string, age time.Duration) types.Memory {
		return types.Memory{ID: id, UserID: "u1", Content: id, CreatedAt: now.Add(-age)}
	}

	// A fixed candidate pool: two hits exclusive to each leg plus one
	// shared hit, ranked best first within each leg.
	lexical := []types.Memory{mk("lex-1", time.Hour), mk("shared", 2*time.Hour), mk("lex-2", 3*time.Hour)}
	semantic := []storage.ScoredMemory{
		{Memory: mk("sem-1", 4*time.Hour), Similarity: 0.9},
		{Memory: mk("shared", 2*time.Hour), Similarity: 0.8},
		{Memory: mk("sem-2", 5*time.Hour), Similarity: 0.7},
	}

	rank := func(memories []types.Memory, id string) int {
		for i, m := range memories {
			if m.ID == id {
				return i
			}
		}
		t.Fatalf("memory %s missing from fused results", id)
		return -1
	}

	base := Config{RRFK: DefaultRRFK, LexicalWeight: 1.0, SemanticWeight: 1.0, MinSimilarity: DefaultMinSimilarity}
	baseline := fuse(base, lexical, semantic)

	semBoost := base
	semBoost.SemanticWeight = 3.0
	fusedSem := fuse(semBoost, lexical, semantic)
	for _, id := range []string{"sem-1", "sem-2"} {
		assert.LessOrEqual(t, rank(fusedSem, id), rank(baseline, id),
			"raising the semantic weight must not demote %s", id)
	}

	lexBoost := base
	lexBoost.LexicalWeight = 3.0
	fusedLex := fuse(lexBoost, lexical, semantic)
	for _, id := range []string{"lex-1", "lex-2"} {
		assert.LessOrEqual(t, rank(fusedLex, id), rank(baseline, id),
			"raising the lexical weight must not demote %s", id)
	}
}

var errBoom = errors.New("boom")

func TestHybridSearchDegradesOnAnyEmbedError(t *testing.T) {
	store := newTestStore(t)
	seedMemory(t, store, "u1", "quarterly review notes", nil, time.Now().UTC())

	searcher := NewSearcher(store, &fakeEmbedder{err: errBoom}, Config{})

	result, err := searcher.HybridSearch(context.Background(), "u1", "quarterly review", 10)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Len(t, result.Memories, 1)
}
