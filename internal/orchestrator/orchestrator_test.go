package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/relationship"
	"github.com/everkeep/everkeep/internal/retrieval"
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

type fakeCompleter struct {
	answer string
	err    error

	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func newTestOrchestrator(t *testing.T, embedder collab.Embedder, completer collab.Completer) (*Orchestrator, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	o := New(Config{
		Store:         store,
		Searcher:      retrieval.NewSearcher(store, embedder, retrieval.Config{}),
		Relationships: relationship.NewEngine(store),
		Embedder:      embedder,
		Completer:     completer,
	})
	return o, store
}

func chatMessage(text string) types.InboundMessage {
	return types.InboundMessage{
		Channel:        types.ChannelChat,
		ExternalUserID: "u1",
		Kind:           types.KindText,
		Text:           text,
	}
}

func newState() *types.ConversationState {
	return types.NewConversationState("u1", types.ChannelChat, time.Now().UTC())
}

func TestCaptureStoresMemory(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEmbedder{embedding: []float32{1, 0, 0}}, nil)
	ctx := context.Background()
	state := newState()

	reply, err := o.Handle(ctx, "u1", state, chatMessage("remember the wifi password is hunter2"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Saved: the wifi password is hunter2")
	assert.Equal(t, types.ModeCreate, state.Mode)

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "the wifi password is hunter2", memories[0].Content)
	assert.Equal(t, types.ChannelChat, memories[0].SourcePlatform)
	assert.NotEmpty(t, memories[0].Embedding)
}

func TestCaptureExtractsHashtags(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()

	reply, err := o.Handle(ctx, "u1", newState(), chatMessage("note the boiler manual is in the garage #home #maintenance"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Tagged: home, maintenance")

	tags, err := store.ListTags(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tags, 2)
}

func TestCaptureLinksRelatedMemories(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{1, 0, 0}}
	o, store := newTestOrchestrator(t, embedder, nil)
	ctx := context.Background()
	state := newState()

	_, err := o.Handle(ctx, "u1", state, chatMessage("remember the garage circuit keeps tripping"))
	require.NoError(t, err)

	reply, err := o.Handle(ctx, "u1", state, chatMessage("remember the electrician quoted 400 for the garage"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Linked to 1 related memory")

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 2)

	neighbors, err := store.NeighborIDs(ctx, memories[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, neighbors, 1)
}

func TestCaptureSurvivesEmbedderOutage(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeEmbedder{err: collab.ErrUnavailable}, nil)
	ctx := context.Background()

	reply, err := o.Handle(ctx, "u1", newState(), chatMessage("remember the plumber comes thursday"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Saved:")
	assert.Contains(t, reply.Text, "keyword-searchable")

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Empty(t, memories[0].Embedding)
}

func TestRecallFindsMemories(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	state := newState()

	_, err := o.Handle(ctx, "u1", state, chatMessage("remember the dentist moved to tuesday"))
	require.NoError(t, err)

	state.Mode = types.ModeRecall
	reply, err := o.Handle(ctx, "u1", state, chatMessage("when is the dentist?"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "dentist moved to tuesday")

	var ids []string
	for _, b := range reply.Buttons {
		ids = append(ids, b.ID)
	}
	assert.Contains(t, ids, channel.ButtonShowRelated)
}

func TestRecallReplyCarriesRetrievedMemories(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	state := newState()

	_, err := o.Handle(ctx, "u1", state, chatMessage("remember the dentist moved to tuesday"))
	require.NoError(t, err)

	state.Mode = types.ModeRecall
	reply, err := o.Handle(ctx, "u1", state, chatMessage("when is the dentist?"))
	require.NoError(t, err)
	require.Len(t, reply.RetrievedMemories, 1)
	assert.Equal(t, "the dentist moved to tuesday", reply.RetrievedMemories[0].Content)
}

func TestCaptureReplyCarriesCreatedMemory(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()

	reply, err := o.Handle(ctx, "u1", newState(), chatMessage("remember the gate code is 4711"))
	require.NoError(t, err)
	require.NotNil(t, reply.CreatedMemory)
	assert.Equal(t, "the gate code is 4711", reply.CreatedMemory.Content)

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, memories[0].ID, reply.CreatedMemory.ID)
}

func TestRecallNothingStored(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)

	reply, err := o.Handle(context.Background(), "u1", newState(), chatMessage("what did I say about kubernetes?"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "don't have anything stored")
	assert.Empty(t, reply.Buttons)
}

func TestModeOverrides(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	state := newState()

	reply, err := o.Handle(ctx, "u1", state, chatMessage("capture mode"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Capture mode on")
	assert.Equal(t, types.ModeCreate, state.Mode)

	// In capture mode a bare statement is stored, no keyword needed.
	_, err = o.Handle(ctx, "u1", state, chatMessage("the gate code is 4711"))
	require.NoError(t, err)

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "the gate code is 4711", memories[0].Content)

	reply, err = o.Handle(ctx, "u1", state, chatMessage("recall mode"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Recall mode on")
	assert.Equal(t, types.ModeRecall, state.Mode)
}

func TestAmbiguousFallsBackToCompleter(t *testing.T) {
	completer := &fakeCompleter{answer: "create"}
	o, store := newTestOrchestrator(t, nil, completer)
	ctx := context.Background()

	_, err := o.Handle(ctx, "u1", newState(), chatMessage("the neighbor's cat is named biscuit"))
	require.NoError(t, err)
	assert.Len(t, completer.prompts, 1)

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestAmbiguousCompleterDownDefaultsToRecall(t *testing.T) {
	completer := &fakeCompleter{err: collab.ErrUnavailable}
	o, store := newTestOrchestrator(t, nil, completer)
	ctx := context.Background()

	reply, err := o.Handle(ctx, "u1", newState(), chatMessage("the neighbor's cat is named biscuit"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "don't have anything stored")

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, memories, "recall fallback must not store anything")
}

func TestShowMoreReusesLastQuery(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	state := newState()

	for _, content := range []string{
		"remember the roof leak is over the kitchen",
		"remember the roofer quoted 2k",
		"remember the roof insurance claim number is 88",
		"remember the roof work starts monday",
	} {
		_, err := o.Handle(ctx, "u1", state, chatMessage(content))
		require.NoError(t, err)
	}

	state.Mode = types.ModeRecall
	_, err := o.Handle(ctx, "u1", state, chatMessage("what about the roof?"))
	require.NoError(t, err)
	state.Append("user", "what about the roof?")

	reply, err := o.Handle(ctx, "u1", state, chatMessage("show more results"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "4.", "expanded window shows more than the first page")
}

func TestSetReminderButtonSchedulesDefault(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	state := newState()

	_, err := o.Handle(ctx, "u1", state, chatMessage("remember the mot is due in march"))
	require.NoError(t, err)

	// A tap on the reminder button arrives as its mapped text command.
	reply, err := o.Handle(ctx, "u1", state, chatMessage("set a reminder for that"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Reminder set for")

	reminders, err := store.ListReminders(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, types.ReminderPending, reminders[0].Status)
	assert.Equal(t, "the mot is due in march", reminders[0].Title)
	assert.True(t, reminders[0].RemindAt.After(time.Now()))
}

func TestSetReminderButtonWithNothingStored(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)

	reply, err := o.Handle(context.Background(), "u1", newState(), chatMessage("set a reminder for that"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "nothing stored")

	reminders, err := store.ListReminders(context.Background(), "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestSaveThatButtonStoresLastMessage(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()
	state := newState()

	state.Append("user", "the landlord's email is lease@example.com")
	state.Append("assistant", "I don't have anything stored about that yet.")

	reply, err := o.Handle(ctx, "u1", state, chatMessage("save that as a memory"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Saved: the landlord's email is lease@example.com")

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "the landlord's email is lease@example.com", memories[0].Content)
}

func TestPendingQuestionYes(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)
	ctx := context.Background()

	state := newState()
	state.PendingQuestion = "the locksmith's number is 555-0188"

	reply, err := o.Handle(ctx, "u1", state, chatMessage("yes"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Saved:")
	assert.Empty(t, state.PendingQuestion)

	memories, err := store.ListMemories(ctx, "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestPendingQuestionNo(t *testing.T) {
	o, store := newTestOrchestrator(t, nil, nil)

	state := newState()
	state.PendingQuestion = "something"

	reply, err := o.Handle(context.Background(), "u1", state, chatMessage("no"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "leaving it")
	assert.Empty(t, state.PendingQuestion)

	memories, err := store.ListMemories(context.Background(), "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestStripCreatePrefix(t *testing.T) {
	cases := map[string]string{
		"remember the wifi password is hunter2":  "the wifi password is hunter2",
		"remember that the car is on level 3":    "the car is on level 3",
		"note: passport is in the top drawer":    "passport is in the top drawer",
		"don't forget the oven is being fixed":   "the oven is being fixed",
		"plain statement with no prefix":         "plain statement with no prefix",
		"remember":                               "remember",
		"savings accounts are not a save prefix": "savings accounts are not a save prefix",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripCreatePrefix(in), "stripCreatePrefix(%q)", in)
	}
}
