package ingest

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/internal/storage/sqlite"
	"github.com/everkeep/everkeep/pkg/types"
)

type fakeHandler struct {
	mu      sync.Mutex
	handled []types.InboundMessage
	reply   types.Reply
	err     error
	delay   time.Duration
}

func (h *fakeHandler) Handle(_ context.Context, _ string, _ *types.ConversationState, msg types.InboundMessage) (types.Reply, error) {
	if h.delay > 0 {
		time.Sleep(h.delay)
		h.delay = 0
	}
	h.mu.Lock()
	h.handled = append(h.handled, msg)
	h.mu.Unlock()
	return h.reply, h.err
}

func (h *fakeHandler) messages(t *testing.T) []types.InboundMessage {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.InboundMessage(nil), h.handled...)
}

type fakeAdapter struct {
	channel   types.Channel
	mediaData []byte
	mediaMIME string
	mediaErr  error

	mu   sync.Mutex
	sent []types.Reply
	done chan struct{}
}

func (a *fakeAdapter) Channel() types.Channel { return a.channel }

func (a *fakeAdapter) VerifyWebhook(_ *http.Request, _ []byte) error { return nil }

func (a *fakeAdapter) DecodeWebhook(_ []byte) ([]types.InboundMessage, error) { return nil, nil }

func (a *fakeAdapter) Send(_ context.Context, _ string, reply types.Reply) error {
	a.mu.Lock()
	a.sent = append(a.sent, reply)
	a.mu.Unlock()
	if a.done != nil {
		a.done <- struct{}{}
	}
	return nil
}

func (a *fakeAdapter) FetchMedia(_ context.Context, _ string) ([]byte, string, error) {
	return a.mediaData, a.mediaMIME, a.mediaErr
}

type fakeTranscriber struct{ text string }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return f.text, nil
}

type fakeExtractor struct{ text string }

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (string, error) {
	return f.text, nil
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func linkedPipeline(t *testing.T, handler Handler, adapter channel.Adapter, transcriber collab.Transcriber) (*Pipeline, storage.Store) {
	t.Helper()
	store := newTestStore(t)
	require.NoError(t, store.LinkIdentity(context.Background(), types.ChannelTelegram, "tg-1", "user-1"))

	p := NewPipeline(PipelineConfig{
		Store:       store,
		Handler:     handler,
		Adapters:    []channel.Adapter{adapter},
		Transcriber: transcriber,
	})
	return p, store
}

func telegramText(messageID, text string) types.InboundMessage {
	return types.InboundMessage{
		Channel:           types.ChannelTelegram,
		ExternalUserID:    "tg-1",
		ExternalMessageID: messageID,
		Kind:              types.KindText,
		Text:              text,
	}
}

func TestPipelineDeliversReply(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "saved it"}}
	adapter := &fakeAdapter{channel: types.ChannelTelegram, done: make(chan struct{}, 1)}
	p, _ := linkedPipeline(t, handler, adapter, nil)

	p.Submit(telegramText("m1", "remember the wifi password is hunter2"))

	select {
	case <-adapter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("reply was never sent")
	}

	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "saved it", adapter.sent[0].Text)
}

func TestPipelineDropsDuplicates(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	adapter := &fakeAdapter{channel: types.ChannelTelegram}
	p, _ := linkedPipeline(t, handler, adapter, nil)

	ctx := context.Background()
	msg := telegramText("dup-1", "hello")

	_, err := p.Do(ctx, msg)
	require.NoError(t, err)

	_, err = p.Do(ctx, msg)
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Len(t, handler.messages(t), 1)
}

func TestPipelineUnlinkedAccount(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	adapter := &fakeAdapter{channel: types.ChannelTelegram}
	store := newTestStore(t)
	p := NewPipeline(PipelineConfig{
		Store:    store,
		Handler:  handler,
		Adapters: []channel.Adapter{adapter},
	})

	reply, err := p.Do(context.Background(), telegramText("m1", "hello"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Link this channel")
	assert.Empty(t, handler.messages(t), "unlinked messages must not reach the handler")
}

func TestPipelineChatCarriesInternalUserID(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	store := newTestStore(t)
	p := NewPipeline(PipelineConfig{Store: store, Handler: handler})

	_, err := p.Do(context.Background(), types.InboundMessage{
		Channel:        types.ChannelChat,
		ExternalUserID: "user-42",
		Kind:           types.KindText,
		Text:           "what do I know about kubernetes",
	})
	require.NoError(t, err)
	require.Len(t, handler.messages(t), 1)
}

func TestPipelineButtonBecomesTextCommand(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	adapter := &fakeAdapter{channel: types.ChannelTelegram}
	p, _ := linkedPipeline(t, handler, adapter, nil)

	_, err := p.Do(context.Background(), types.InboundMessage{
		Channel:           types.ChannelTelegram,
		ExternalUserID:    "tg-1",
		ExternalMessageID: "b1",
		Kind:              types.KindButton,
		ButtonID:          channel.ButtonShowMore,
	})
	require.NoError(t, err)

	handled := handler.messages(t)
	require.Len(t, handled, 1)
	assert.Equal(t, "show more results", handled[0].Text)
	assert.Equal(t, types.KindButton, handled[0].Kind)
}

func TestPipelineTranscribesVoice(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	adapter := &fakeAdapter{
		channel:   types.ChannelTelegram,
		mediaData: []byte("ogg-bytes"),
		mediaMIME: "audio/ogg",
	}
	p, _ := linkedPipeline(t, handler, adapter, &fakeTranscriber{text: "pick up the dry cleaning"})

	_, err := p.Do(context.Background(), types.InboundMessage{
		Channel:           types.ChannelTelegram,
		ExternalUserID:    "tg-1",
		ExternalMessageID: "v1",
		Kind:              types.KindVoice,
		MediaRef:          "voice-abc",
	})
	require.NoError(t, err)

	handled := handler.messages(t)
	require.Len(t, handled, 1)
	assert.Equal(t, "pick up the dry cleaning", handled[0].Text)
}

func TestPipelineExtractsChatAttachments(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	adapter := &fakeAdapter{
		channel:   types.ChannelChat,
		mediaData: []byte("pdf-bytes"),
		mediaMIME: "application/pdf",
	}
	store := newTestStore(t)
	p := NewPipeline(PipelineConfig{
		Store:     store,
		Handler:   handler,
		Adapters:  []channel.Adapter{adapter},
		Extractor: &fakeExtractor{text: "lease runs through december"},
	})

	_, err := p.Do(context.Background(), types.InboundMessage{
		Channel:        types.ChannelChat,
		ExternalUserID: "user-42",
		Kind:           types.KindText,
		Text:           "here is the lease",
		AttachmentRefs: []string{"https://files.example/att-1"},
	})
	require.NoError(t, err)

	handled := handler.messages(t)
	require.Len(t, handled, 1)
	assert.Equal(t, "here is the lease\n\nlease runs through december", handled[0].Text)
}

func TestPipelineSkipsUnservableAttachments(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}}
	adapter := &fakeAdapter{channel: types.ChannelChat, mediaErr: channel.ErrUnsupported}
	store := newTestStore(t)
	p := NewPipeline(PipelineConfig{
		Store:     store,
		Handler:   handler,
		Adapters:  []channel.Adapter{adapter},
		Extractor: &fakeExtractor{text: "never extracted"},
	})

	_, err := p.Do(context.Background(), types.InboundMessage{
		Channel:        types.ChannelChat,
		ExternalUserID: "user-42",
		Kind:           types.KindText,
		Text:           "here is the lease",
		AttachmentRefs: []string{"not-a-url"},
	})
	require.NoError(t, err)

	handled := handler.messages(t)
	require.Len(t, handled, 1)
	assert.Equal(t, "here is the lease", handled[0].Text, "unservable refs keep the original text")
}

func TestPipelineUnavailableApology(t *testing.T) {
	handler := &fakeHandler{err: collab.ErrUnavailable}
	adapter := &fakeAdapter{channel: types.ChannelTelegram}
	p, _ := linkedPipeline(t, handler, adapter, nil)

	reply, err := p.Do(context.Background(), telegramText("m1", "hello"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "try again")
}

func TestPipelineSavesConversation(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "found 2 memories"}}
	adapter := &fakeAdapter{channel: types.ChannelTelegram}
	p, store := linkedPipeline(t, handler, adapter, nil)

	_, err := p.Do(context.Background(), telegramText("m1", "what did I say about the roof"))
	require.NoError(t, err)

	state, err := store.GetConversation(context.Background(), "user-1", types.ChannelTelegram)
	require.NoError(t, err)
	require.Len(t, state.History, 2)
	assert.Equal(t, "user", state.History[0].Role)
	assert.Equal(t, "what did I say about the roof", state.History[0].Content)
	assert.Equal(t, "assistant", state.History[1].Role)
}

func TestPipelineOrdersMessagesPerSession(t *testing.T) {
	handler := &fakeHandler{reply: types.Reply{Text: "ok"}, delay: 100 * time.Millisecond}
	adapter := &fakeAdapter{channel: types.ChannelTelegram, done: make(chan struct{}, 2)}
	p, _ := linkedPipeline(t, handler, adapter, nil)

	p.Submit(telegramText("m1", "first"))
	p.Submit(telegramText("m2", "second"))

	for i := 0; i < 2; i++ {
		select {
		case <-adapter.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for replies")
		}
	}

	handled := handler.messages(t)
	require.Len(t, handled, 2)
	assert.Equal(t, "first", handled[0].Text)
	assert.Equal(t, "second", handled[1].Text)
}

func TestSerializerRecoversFromPanic(t *testing.T) {
	s := NewSerializer()
	done := make(chan struct{})

	s.Enqueue("k", func() { panic("boom") })
	s.Enqueue("k", func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("chain stalled after panic")
	}
}

func TestDeduper(t *testing.T) {
	d := NewDeduper()

	assert.False(t, d.Seen(types.ChannelTelegram, "m1"))
	assert.True(t, d.Seen(types.ChannelTelegram, "m1"))
	assert.False(t, d.Seen(types.ChannelWhatsApp, "m1"), "IDs are scoped per channel")
	assert.False(t, d.Seen(types.ChannelTelegram, ""), "empty IDs are never deduplicated")
	assert.False(t, d.Seen(types.ChannelTelegram, ""))
}
