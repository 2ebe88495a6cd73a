// Package ingest receives normalized inbound messages from every channel and
// drives them through one pipeline: duplicate suppression, per-session
// ordering, identity resolution, media enrichment, conversation state, and
// finally the orchestrator. Webhook handlers acknowledge immediately and hand
// the message to Submit; the synchronous chat API uses Do.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// ErrDuplicate is returned by Do when the message was already processed.
var ErrDuplicate = errors.New("ingest: duplicate message")

const (
	replyLinkAccount = "I don't recognize this account yet. Link this channel from your Everkeep settings and message me again."
	replyUnavailable = "I'm having trouble reaching my tools right now. Please try again in a moment — your message was not lost."
	replyInternal    = "Something went wrong on my side. Please try that again."
)

// Handler consumes one resolved message and produces the reply. The
// orchestrator implements it; the pipeline owns everything around it.
type Handler interface {
	Handle(ctx context.Context, userID string, state *types.ConversationState, msg types.InboundMessage) (types.Reply, error)
}

// Pipeline is the single intake path for inbound messages.
type Pipeline struct {
	store       storage.Store
	handler     Handler
	adapters    map[types.Channel]channel.Adapter
	transcriber collab.Transcriber
	extractor   collab.AttachmentExtractor
	dedup       *Deduper
	serializer  *Serializer
	timeout     time.Duration
}

// PipelineConfig wires the pipeline's collaborators. Transcriber and
// Extractor are optional: without them media messages keep only their
// caption.
type PipelineConfig struct {
	Store       storage.Store
	Handler     Handler
	Adapters    []channel.Adapter
	Transcriber collab.Transcriber
	Extractor   collab.AttachmentExtractor

	// Timeout bounds the processing of one asynchronous message (default: 60s).
	Timeout time.Duration
}

// NewPipeline creates the intake pipeline.
func NewPipeline(config PipelineConfig) *Pipeline {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	adapters := make(map[types.Channel]channel.Adapter, len(config.Adapters))
	for _, a := range config.Adapters {
		adapters[a.Channel()] = a
	}

	return &Pipeline{
		store:       config.Store,
		handler:     config.Handler,
		adapters:    adapters,
		transcriber: config.Transcriber,
		extractor:   config.Extractor,
		dedup:       NewDeduper(),
		serializer:  NewSerializer(),
		timeout:     config.Timeout,
	}
}

// Submit processes a message asynchronously and delivers the reply through
// the message's channel adapter. Webhook handlers call it after verification
// so the provider gets its 200 before any slow work starts.
func (p *Pipeline) Submit(msg types.InboundMessage) {
	p.serializer.Enqueue(sessionKey(msg), func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		reply, deliver := p.process(ctx, msg)
		if !deliver {
			return
		}

		adapter := p.adapters[msg.Channel]
		if adapter == nil {
			log.Printf("ERROR: ingest: no adapter for channel %s", msg.Channel)
			return
		}
		if err := adapter.Send(ctx, msg.ExternalUserID, reply); err != nil {
			log.Printf("ERROR: ingest: send reply on %s: %v", msg.Channel, err)
		}
	})
}

// Do processes a message synchronously and returns the reply, for the chat
// API where the caller is waiting on the HTTP response. Ordering against the
// user's in-flight messages is still enforced.
func (p *Pipeline) Do(ctx context.Context, msg types.InboundMessage) (types.Reply, error) {
	type result struct {
		reply   types.Reply
		deliver bool
	}
	done := make(chan result, 1)

	p.serializer.Enqueue(sessionKey(msg), func() {
		reply, deliver := p.process(ctx, msg)
		done <- result{reply, deliver}
	})

	select {
	case r := <-done:
		if !r.deliver {
			return types.Reply{}, ErrDuplicate
		}
		return r.reply, nil
	case <-ctx.Done():
		return types.Reply{}, ctx.Err()
	}
}

// process runs one message through the pipeline. The returned bool is false
// when nothing should be delivered (duplicate delivery).
func (p *Pipeline) process(ctx context.Context, msg types.InboundMessage) (types.Reply, bool) {
	if p.dedup.Seen(msg.Channel, msg.ExternalMessageID) {
		log.Printf("ingest: dropping duplicate %s message %s", msg.Channel, msg.ExternalMessageID)
		return types.Reply{}, false
	}

	userID, err := p.resolveUser(ctx, msg)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Reply{Text: replyLinkAccount}, true
	}
	if err != nil {
		log.Printf("ERROR: ingest: resolve identity for %s/%s: %v", msg.Channel, msg.ExternalUserID, err)
		return types.Reply{Text: replyUnavailable}, true
	}

	// Button taps become their equivalent text command so the rest of the
	// pipeline has a single path.
	if msg.Kind == types.KindButton {
		if text, ok := channel.TextForButton(msg.ButtonID); ok {
			msg.Text = text
		} else {
			msg.Text = msg.ButtonID
		}
	}

	if err := p.enrichMedia(ctx, &msg); err != nil {
		log.Printf("WARNING: ingest: enrich %s media for user %s: %v", msg.Kind, userID, err)
		return types.Reply{Text: replyUnavailable}, true
	}

	state, err := p.store.GetConversation(ctx, userID, msg.Channel)
	if errors.Is(err, storage.ErrNotFound) {
		state = types.NewConversationState(userID, msg.Channel, time.Now().UTC())
	} else if err != nil {
		log.Printf("ERROR: ingest: load conversation for user %s: %v", userID, err)
		return types.Reply{Text: replyUnavailable}, true
	}

	reply, err := p.handler.Handle(ctx, userID, state, msg)
	if err != nil {
		if errors.Is(err, collab.ErrUnavailable) {
			log.Printf("WARNING: ingest: degraded handling for user %s: %v", userID, err)
			return types.Reply{Text: replyUnavailable}, true
		}
		log.Printf("ERROR: ingest: handle message for user %s: %v", userID, err)
		return types.Reply{Text: replyInternal}, true
	}

	state.Append("user", msg.Text)
	state.Append("assistant", reply.Text)
	state.UpdatedAt = time.Now().UTC()
	if err := p.store.SaveConversation(ctx, state); err != nil {
		log.Printf("WARNING: ingest: save conversation for user %s: %v", userID, err)
	}

	return reply, true
}

// resolveUser maps the provider-side sender to the internal user. Chat widget
// messages already carry the internal user ID from the authenticated API.
func (p *Pipeline) resolveUser(ctx context.Context, msg types.InboundMessage) (string, error) {
	if msg.Channel == types.ChannelChat {
		return msg.ExternalUserID, nil
	}
	return p.store.LookupIdentity(ctx, msg.Channel, msg.ExternalUserID)
}

// enrichMedia fills msg.Text with derived text: a transcript for voice, and
// extracted content appended to the caption for media and attachments.
func (p *Pipeline) enrichMedia(ctx context.Context, msg *types.InboundMessage) error {
	if msg.MediaRef != "" {
		switch msg.Kind {
		case types.KindVoice:
			if p.transcriber == nil {
				break
			}
			data, mimeType, err := p.fetchMedia(ctx, msg.Channel, msg.MediaRef)
			if err != nil {
				return err
			}
			transcript, err := p.transcriber.Transcribe(ctx, data, mimeType)
			if err != nil {
				return fmt.Errorf("transcribe: %w", err)
			}
			msg.Text = transcript

		case types.KindImage, types.KindDocument, types.KindVideo:
			if p.extractor == nil {
				break
			}
			data, mimeType, err := p.fetchMedia(ctx, msg.Channel, msg.MediaRef)
			if err != nil {
				return err
			}
			extracted, err := p.extractor.Extract(ctx, data, mimeType)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			appendExtracted(msg, extracted)
		}
	}

	return p.enrichAttachments(ctx, msg)
}

// enrichAttachments extracts every attachment ref and appends the results to
// the message text. Refs a channel cannot serve are skipped, not fatal.
func (p *Pipeline) enrichAttachments(ctx context.Context, msg *types.InboundMessage) error {
	if p.extractor == nil || len(msg.AttachmentRefs) == 0 {
		return nil
	}

	for _, ref := range msg.AttachmentRefs {
		data, mimeType, err := p.fetchMedia(ctx, msg.Channel, ref)
		if errors.Is(err, channel.ErrUnsupported) {
			log.Printf("WARNING: ingest: %s cannot serve attachment %q", msg.Channel, ref)
			continue
		}
		if err != nil {
			return err
		}
		extracted, err := p.extractor.Extract(ctx, data, mimeType)
		if err != nil {
			return fmt.Errorf("extract attachment: %w", err)
		}
		appendExtracted(msg, extracted)
	}
	return nil
}

func appendExtracted(msg *types.InboundMessage, extracted string) {
	if extracted == "" {
		return
	}
	if msg.Text != "" {
		msg.Text = msg.Text + "\n\n" + extracted
		return
	}
	msg.Text = extracted
}

func (p *Pipeline) fetchMedia(ctx context.Context, ch types.Channel, ref string) ([]byte, string, error) {
	adapter := p.adapters[ch]
	if adapter == nil {
		return nil, "", fmt.Errorf("no adapter for channel %s", ch)
	}
	data, mimeType, err := adapter.FetchMedia(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	return data, mimeType, nil
}

func sessionKey(msg types.InboundMessage) string {
	return string(msg.Channel) + ":" + msg.ExternalUserID
}
