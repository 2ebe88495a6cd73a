// Package types defines the core domain types shared across the Everkeep
// system: inbound messages, memories, tags, relationships, reminders, and
// per-channel conversation state.
package types

// Channel identifies the messaging surface a message arrived on or a reply
// goes out to.
type Channel string

const (
	// ChannelChat is the embedded chat widget (authenticated REST API).
	ChannelChat Channel = "chat"

	// ChannelTelegram is the Telegram bot integration.
	ChannelTelegram Channel = "telegram"

	// ChannelWhatsApp is the WhatsApp Cloud API integration.
	ChannelWhatsApp Channel = "whatsapp"
)

// SupportsDirectReply reports whether the channel can receive outbound
// messages initiated by the system (e.g. reminder notifications).
func (c Channel) SupportsDirectReply() bool {
	return c == ChannelTelegram || c == ChannelWhatsApp
}

// MessageKind classifies the payload of an inbound message.
type MessageKind string

const (
	KindText      MessageKind = "text"
	KindVoice     MessageKind = "voice"
	KindImage     MessageKind = "image"
	KindDocument  MessageKind = "document"
	KindVideo     MessageKind = "video"
	KindButton    MessageKind = "button"
	KindForwarded MessageKind = "forwarded"
)

// InboundMessage is the unified internal representation of a message received
// on any channel. Adapters normalize provider payloads into this value; it is
// immutable once constructed and consumed exactly once by the pipeline.
type InboundMessage struct {
	// Channel is the surface the message arrived on.
	Channel Channel `json:"channel"`

	// ExternalUserID is the provider-side user identifier (chat widget
	// messages carry the internal user ID here).
	ExternalUserID string `json:"external_user_id"`

	// ExternalMessageID is the provider-side message identifier used for
	// duplicate-delivery suppression. Empty when the provider does not
	// assign one.
	ExternalMessageID string `json:"external_message_id,omitempty"`

	// Kind classifies the original payload. Voice and media kinds still
	// carry derived text (transcript or extracted preview).
	Kind MessageKind `json:"kind"`

	// Text is the message text: raw text, transcript for voice, or the
	// caption/extracted annotation for media.
	Text string `json:"text"`

	// MediaRef is an opaque provider handle to the raw bytes (Telegram
	// file_id, WhatsApp media id). Empty for text messages.
	MediaRef string `json:"media_ref,omitempty"`

	// AttachmentRefs are additional attachment handles supplied alongside
	// the text. The chat widget sends the upload URLs of its attachments
	// here; they run through the extractor like provider media.
	AttachmentRefs []string `json:"attachment_refs,omitempty"`

	// ButtonID is the provider button payload for button-click messages.
	ButtonID string `json:"button_id,omitempty"`

	// IsForwarded marks messages the user forwarded from elsewhere, for
	// provenance tracking. It does not change routing.
	IsForwarded bool `json:"is_forwarded,omitempty"`
}

// Button is a quick-reply suggestion attached to an outbound reply.
type Button struct {
	// ID is the payload returned when the user taps the button.
	ID string `json:"id"`

	// Label is the visible button text. Providers enforce their own length
	// caps; adapters truncate as needed.
	Label string `json:"label"`
}

// Reply is a channel-agnostic outbound message. Adapters translate it into
// the provider wire format.
type Reply struct {
	// Text is the reply body.
	Text string `json:"text"`

	// Buttons holds up to MaxReplyButtons quick-reply suggestions.
	Buttons []Button `json:"buttons,omitempty"`

	// RetrievedMemories lists the memories a recall answer drew from.
	// Messaging adapters deliver only Text and Buttons; the chat API
	// surfaces these alongside the reply.
	RetrievedMemories []Memory `json:"-"`

	// CreatedMemory is the memory a capture reply stored, when it stored
	// one.
	CreatedMemory *Memory `json:"-"`
}

// MaxReplyButtons is the cross-provider cap on quick-reply buttons.
const MaxReplyButtons = 3
