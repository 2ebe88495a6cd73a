package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/everkeep/everkeep/pkg/types"
)

// chatMediaMax caps downloaded widget attachments.
const chatMediaMax = 20 << 20

// ReplyBroadcaster pushes a reply to a connected chat session. The websocket
// hub in the server package implements it.
type ReplyBroadcaster interface {
	Broadcast(externalUserID string, reply types.Reply) error
}

// ChatAdapter serves the embedded chat widget. Inbound messages arrive
// through the REST API and the websocket, not a provider webhook, so the
// webhook surface is unsupported; replies go out through the hub.
type ChatAdapter struct {
	hub    ReplyBroadcaster
	client *http.Client
}

// NewChatAdapter creates a chat widget adapter backed by the given hub.
func NewChatAdapter(hub ReplyBroadcaster) *ChatAdapter {
	return &ChatAdapter{
		hub:    hub,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Channel identifies this adapter.
func (a *ChatAdapter) Channel() types.Channel {
	return types.ChannelChat
}

// VerifyWebhook is unsupported: the chat widget has no webhook.
func (a *ChatAdapter) VerifyWebhook(_ *http.Request, _ []byte) error {
	return ErrUnsupported
}

// DecodeWebhook is unsupported: the chat widget has no webhook.
func (a *ChatAdapter) DecodeWebhook(_ []byte) ([]types.InboundMessage, error) {
	return nil, ErrUnsupported
}

// Send pushes the reply to the user's live websocket session. Synchronous
// chat requests receive the reply in the HTTP response instead and never
// reach this path.
func (a *ChatAdapter) Send(_ context.Context, externalUserID string, reply types.Reply) error {
	if a.hub == nil {
		return fmt.Errorf("chat: no hub configured")
	}
	if err := a.hub.Broadcast(externalUserID, reply); err != nil {
		return fmt.Errorf("chat: broadcast reply: %w", err)
	}
	return nil
}

// FetchMedia downloads a widget attachment. The widget uploads attachments
// to storage before sending the message, so refs are plain http(s) URLs.
func (a *ChatAdapter) FetchMedia(ctx context.Context, mediaRef string) ([]byte, string, error) {
	u, err := url.Parse(mediaRef)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: attachment ref %q is not a URL", ErrUnsupported, mediaRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaRef, nil)
	if err != nil {
		return nil, "", fmt.Errorf("chat: create attachment request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("chat: download attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("chat: attachment download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, chatMediaMax))
	if err != nil {
		return nil, "", fmt.Errorf("chat: read attachment body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
