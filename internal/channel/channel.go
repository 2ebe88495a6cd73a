// Package channel normalizes provider-specific messaging surfaces (Telegram,
// WhatsApp Cloud API, the embedded chat widget) behind one Adapter contract.
// Adapters verify webhook authenticity, decode provider payloads into the
// unified inbound form, translate channel-agnostic replies back to provider
// wire formats, and fetch raw media bytes by provider handle.
package channel

import (
	"context"
	"errors"
	"net/http"

	"github.com/everkeep/everkeep/pkg/types"
)

// ErrSignature is returned when webhook authenticity verification fails.
// It is the only webhook error that maps to an HTTP 401; malformed payloads
// from an authentic sender are acknowledged and dropped instead, so the
// provider does not redeliver them forever.
var ErrSignature = errors.New("channel: webhook signature verification failed")

// ErrUnsupported is returned for operations a channel has no surface for,
// such as fetching media through the chat widget adapter.
var ErrUnsupported = errors.New("channel: operation not supported")

// Adapter is the per-provider integration surface.
type Adapter interface {
	// Channel identifies the provider this adapter serves.
	Channel() types.Channel

	// VerifyWebhook checks the authenticity of an incoming webhook request
	// before any payload processing. The body is passed separately because
	// signature schemes (WhatsApp) sign the raw bytes.
	VerifyWebhook(r *http.Request, body []byte) error

	// DecodeWebhook translates a verified provider payload into inbound
	// messages. Entries the adapter cannot represent (status updates,
	// unsupported kinds) are skipped, not errored: the webhook must still
	// be acknowledged.
	DecodeWebhook(body []byte) ([]types.InboundMessage, error)

	// Send delivers a reply to the provider-side user.
	Send(ctx context.Context, externalUserID string, reply types.Reply) error

	// FetchMedia downloads the raw bytes behind a provider media handle,
	// returning the payload and its MIME type.
	FetchMedia(ctx context.Context, mediaRef string) ([]byte, string, error)
}

// truncateLabel caps a button label at the provider's limit, reserving one
// rune for an ellipsis when truncation happens.
func truncateLabel(label string, max int) string {
	r := []rune(label)
	if len(r) <= max {
		return label
	}
	if max < 1 {
		return ""
	}
	return string(r[:max-1]) + "…"
}
