package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/everkeep/everkeep/pkg/types"
)

const (
	// whatsappSignatureHeader carries the HMAC-SHA256 signature Meta computes
	// over the raw request body with the app secret.
	whatsappSignatureHeader = "X-Hub-Signature-256"

	// whatsappLabelMax is the Cloud API's interactive button title limit.
	whatsappLabelMax = 20

	whatsappMediaMax = 20 << 20
)

// WhatsAppAdapter integrates the WhatsApp Business Cloud API.
type WhatsAppAdapter struct {
	accessToken   string
	appSecret     string
	phoneNumberID string
	verifyToken   string
	apiBase       string
	client        *http.Client
}

// WhatsAppConfig holds WhatsApp adapter configuration.
type WhatsAppConfig struct {
	// AccessToken is the Cloud API bearer token.
	AccessToken string

	// AppSecret signs webhook payloads.
	AppSecret string

	// PhoneNumberID is the sending phone number resource ID.
	PhoneNumberID string

	// VerifyToken answers Meta's hub.challenge subscription handshake.
	VerifyToken string

	// APIBase overrides the API host, for tests (default: https://graph.facebook.com/v19.0).
	APIBase string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// NewWhatsAppAdapter creates a WhatsApp Cloud API adapter.
func NewWhatsAppAdapter(config WhatsAppConfig) *WhatsAppAdapter {
	if config.APIBase == "" {
		config.APIBase = "https://graph.facebook.com/v19.0"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &WhatsAppAdapter{
		accessToken:   config.AccessToken,
		appSecret:     config.AppSecret,
		phoneNumberID: config.PhoneNumberID,
		verifyToken:   config.VerifyToken,
		apiBase:       config.APIBase,
		client:        &http.Client{Timeout: config.Timeout},
	}
}

// Channel identifies this adapter.
func (a *WhatsAppAdapter) Channel() types.Channel {
	return types.ChannelWhatsApp
}

// VerifyToken returns the subscription handshake token for GET verification.
func (a *WhatsAppAdapter) VerifyToken() string {
	return a.verifyToken
}

// VerifyWebhook checks the HMAC-SHA256 payload signature against the app
// secret.
func (a *WhatsAppAdapter) VerifyWebhook(r *http.Request, body []byte) error {
	header := r.Header.Get(whatsappSignatureHeader)
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return ErrSignature
	}

	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrSignature
	}

	mac := hmac.New(sha256.New, []byte(a.appSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrSignature
	}
	return nil
}

// WhatsApp webhook payload shapes, limited to the fields the adapter reads.

type whatsappWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []whatsappMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsappMessage struct {
	ID          string               `json:"id"`
	From        string               `json:"from"`
	Type        string               `json:"type"`
	Text        *whatsappText        `json:"text"`
	Audio       *whatsappMedia       `json:"audio"`
	Image       *whatsappMedia       `json:"image"`
	Document    *whatsappMedia       `json:"document"`
	Video       *whatsappMedia       `json:"video"`
	Interactive *whatsappInteractive `json:"interactive"`
	Context     *whatsappContext     `json:"context"`
}

type whatsappText struct {
	Body string `json:"body"`
}

type whatsappMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type whatsappInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply"`
}

type whatsappContext struct {
	Forwarded           bool `json:"forwarded"`
	FrequentlyForwarded bool `json:"frequently_forwarded"`
}

// DecodeWebhook translates a Cloud API webhook batch into inbound messages.
// Status-only deliveries and unsupported message types decode to nothing.
func (a *WhatsAppAdapter) DecodeWebhook(body []byte) ([]types.InboundMessage, error) {
	var payload whatsappWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}

	var inbound []types.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				m, ok := a.decodeMessage(msg)
				if !ok {
					continue
				}
				inbound = append(inbound, m)
			}
		}
	}
	return inbound, nil
}

func (a *WhatsAppAdapter) decodeMessage(msg whatsappMessage) (types.InboundMessage, bool) {
	inbound := types.InboundMessage{
		Channel:           types.ChannelWhatsApp,
		ExternalUserID:    msg.From,
		ExternalMessageID: msg.ID,
	}
	if msg.Context != nil {
		inbound.IsForwarded = msg.Context.Forwarded || msg.Context.FrequentlyForwarded
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return inbound, false
		}
		inbound.Kind = types.KindText
		inbound.Text = msg.Text.Body
		if inbound.IsForwarded {
			inbound.Kind = types.KindForwarded
		}
	case "audio":
		if msg.Audio == nil {
			return inbound, false
		}
		inbound.Kind = types.KindVoice
		inbound.MediaRef = msg.Audio.ID
	case "image":
		if msg.Image == nil {
			return inbound, false
		}
		inbound.Kind = types.KindImage
		inbound.MediaRef = msg.Image.ID
		inbound.Text = msg.Image.Caption
	case "document":
		if msg.Document == nil {
			return inbound, false
		}
		inbound.Kind = types.KindDocument
		inbound.MediaRef = msg.Document.ID
		inbound.Text = msg.Document.Caption
	case "video":
		if msg.Video == nil {
			return inbound, false
		}
		inbound.Kind = types.KindVideo
		inbound.MediaRef = msg.Video.ID
		inbound.Text = msg.Video.Caption
	case "interactive":
		if msg.Interactive == nil || msg.Interactive.ButtonReply == nil {
			return inbound, false
		}
		inbound.Kind = types.KindButton
		inbound.ButtonID = msg.Interactive.ButtonReply.ID
	default:
		return inbound, false
	}

	return inbound, true
}

// Cloud API send payload shapes.

type whatsappSendRequest struct {
	MessagingProduct string                   `json:"messaging_product"`
	To               string                   `json:"to"`
	Type             string                   `json:"type"`
	Text             *whatsappText            `json:"text,omitempty"`
	Interactive      *whatsappSendInteractive `json:"interactive,omitempty"`
}

type whatsappSendInteractive struct {
	Type   string              `json:"type"`
	Body   whatsappText        `json:"body"`
	Action whatsappButtonGroup `json:"action"`
}

type whatsappButtonGroup struct {
	Buttons []whatsappButton `json:"buttons"`
}

type whatsappButton struct {
	Type  string              `json:"type"`
	Reply whatsappButtonReply `json:"reply"`
}

type whatsappButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Send delivers a reply, using an interactive message when the reply carries
// buttons and a plain text message otherwise.
func (a *WhatsAppAdapter) Send(ctx context.Context, externalUserID string, reply types.Reply) error {
	req := whatsappSendRequest{
		MessagingProduct: "whatsapp",
		To:               externalUserID,
	}

	if len(reply.Buttons) == 0 {
		req.Type = "text"
		req.Text = &whatsappText{Body: reply.Text}
	} else {
		buttons := make([]whatsappButton, 0, len(reply.Buttons))
		for _, b := range reply.Buttons {
			buttons = append(buttons, whatsappButton{
				Type: "reply",
				Reply: whatsappButtonReply{
					ID:    b.ID,
					Title: truncateLabel(b.Label, whatsappLabelMax),
				},
			})
		}
		req.Type = "interactive"
		req.Interactive = &whatsappSendInteractive{
			Type:   "button",
			Body:   whatsappText{Body: reply.Text},
			Action: whatsappButtonGroup{Buttons: buttons},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.apiBase, a.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: create send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: send returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// FetchMedia resolves a media ID to its download URL, then fetches the bytes
// with the same bearer token.
func (a *WhatsAppAdapter) FetchMedia(ctx context.Context, mediaRef string) ([]byte, string, error) {
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := a.getJSON(ctx, fmt.Sprintf("%s/%s", a.apiBase, mediaRef), &meta); err != nil {
		return nil, "", err
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("whatsapp: media %q has no download URL", mediaRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: create media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("whatsapp: media download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, whatsappMediaMax))
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: read media body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = meta.MimeType
	}
	return data, mimeType, nil
}

func (a *WhatsAppAdapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: API returned %d: %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}
