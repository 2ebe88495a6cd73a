package channel

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/everkeep/everkeep/pkg/types"
)

const (
	// telegramSecretHeader carries the webhook secret Telegram echoes back
	// on every delivery when set via setWebhook.
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	// telegramLabelMax is Telegram's inline keyboard button text limit.
	telegramLabelMax = 64

	// telegramMediaMax caps downloaded media size (Telegram bot API files
	// are limited to 20 MB anyway).
	telegramMediaMax = 20 << 20
)

// TelegramAdapter integrates the Telegram Bot API.
type TelegramAdapter struct {
	token       string
	secretToken string
	apiBase     string
	client      *http.Client
}

// TelegramConfig holds Telegram adapter configuration.
type TelegramConfig struct {
	// Token is the bot token from BotFather.
	Token string

	// SecretToken is the webhook secret registered via setWebhook.
	SecretToken string

	// APIBase overrides the API host, for tests (default: https://api.telegram.org).
	APIBase string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// NewTelegramAdapter creates a Telegram adapter.
func NewTelegramAdapter(config TelegramConfig) *TelegramAdapter {
	if config.APIBase == "" {
		config.APIBase = "https://api.telegram.org"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &TelegramAdapter{
		token:       config.Token,
		secretToken: config.SecretToken,
		apiBase:     config.APIBase,
		client:      &http.Client{Timeout: config.Timeout},
	}
}

// Channel identifies this adapter.
func (a *TelegramAdapter) Channel() types.Channel {
	return types.ChannelTelegram
}

// VerifyWebhook checks the secret token header in constant time.
func (a *TelegramAdapter) VerifyWebhook(r *http.Request, _ []byte) error {
	got := r.Header.Get(telegramSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.secretToken)) != 1 {
		return ErrSignature
	}
	return nil
}

// Telegram webhook payload shapes, limited to the fields the adapter reads.

type telegramUpdate struct {
	UpdateID      int64                  `json:"update_id"`
	Message       *telegramMessage       `json:"message"`
	CallbackQuery *telegramCallbackQuery `json:"callback_query"`
}

type telegramMessage struct {
	MessageID     int64              `json:"message_id"`
	From          *telegramUser      `json:"from"`
	Text          string             `json:"text"`
	Caption       string             `json:"caption"`
	Voice         *telegramFileRef   `json:"voice"`
	Audio         *telegramFileRef   `json:"audio"`
	Photo         []telegramFileRef  `json:"photo"`
	Document      *telegramFileRef   `json:"document"`
	Video         *telegramFileRef   `json:"video"`
	ForwardOrigin *telegramFwdOrigin `json:"forward_origin"`
}

type telegramUser struct {
	ID int64 `json:"id"`
}

type telegramFileRef struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
}

type telegramFwdOrigin struct {
	Type string `json:"type"`
}

type telegramCallbackQuery struct {
	ID   string        `json:"id"`
	From *telegramUser `json:"from"`
	Data string        `json:"data"`
}

// DecodeWebhook translates one Telegram update into inbound messages.
// Updates without a usable payload decode to an empty slice.
func (a *TelegramAdapter) DecodeWebhook(body []byte) ([]types.InboundMessage, error) {
	var update telegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("telegram: decode update: %w", err)
	}

	if cb := update.CallbackQuery; cb != nil && cb.From != nil {
		return []types.InboundMessage{{
			Channel:           types.ChannelTelegram,
			ExternalUserID:    strconv.FormatInt(cb.From.ID, 10),
			ExternalMessageID: "cb:" + cb.ID,
			Kind:              types.KindButton,
			ButtonID:          cb.Data,
		}}, nil
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil, nil
	}

	inbound := types.InboundMessage{
		Channel:           types.ChannelTelegram,
		ExternalUserID:    strconv.FormatInt(msg.From.ID, 10),
		ExternalMessageID: strconv.FormatInt(msg.MessageID, 10),
		IsForwarded:       msg.ForwardOrigin != nil,
	}

	switch {
	case msg.Voice != nil:
		inbound.Kind = types.KindVoice
		inbound.MediaRef = msg.Voice.FileID
	case msg.Audio != nil:
		inbound.Kind = types.KindVoice
		inbound.MediaRef = msg.Audio.FileID
	case len(msg.Photo) > 0:
		// Telegram sends multiple resolutions; the last entry is largest.
		inbound.Kind = types.KindImage
		inbound.MediaRef = msg.Photo[len(msg.Photo)-1].FileID
		inbound.Text = msg.Caption
	case msg.Document != nil:
		inbound.Kind = types.KindDocument
		inbound.MediaRef = msg.Document.FileID
		inbound.Text = msg.Caption
	case msg.Video != nil:
		inbound.Kind = types.KindVideo
		inbound.MediaRef = msg.Video.FileID
		inbound.Text = msg.Caption
	case msg.Text != "":
		inbound.Kind = types.KindText
		inbound.Text = msg.Text
	default:
		// Stickers, locations, service messages: ack and drop.
		return nil, nil
	}

	if inbound.IsForwarded && inbound.Kind == types.KindText {
		inbound.Kind = types.KindForwarded
	}

	return []types.InboundMessage{inbound}, nil
}

type telegramSendRequest struct {
	ChatID      string                `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *telegramInlineMarkup `json:"reply_markup,omitempty"`
}

type telegramInlineMarkup struct {
	InlineKeyboard [][]telegramInlineButton `json:"inline_keyboard"`
}

type telegramInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type telegramAPIResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Send delivers a reply via sendMessage. Markdown formatting is attempted
// first; on an entity parse rejection the message is retried as plain text
// so a stray underscore in memory content never loses a reply. Any other
// failure returns directly and is never retried into a double send.
func (a *TelegramAdapter) Send(ctx context.Context, externalUserID string, reply types.Reply) error {
	req := telegramSendRequest{
		ChatID:    externalUserID,
		Text:      reply.Text,
		ParseMode: "Markdown",
	}

	if len(reply.Buttons) > 0 {
		row := make([]telegramInlineButton, 0, len(reply.Buttons))
		for _, b := range reply.Buttons {
			row = append(row, telegramInlineButton{
				Text:         truncateLabel(b.Label, telegramLabelMax),
				CallbackData: b.ID,
			})
		}
		req.ReplyMarkup = &telegramInlineMarkup{InlineKeyboard: [][]telegramInlineButton{row}}
	}

	err := a.call(ctx, "sendMessage", req, nil)
	if err == nil {
		return nil
	}
	if !isEntityParseError(err) {
		return err
	}

	// Retry once without parse_mode.
	req.ParseMode = ""
	if retryErr := a.call(ctx, "sendMessage", req, nil); retryErr == nil {
		return nil
	}
	return err
}

// isEntityParseError matches the Bot API rejection for unbalanced Markdown
// entities in the message text.
func isEntityParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't parse entities")
}

// FetchMedia resolves a file_id via getFile and downloads the payload.
func (a *TelegramAdapter) FetchMedia(ctx context.Context, mediaRef string) ([]byte, string, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	err := a.call(ctx, "getFile", map[string]string{"file_id": mediaRef}, &file)
	if err != nil {
		return nil, "", err
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("telegram: getFile returned no file_path for %q", mediaRef)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", a.apiBase, a.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: create download request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: media download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, telegramMediaMax))
	if err != nil {
		return nil, "", fmt.Errorf("telegram: read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// call POSTs one Bot API method and decodes the result envelope.
func (a *TelegramAdapter) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", a.apiBase, a.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope telegramAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram: %s failed: %s", method, envelope.Description)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}
