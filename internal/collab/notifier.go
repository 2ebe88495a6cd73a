package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/everkeep/everkeep/pkg/types"
)

// HTTPEmailNotifier delivers email notifications through a mail API. The
// mail service owns address resolution: it maps the internal user ID to the
// account email held by the identity provider.
type HTTPEmailNotifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *breaker
}

// EmailNotifierConfig holds mail API client configuration.
type EmailNotifierConfig struct {
	// BaseURL is the base URL for the mail API.
	BaseURL string

	// APIKey authenticates against the mail API.
	APIKey string

	// Timeout is the per-request timeout (default: 15s).
	Timeout time.Duration

	Breaker BreakerConfig
}

type emailSendRequest struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewHTTPEmailNotifier creates a mail API client with circuit breaker
// protection.
func NewHTTPEmailNotifier(config EmailNotifierConfig) *HTTPEmailNotifier {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	return &HTTPEmailNotifier{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: newBreaker("email", config.Breaker),
	}
}

// Notify sends an email notification. Only the email channel is supported;
// messaging channels are served by their adapters.
func (n *HTTPEmailNotifier) Notify(ctx context.Context, userID string, channel types.NotifyChannel, subject, body string) error {
	if channel != types.NotifyEmail {
		return fmt.Errorf("collab: email notifier cannot deliver to channel %q", channel)
	}

	_, err := n.breaker.execute(ctx, func() (any, error) {
		return nil, n.send(ctx, userID, subject, body)
	})
	return err
}

func (n *HTTPEmailNotifier) send(ctx context.Context, userID, subject, body string) error {
	payload, err := json.Marshal(emailSendRequest{UserID: userID, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("collab: marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("collab: create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: email: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: mail API returned %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}
	return nil
}

// State reports the breaker state for health endpoints.
func (n *HTTPEmailNotifier) State() string {
	return n.breaker.state()
}
