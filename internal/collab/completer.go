package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCompleter talks to a completion service exposing an Ollama-compatible
// /api/generate endpoint.
type HTTPCompleter struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *breaker
}

// CompleterConfig holds completion client configuration.
type CompleterConfig struct {
	// BaseURL is the base URL for the completion API (default: http://localhost:11434).
	BaseURL string

	// Model is the model name (default: phi3:mini).
	Model string

	// Timeout is the per-request timeout (default: 30s — generation is slow).
	Timeout time.Duration

	Breaker BreakerConfig
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewHTTPCompleter creates a completion client with circuit breaker protection.
func NewHTTPCompleter(config CompleterConfig) *HTTPCompleter {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "phi3:mini"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPCompleter{
		baseURL: config.BaseURL,
		model:   config.Model,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: newBreaker("completer", config.Breaker),
	}
}

// Complete sends a prompt and returns the generated text.
func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.breaker.execute(ctx, func() (any, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPCompleter) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("collab: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("collab: create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: completion service returned %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("collab: decode generate response: %w", err)
	}
	return parsed.Response, nil
}

// State reports the breaker state for health endpoints.
func (c *HTTPCompleter) State() string {
	return c.breaker.state()
}
