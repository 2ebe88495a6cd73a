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

// HTTPEmbedder talks to an embedding service exposing an Ollama-compatible
// /api/embed endpoint.
type HTTPEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	breaker   *breaker
}

// EmbedderConfig holds embedding client configuration.
type EmbedderConfig struct {
	// BaseURL is the base URL for the embedding API (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimension is the expected vector dimensionality (default: 768).
	Dimension int

	// Timeout is the per-request timeout (default: 10s).
	Timeout time.Duration

	Breaker BreakerConfig
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse carries a 2D array; single-input requests use the first row.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEmbedder creates an embedding client with circuit breaker protection.
func NewHTTPEmbedder(config EmbedderConfig) *HTTPEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &HTTPEmbedder{
		baseURL:   config.BaseURL,
		model:     config.Model,
		dimension: config.Dimension,
		client:    &http.Client{Timeout: config.Timeout},
		breaker:   newBreaker("embedder", config.Breaker),
	}
}

// Dimension reports the embedding dimensionality.
func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding vector for the given text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.breaker.execute(ctx, func() (any, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (e *HTTPEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("collab: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("collab: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: embed service returned %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("collab: decode embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("collab: embed service returned no embedding")
	}

	embedding := parsed.Embeddings[0]
	if len(embedding) != e.dimension {
		return nil, fmt.Errorf("collab: embed dimension mismatch: got %d, want %d", len(embedding), e.dimension)
	}
	return embedding, nil
}

// State reports the breaker state for health endpoints.
func (e *HTTPEmbedder) State() string {
	return e.breaker.state()
}
