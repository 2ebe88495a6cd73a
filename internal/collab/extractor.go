package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPExtractor uploads an attachment (image, document, video) to an
// extraction service and returns a text preview: a caption for images, OCR
// or summary text for documents.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
	breaker *breaker
}

// ExtractorConfig holds attachment extraction client configuration.
type ExtractorConfig struct {
	// BaseURL is the base URL for the extraction API.
	BaseURL string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration

	Breaker BreakerConfig
}

type extractResponse struct {
	Text string `json:"text"`
}

// NewHTTPExtractor creates an extraction client with circuit breaker
// protection.
func NewHTTPExtractor(config ExtractorConfig) *HTTPExtractor {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &HTTPExtractor{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: newBreaker("extractor", config.Breaker),
	}
}

// Extract uploads the attachment and returns its text preview.
func (e *HTTPExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	result, err := e.breaker.execute(ctx, func() (any, error) {
		return e.extract(ctx, data, mimeType)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (e *HTTPExtractor) extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("collab: attachment payload is empty")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("content_type", mimeType); err != nil {
		return "", fmt.Errorf("collab: write content_type field: %w", err)
	}
	part, err := writer.CreateFormFile("file", "attachment")
	if err != nil {
		return "", fmt.Errorf("collab: create attachment part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("collab: write attachment part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("collab: finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", &buf)
	if err != nil {
		return "", fmt.Errorf("collab: create extract request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: extract: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: extraction service returned %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("collab: decode extract response: %w", err)
	}
	return parsed.Text, nil
}

// State reports the breaker state for health endpoints.
func (e *HTTPExtractor) State() string {
	return e.breaker.state()
}
