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

// HTTPTranscriber uploads voice audio to a transcription service and returns
// the recognized text.
type HTTPTranscriber struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *breaker
}

// TranscriberConfig holds transcription client configuration.
type TranscriberConfig struct {
	// BaseURL is the base URL for the transcription API.
	BaseURL string

	// Model is the transcription model name (default: whisper-1).
	Model string

	// Timeout is the per-request timeout (default: 60s — audio uploads are large).
	Timeout time.Duration

	Breaker BreakerConfig
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// NewHTTPTranscriber creates a transcription client with circuit breaker
// protection.
func NewHTTPTranscriber(config TranscriberConfig) *HTTPTranscriber {
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &HTTPTranscriber{
		baseURL: config.BaseURL,
		model:   config.Model,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: newBreaker("transcriber", config.Breaker),
	}
}

// Transcribe uploads the audio and returns the recognized text.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	result, err := t.breaker.execute(ctx, func() (any, error) {
		return t.transcribe(ctx, audio, mimeType)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (t *HTTPTranscriber) transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("collab: audio payload is empty")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("collab: write model field: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileNameFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("collab: create audio part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("collab: write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("collab: finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("collab: create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: transcribe: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: transcription service returned %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("collab: decode transcription response: %w", err)
	}
	return parsed.Text, nil
}

// fileNameFor picks an upload filename matching the audio MIME type; some
// transcription backends sniff the extension.
func fileNameFor(mimeType string) string {
	switch mimeType {
	case "audio/ogg", "application/ogg":
		return "audio.ogg"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	default:
		return "audio.bin"
	}
}

// State reports the breaker state for health endpoints.
func (t *HTTPTranscriber) State() string {
	return t.breaker.state()
}
