package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/pkg/types"
)

func TestEmbedderRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "remember the dentist", req.Input)

		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(EmbedderConfig{BaseURL: server.URL, Dimension: 3})

	embedding, err := embedder.Embed(context.Background(), "remember the dentist")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}},
		})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(EmbedderConfig{BaseURL: server.URL, Dimension: 3})

	_, err := embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedderServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(EmbedderConfig{BaseURL: server.URL, Dimension: 3})

	_, err := embedder.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(EmbedderConfig{
		BaseURL:   server.URL,
		Dimension: 3,
		Breaker:   BreakerConfig{MaxFailures: 2, Timeout: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := embedder.Embed(ctx, "text")
		require.Error(t, err)
	}
	assert.Equal(t, "open", embedder.State())

	// The open circuit rejects without reaching the server.
	_, err := embedder.Embed(ctx, "text")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleterRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(generateResponse{Response: "recall", Done: true})
	}))
	defer server.Close()

	completer := NewHTTPCompleter(CompleterConfig{BaseURL: server.URL})

	text, err := completer.Complete(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, "recall", text)
}

func TestTranscriberRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "audio.ogg", header.Filename)

		_ = json.NewEncoder(w).Encode(transcriptionResponse{Text: "buy oat milk"})
	}))
	defer server.Close()

	transcriber := NewHTTPTranscriber(TranscriberConfig{BaseURL: server.URL})

	text, err := transcriber.Transcribe(context.Background(), []byte("fake-ogg"), "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", text)
}

func TestTranscriberRejectsEmptyAudio(t *testing.T) {
	transcriber := NewHTTPTranscriber(TranscriberConfig{BaseURL: "http://localhost:0"})

	_, err := transcriber.Transcribe(context.Background(), nil, "audio/ogg")
	require.Error(t, err)
}

func TestEmailNotifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send", r.URL.Path)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))

		var req emailSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)
		assert.Equal(t, "Reminder", req.Subject)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewHTTPEmailNotifier(EmailNotifierConfig{BaseURL: server.URL, APIKey: "key-123"})

	err := notifier.Notify(context.Background(), "user-1", types.NotifyEmail, "Reminder", "Renew passport")
	require.NoError(t, err)

	err = notifier.Notify(context.Background(), "user-1", types.NotifyTelegram, "Reminder", "Renew passport")
	require.Error(t, err)
}
