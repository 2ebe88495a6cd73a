// Package collab holds the narrow client interfaces for the external
// collaborator services the assistant depends on: embeddings, transcription,
// attachment extraction, text completion, and notification delivery. Every
// HTTP implementation wraps its calls in a circuit breaker so a struggling
// collaborator degrades the feature that needs it instead of the whole
// pipeline.
package collab

import (
	"context"
	"errors"

	"github.com/everkeep/everkeep/pkg/types"
)

// ErrUnavailable is returned when a collaborator cannot serve the request —
// transport failure, non-2xx response, or an open circuit breaker. Callers
// treat it as transient: degrade the feature, apologize, never lose the
// user's message.
var ErrUnavailable = errors.New("collaborator unavailable")

// Embedder computes fixed-dimension semantic vectors for text.
type Embedder interface {
	// Embed returns the embedding for the given text. The returned vector
	// always has Dimension() elements.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the embedding dimensionality.
	Dimension() int
}

// Transcriber converts voice audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// AttachmentExtractor produces a text preview (caption, OCR, summary) for a
// binary attachment.
type AttachmentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Completer generates a text completion for a prompt. Used for intent
// classification and reply enrichment.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Notifier delivers a reminder notification on one channel.
type Notifier interface {
	// Notify sends the message to the user on the given delivery channel.
	Notify(ctx context.Context, userID string, channel types.NotifyChannel, subject, body string) error
}
