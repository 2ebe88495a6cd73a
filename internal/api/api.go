// Package api exposes the HTTP surface: provider webhooks, the chat
// endpoint, and the REST API over memories, reminders, tags, and search.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/ingest"
	"github.com/everkeep/everkeep/internal/relationship"
	"github.com/everkeep/everkeep/internal/retrieval"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/internal/tags"
)

// userHeader names the caller on authenticated API requests. The identity
// provider in front of the API sets it; webhooks resolve identity through
// the channel mapping instead.
const userHeader = "X-Everkeep-User"

// StateReporter exposes a circuit breaker state for the health endpoint.
type StateReporter interface {
	State() string
}

// Handlers carries the wired application components the HTTP layer fronts.
type Handlers struct {
	store         storage.Store
	pipeline      *ingest.Pipeline
	searcher      *retrieval.Searcher
	relationships *relationship.Engine
	consolidator  *tags.Consolidator
	embedder      collab.Embedder

	telegram *channel.TelegramAdapter
	whatsapp *channel.WhatsAppAdapter
	hub      http.Handler

	// collaborator breaker states surfaced by /health, keyed by name
	reporters map[string]StateReporter
}

// Config wires the handlers. Nil channel adapters disable their webhook
// routes; a nil hub disables /ws.
type Config struct {
	Store         storage.Store
	Pipeline      *ingest.Pipeline
	Searcher      *retrieval.Searcher
	Relationships *relationship.Engine
	Consolidator  *tags.Consolidator
	Embedder      collab.Embedder

	Telegram *channel.TelegramAdapter
	WhatsApp *channel.WhatsAppAdapter
	Hub      http.Handler

	Reporters map[string]StateReporter
}

// New creates the HTTP handlers.
func New(config Config) *Handlers {
	return &Handlers{
		store:         config.Store,
		pipeline:      config.Pipeline,
		searcher:      config.Searcher,
		relationships: config.Relationships,
		consolidator:  config.Consolidator,
		embedder:      config.Embedder,
		telegram:      config.Telegram,
		whatsapp:      config.WhatsApp,
		hub:           config.Hub,
		reporters:     config.Reporters,
	}
}

// Router assembles the route tree. The auth middleware guards /api only:
// webhooks authenticate with their own signatures, and /health stays open
// for monitoring.
func (h *Handlers) Router(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)

	if h.telegram != nil {
		r.Post("/webhooks/telegram", h.TelegramWebhook)
	}
	if h.whatsapp != nil {
		r.Get("/webhooks/whatsapp", h.WhatsAppVerify)
		r.Post("/webhooks/whatsapp", h.WhatsAppWebhook)
	}

	if h.hub != nil {
		r.Handle("/ws", h.hub)
	}

	r.Route("/api", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Post("/chat", h.Chat)
		r.Get("/search", h.Search)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", h.ListMemories)
			r.Get("/{id}", h.GetMemory)
			r.Patch("/{id}", h.UpdateMemory)
			r.Delete("/{id}", h.DeleteMemory)
			r.Post("/{id}/links/{otherID}", h.LinkMemories)
			r.Delete("/{id}/links/{otherID}", h.UnlinkMemories)
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", h.CreateReminder)
			r.Get("/", h.ListReminders)
			r.Get("/{id}", h.GetReminder)
			r.Patch("/{id}", h.UpdateReminder)
			r.Delete("/{id}", h.CancelReminder)
		})

		r.Get("/tags", h.ListTags)
		r.Post("/tags/merge", h.MergeTags)
	})

	return r
}

// userID extracts the calling user from the request, or writes a 400.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userHeader)
	if id == "" {
		id = r.URL.Query().Get("user_id")
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing user identity")
		return "", false
	}
	return id, true
}

// decodeBody parses a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: api: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStorageError maps the storage error taxonomy onto HTTP statuses.
// Missing rows and rows owned by someone else both read as 404.
func respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, collab.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "a backing service is unavailable")
	default:
		log.Printf("ERROR: api: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// Health reports liveness and the collaborator circuit states.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	collaborators := make(map[string]string, len(h.reporters))
	for name, reporter := range h.reporters {
		collaborators[name] = reporter.State()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"collaborators": collaborators,
	})
}
