package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everkeep/everkeep/internal/storage"
)

// ListMemories returns the caller's memories, newest first, with limit/offset
// pagination.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	opts := listOptions(r)
	memories, err := h.store.ListMemories(r.Context(), user, opts)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"memories": memories,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

// GetMemory returns a single memory with its tags.
func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	memory, err := h.store.GetMemory(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	tags, err := h.store.TagsForMemory(r.Context(), memory.ID)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"memory": memory,
		"tags":   tags,
	})
}

// UpdateMemory patches the editable fields of a memory. A content change
// recomputes the embedding and refreshes the memory's automatic links; when
// the embedding service is down the text change still lands and the memory
// stays keyword-searchable.
func (h *Handlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title      *string `json:"title"`
		Content    *string `json:"content"`
		Summary    *string `json:"summary"`
		CategoryID *string `json:"category_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	memory, err := h.store.GetMemory(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		respondStorageError(w, err)
		return
	}

	if req.Title != nil {
		memory.Title = *req.Title
	}
	if req.Summary != nil {
		memory.Summary = *req.Summary
	}
	if req.CategoryID != nil {
		memory.CategoryID = *req.CategoryID
	}

	contentChanged := req.Content != nil && *req.Content != memory.Content
	if contentChanged {
		if *req.Content == "" {
			respondError(w, http.StatusBadRequest, "content cannot be empty")
			return
		}
		memory.Content = *req.Content
		memory.Embedding = nil
		if h.embedder != nil {
			embedding, err := h.embedder.Embed(r.Context(), memory.Content)
			if err != nil {
				log.Printf("WARNING: api: re-embed memory %s: %v", memory.ID, err)
			} else {
				memory.Embedding = embedding
			}
		}
	}
	memory.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateMemory(r.Context(), memory); err != nil {
		respondStorageError(w, err)
		return
	}

	if contentChanged && len(memory.Embedding) > 0 && h.relationships != nil {
		if _, err := h.relationships.DiscoverAndLink(r.Context(), user, memory.ID, memory.Embedding); err != nil {
			log.Printf("WARNING: api: refresh links for %s: %v", memory.ID, err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"memory": memory})
}

// DeleteMemory soft-deletes a memory.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteMemory(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// LinkMemories records a manual edge between two of the caller's memories.
func (h *Handlers) LinkMemories(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	a, b, ok := h.ownedPair(w, r, user)
	if !ok {
		return
	}
	if err := h.relationships.LinkManual(r.Context(), a, b); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "linked"})
}

// UnlinkMemories removes the edge between two of the caller's memories.
func (h *Handlers) UnlinkMemories(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	a, b, ok := h.ownedPair(w, r, user)
	if !ok {
		return
	}
	if err := h.relationships.Unlink(r.Context(), a, b); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// ownedPair resolves both link endpoints and confirms the caller owns them.
// GetMemory already reports another user's rows as not found.
func (h *Handlers) ownedPair(w http.ResponseWriter, r *http.Request, user string) (string, string, bool) {
	a := chi.URLParam(r, "id")
	b := chi.URLParam(r, "otherID")
	for _, id := range []string{a, b} {
		if _, err := h.store.GetMemory(r.Context(), user, id); err != nil {
			respondStorageError(w, err)
			return "", "", false
		}
	}
	return a, b, true
}

// Search runs hybrid retrieval over the caller's memories.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.searcher.HybridSearch(r.Context(), user, query, limit)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"memories": result.Memories,
		"degraded": result.Degraded,
	})
}

func listOptions(r *http.Request) storage.ListOptions {
	var opts storage.ListOptions
	opts.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	opts.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	opts.Normalize()
	return opts
}
