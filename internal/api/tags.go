package api

import "net/http"

// ListTags returns the caller's tags ordered by usage.
func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	tags, err := h.store.ListTags(r.Context(), user)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// MergeTags runs tag consolidation over the caller's tags and reports what
// was merged.
func (h *Handlers) MergeTags(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	report, err := h.consolidator.MergeSimilarTags(r.Context(), user)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"report": report})
}
