package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/ingest"
	"github.com/everkeep/everkeep/pkg/types"
)

// webhookBodyMax bounds webhook payload reads. Provider payloads are small;
// anything bigger is not a real delivery.
const webhookBodyMax = 1 << 20

// TelegramWebhook receives Telegram updates. Verification failures get a
// 401; everything after a valid signature is acknowledged with 200 and
// processed asynchronously so Telegram never redelivers because of slow
// downstream work.
func (h *Handlers) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, h.telegram)
}

// WhatsAppWebhook receives WhatsApp Cloud API deliveries.
func (h *Handlers) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, h.whatsapp)
}

// WhatsAppVerify answers Meta's subscription handshake.
func (h *Handlers) WhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.whatsapp.VerifyToken() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	respondError(w, http.StatusUnauthorized, "verification failed")
}

func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request, adapter channel.Adapter) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyMax))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := adapter.VerifyWebhook(r, body); err != nil {
		if errors.Is(err, channel.ErrSignature) {
			respondError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
		respondStorageError(w, err)
		return
	}

	messages, err := adapter.DecodeWebhook(body)
	if err != nil {
		// Authenticated but malformed: ack so the provider stops
		// redelivering a payload that will never parse.
		log.Printf("WARNING: api: drop malformed %s webhook: %v", adapter.Channel(), err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range messages {
		h.pipeline.Submit(msg)
	}
	w.WriteHeader(http.StatusOK)
}

// Chat handles the synchronous chat widget endpoint. The reply comes back in
// the response; ordering against the user's in-flight messages still holds.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Message        string   `json:"message"`
		AttachmentRefs []string `json:"attachmentRefs"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.pipeline.Do(r.Context(), types.InboundMessage{
		Channel:        types.ChannelChat,
		ExternalUserID: user,
		Kind:           types.KindText,
		Text:           req.Message,
		AttachmentRefs: req.AttachmentRefs,
	})
	if errors.Is(err, ingest.ErrDuplicate) {
		respondJSON(w, http.StatusOK, map[string]any{"reply": nil, "duplicate": true})
		return
	}
	if err != nil {
		respondStorageError(w, err)
		return
	}

	resp := map[string]any{"reply": reply}
	if len(reply.RetrievedMemories) > 0 {
		resp["retrievedMemories"] = reply.RetrievedMemories
	}
	if reply.CreatedMemory != nil {
		resp["createdMemory"] = reply.CreatedMemory
	}
	respondJSON(w, http.StatusOK, resp)
}
