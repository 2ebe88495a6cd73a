package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/everkeep/everkeep/pkg/types"
)

// EventHub delivers chat replies to connected widget sessions over
// WebSockets. Sessions are keyed by user so a reply reaches every open tab of
// that user and nobody else. It implements channel.ReplyBroadcaster for the
// chat adapter.
type EventHub struct {
	register   chan *session
	unregister chan *session
	broadcast  chan userEvent

	mu       sync.RWMutex
	sessions map[string]map[*session]bool

	ctx    context.Context
	cancel context.CancelFunc
}

type userEvent struct {
	userID string
	data   []byte
}

type session struct {
	hub    *EventHub
	userID string
	conn   *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send   chan []byte
}

// NewEventHub creates the hub. Call Run in a goroutine to start delivery.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		register:   make(chan *session),
		unregister: make(chan *session),
		broadcast:  make(chan userEvent, 256),
		sessions:   make(map[string]map[*session]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and deliveries until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			if h.sessions[s.userID] == nil {
				h.sessions[s.userID] = make(map[*session]bool)
			}
			h.sessions[s.userID][s] = true
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if set := h.sessions[s.userID]; set[s] {
				delete(set, s)
				close(s.send)
				if len(set) == 0 {
					delete(h.sessions, s.userID)
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for s := range h.sessions[event.userID] {
				select {
				case s.send <- event.data:
				default:
					// The session is not draining its buffer; drop it
					// rather than block everyone else's delivery.
					close(s.send)
					delete(h.sessions[event.userID], s)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes every open session.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for _, set := range h.sessions {
		for s := range set {
			close(s.send)
			_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down") //nolint:staticcheck
		}
	}
	h.sessions = make(map[string]map[*session]bool)
	h.mu.Unlock()
}

// Broadcast delivers a reply to every open session of the user. A user with
// no open sessions is not an error; widget replies also travel back on the
// HTTP response.
func (h *EventHub) Broadcast(externalUserID string, reply types.Reply) error {
	data, err := json.Marshal(map[string]any{"type": "reply", "reply": reply})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- userEvent{userID: externalUserID, data: data}:
	default:
		log.Printf("WARNING: hub: broadcast channel full, dropping reply for user %s", externalUserID)
	}
	return nil
}

// ServeHTTP upgrades a widget connection. The identity provider in front of
// the server authenticates the user and passes the ID through.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil) //nolint:staticcheck
	if err != nil {
		log.Printf("ERROR: hub: websocket upgrade failed: %v", err)
		return
	}

	s := &session{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
	h.register <- s

	go s.writePump()
	go s.readPump()
}

// writePump sends queued events to the connection.
func (s *session) writePump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.ctx.Done():
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck
	}()

	for message := range s.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains the connection to detect disconnects. Widget messages
// arrive through the chat API, not the socket.
func (s *session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.ctx.Done():
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck
	}()

	for {
		if _, _, err := s.conn.Read(context.Background()); err != nil { //nolint:staticcheck
			return
		}
	}
}
