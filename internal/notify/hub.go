package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telegram-archive/internal/logging"
)

// Hub owns every connected viewer WebSocket session and fans out events to
// them. All mutation of the session set happens on the single goroutine
// running Run, so sessions never need their own locks for membership.
type Hub struct {
	register   chan *session
	unregister chan *session
	broadcast  chan Event
	sessions   map[*session]struct{}

	mu       sync.Mutex
	snapshot []*session
}

type session struct {
	conn *websocket.Conn
	send chan wireMessage

	mu         sync.Mutex
	subscribed bool
	chatID     int64 // meaningful only once subscribed; 0 means every chat
}

func (s *session) subscribe(chatID int64) {
	s.mu.Lock()
	s.subscribed = true
	s.chatID = chatID
	s.mu.Unlock()
}

func (s *session) unsubscribe() {
	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()
}

func (s *session) wants(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed && (s.chatID == 0 || event.ChatID == 0 || s.chatID == event.ChatID)
}

// wireMessage is both the client action and the server message shape for
// /ws/updates: {type, chat_id, data}, plus a human-readable error message.
type wireMessage struct {
	Action  string `json:"action,omitempty"`
	Type    string `json:"type,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func eventToWire(event Event) wireMessage {
	wireType := string(event.Type)
	switch event.Type {
	case EventMessageEdited:
		wireType = "edit"
	case EventMessageDeleted:
		wireType = "delete"
	}
	return wireMessage{Type: wireType, ChatID: event.ChatID, Data: event.Payload}
}

// NewHub constructs an idle Hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *session),
		unregister: make(chan *session),
		broadcast:  make(chan Event, 256),
		sessions:   make(map[*session]struct{}),
	}
}

// Run owns the Hub's state and must be started exactly once, typically in
// its own goroutine from cmd/viewer's main.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				close(s.send)
			}
			h.sessions = nil
			h.snapshot = nil
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			h.refreshSnapshot()
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
				h.refreshSnapshot()
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			targets := h.snapshot
			h.mu.Unlock()
			msg := eventToWire(event)
			for _, s := range targets {
				if !s.wants(event) {
					continue
				}
				select {
				case s.send <- msg:
				default:
					logging.Warn().Msg("dropping websocket event: session send buffer full")
				}
			}
		}
	}
}

func (h *Hub) refreshSnapshot() {
	snap := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		snap = append(snap, s)
	}
	h.snapshot = snap
}

// Publish implements notify.Publisher by queueing the event for fan-out.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve upgrades conn and relays broadcast events to it, driven by the
// client's own subscribe/unsubscribe/ping actions, until the connection
// closes or ctx is cancelled. A session receives nothing until its first
// subscribe action.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	s := &session{conn: conn, send: make(chan wireMessage, 32)}

	select {
	case h.register <- s:
	case <-ctx.Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- s:
		case <-ctx.Done():
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range s.send {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				logging.Warn().Err(err).Msg("websocket write failed")
				return
			}
		}
	}()

	conn.SetReadLimit(512)
	for {
		var action wireMessage
		if err := conn.ReadJSON(&action); err != nil {
			break
		}
		h.handleAction(s, action)
	}
	conn.Close()
	<-done
}

func (h *Hub) handleAction(s *session, action wireMessage) {
	reply := func(msg wireMessage) {
		select {
		case s.send <- msg:
		default:
		}
	}
	switch action.Action {
	case "subscribe":
		s.subscribe(action.ChatID)
		reply(wireMessage{Type: "subscribed", ChatID: action.ChatID})
	case "unsubscribe":
		s.unsubscribe()
		reply(wireMessage{Type: "unsubscribed", ChatID: action.ChatID})
	case "ping":
		reply(wireMessage{Type: "pong"})
	default:
		reply(wireMessage{Type: "error", Message: "unknown action"})
	}
}

// MarshalEvent is a convenience for callers (e.g. the internal push
// handler) that need the raw bytes without going through a websocket.Conn.
func MarshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
