// Package notify implements the notification fabric: chat-domain
// events are published once and fanned out to the WebSocket hub and the
// Web Push bridge, with the publish transport itself switching between
// PostgreSQL LISTEN/NOTIFY and an HTTP webhook depending on the storage
// dialect in use.
package notify

import (
	"context"
	"time"
)

// EventType names the kinds of realtime events the viewer and push bridge consume.
type EventType string

const (
	EventNewMessage    EventType = "new_message"
	EventMessageEdited EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventChatUpdated   EventType = "chat_updated"
	EventChatDeleted   EventType = "chat_deleted"
)

// Event is the wire payload carried across every transport: LISTEN/NOTIFY,
// the internal push webhook, and the browser-facing WebSocket connection.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher broadcasts an Event to every interested subscriber.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
