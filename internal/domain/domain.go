// Package domain defines the entities persisted by the storage adapter,
// shared verbatim by both dialect implementations and by the viewer API.
package domain

import "time"

// ChatType is one of the three dialog kinds the archive tracks.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

// Chat is a dialog: a private chat, a basic group, or a channel/supergroup.
// ID is always the marked form (internal/chatid).
type Chat struct {
	ID                   int64     `json:"id"`
	Type                 ChatType  `json:"type"`
	Title                string    `json:"title,omitempty"`
	Username             string    `json:"username,omitempty"`
	FirstName            string    `json:"first_name,omitempty"`
	LastName             string    `json:"last_name,omitempty"`
	Phone                string    `json:"phone,omitempty"`
	Description          string    `json:"description,omitempty"`
	ParticipantsCount    int       `json:"participants_count,omitempty"`
	LastSyncedMessageID  int64     `json:"last_synced_message_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	AvatarURL            string    `json:"avatar_url,omitempty"`
}

// Message's composite primary key is (ID, ChatID): ids are only unique within a chat.
type Message struct {
	ID            int64     `json:"id"`
	ChatID        int64     `json:"chat_id"`
	SenderID      int64     `json:"sender_id,omitempty"`
	Date          time.Time `json:"date"`
	Text          string    `json:"text,omitempty"`
	ReplyToMsgID  int64     `json:"reply_to_msg_id,omitempty"`
	ReplyToText   string    `json:"reply_to_text,omitempty"`
	ForwardFromID int64     `json:"forward_from_id,omitempty"`
	EditDate      time.Time `json:"edit_date,omitempty"`
	MediaType     string    `json:"media_type,omitempty"`
	MediaID       string    `json:"media_id,omitempty"`
	MediaPath     string    `json:"media_path,omitempty"`
	RawData       RawData   `json:"raw_data,omitempty"`
	IsOutgoing    bool      `json:"is_outgoing"`
	CreatedAt     time.Time `json:"created_at"`
}

// User is the sender of a message.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Media is a downloaded (or pending) file. ID is the stable content/file
// identifier derived from Telegram's file-unique-id.
type Media struct {
	ID           string     `json:"id"`
	MessageID    int64      `json:"message_id"`
	ChatID       int64      `json:"chat_id"`
	Type         string     `json:"type"`
	FilePath     string     `json:"file_path,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	MimeType     string     `json:"mime_type,omitempty"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	Duration     int        `json:"duration,omitempty"`
	Downloaded   bool       `json:"downloaded"`
	DownloadDate *time.Time `json:"download_date,omitempty"`
}

// Reaction is a per-user (or anonymous-aggregate) emoji reaction on a message.
type Reaction struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	Emoji     string `json:"emoji"`
	UserID    int64  `json:"user_id,omitempty"`
	Count     int    `json:"count"`
}

// SyncStatus tracks the incremental-pull cursor and running message count for one chat.
type SyncStatus struct {
	ChatID        int64     `json:"chat_id"`
	LastMessageID int64     `json:"last_message_id"`
	LastSyncDate  time.Time `json:"last_sync_date"`
	MessageCount  int64     `json:"message_count"`
}

// PushSubscription is a Web Push endpoint registered by a viewer session.
// A nil ChatID means the subscription is global (receives every chat's new_message events).
type PushSubscription struct {
	Endpoint   string    `json:"endpoint"`
	P256dh     string    `json:"p256dh"`
	Auth       string    `json:"auth"`
	ChatID     *int64    `json:"chat_id,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// MessageReactions is the per-message reaction payload collected during ingestion,
// before it is flattened into Reaction rows.
type MessageReactions struct {
	MessageID int64
	ChatID    int64
	Items     []ReactionItem
}

// ReactionItem is one emoji's tally on a message, as collected off the wire.
type ReactionItem struct {
	Emoji   string  `json:"emoji"`
	Count   int     `json:"count"`
	UserIDs []int64 `json:"user_ids,omitempty"`
}
