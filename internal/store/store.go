// Package store defines the storage adapter contract: one set of
// operations implemented twice, once over an embedded single-writer
// SQLite file (internal/store/sqlite) and once over a client/server
// PostgreSQL database (internal/store/postgres). Both implementations
// share the retry policy and timestamp-normalisation helpers in this
// package.
package store

import (
	"context"
	"iter"
	"time"

	"telegram-archive/internal/domain"
)

// MessagePage is one page of a chat's message history.
type MessagePage struct {
	Messages []domain.Message
	HasMore  bool
}

// MessageQuery selects a window of a chat's messages. Offset pagination
// (Limit/Offset) and cursor pagination (BeforeDate/BeforeID) are mutually
// usable; when both BeforeDate and BeforeID are set the adapter returns
// rows where (date, id) is strictly less than the tuple, ordered
// descending.
type MessageQuery struct {
	Limit      int
	Offset     int
	Search     string
	BeforeDate *time.Time
	BeforeID   *int64
}

// ChatQuery selects a window of the chat list.
type ChatQuery struct {
	Limit  int
	Offset int
	Search string
}

// ChatPage is one page of the chat list.
type ChatPage struct {
	Chats []domain.Chat
	Total int
}

// Stats is the cached-statistics payload behind GET /api/stats.
type Stats struct {
	ChatCount    int64     `json:"chat_count"`
	MessageCount int64     `json:"message_count"`
	MediaCount   int64     `json:"media_count"`
	MediaBytes   int64     `json:"media_bytes"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// ChatStats is the per-chat statistics payload behind GET /api/chats/{id}/stats.
type ChatStats struct {
	ChatID       int64     `json:"chat_id"`
	MessageCount int64     `json:"message_count"`
	MediaCount   int64     `json:"media_count"`
	FirstMessage time.Time `json:"first_message,omitempty"`
	LastMessage  time.Time `json:"last_message,omitempty"`
}

// Store is the full storage adapter contract shared by the sqlite and
// postgres implementations.
type Store interface {
	// Chats and users.
	UpsertChat(ctx context.Context, chat domain.Chat) error
	UpsertUser(ctx context.Context, user domain.User) error
	GetChat(ctx context.Context, chatID int64) (domain.Chat, error)
	GetAllChats(ctx context.Context, q ChatQuery) (ChatPage, error)
	DeleteChatAndRelatedData(ctx context.Context, chatID int64, mediaRoot string) error

	// Messages.
	InsertMessage(ctx context.Context, msg domain.Message) error
	InsertMessagesBatch(ctx context.Context, msgs []domain.Message) error
	UpdateMessageText(ctx context.Context, chatID, id int64, text string, editDate time.Time) error
	DeleteMessage(ctx context.Context, chatID, id int64) error
	DeleteMessageByIDAnyChat(ctx context.Context, id int64) (chatID int64, deleted bool, err error)
	GetMessagesPaginated(ctx context.Context, chatID int64, q MessageQuery) (MessagePage, error)
	FindMessageByDateWithJoins(ctx context.Context, chatID int64, day time.Time) (domain.Message, error)
	GetMessagesForExport(ctx context.Context, chatID int64) iter.Seq2[domain.Message, error]
	GetMessagesSyncData(ctx context.Context, chatID int64) (map[int64]time.Time, error)
	BackfillOutgoing(ctx context.Context, ownerID int64) (int64, error)

	// Media.
	InsertMedia(ctx context.Context, media domain.Media) error
	GetMediaForVerification(ctx context.Context) iter.Seq2[domain.Media, error]
	MarkMediaForRedownload(ctx context.Context, mediaID string) error
	GetMedia(ctx context.Context, mediaID string) (domain.Media, error)

	// Reactions.
	InsertReactions(ctx context.Context, messageID, chatID int64, reactions []domain.ReactionItem) error

	// Sync status.
	GetLastMessageID(ctx context.Context, chatID int64) (int64, error)
	UpdateSyncStatus(ctx context.Context, chatID, lastMessageID int64, increment int64) error

	// Metadata.
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, bool, error)

	// Cached statistics.
	GetCachedStats(ctx context.Context, maxAge time.Duration) (Stats, bool, error)
	SetCachedStats(ctx context.Context, stats Stats) error
	GetChatStats(ctx context.Context, chatID int64) (ChatStats, error)

	// Push subscriptions.
	UpsertPushSubscription(ctx context.Context, sub domain.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	GetPushSubscriptionsForChat(ctx context.Context, chatID int64) ([]domain.PushSubscription, error)
	TouchPushSubscription(ctx context.Context, endpoint string, at time.Time) error

	// Dialect identity, consulted by the notification fabric to pick
	// a transport and by the backup engine to decide whether to apply
	// embedded-store-specific connection tuning.
	Dialect() Dialect

	Close() error
}

// Dialect names the two supported storage backends.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// PubSubCapable is implemented by dialects with native LISTEN/NOTIFY support
// (currently only postgres). The notification fabric type-asserts for
// this to decide between the database-native and HTTP-webhook transports.
type PubSubCapable interface {
	NotifyChannel(ctx context.Context, channel, payload string) error
	Listen(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// NormalizeTime converts a timezone-aware timestamp to UTC, matching the
// requirement that timestamps are normalised to UTC before persistence.
// A zero time is returned unchanged.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
