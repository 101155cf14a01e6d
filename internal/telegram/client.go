// Package telegram defines the contract the Backup Engine and the
// Listener use to talk to a Telegram account. The live MTProto
// protocol is an out-of-scope external collaborator; what belongs
// here is the interface those two components are written against, plus a
// gotd/td-backed implementation that shows how a real session fulfils it.
package telegram

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/gotd/td/tg"

	"telegram-archive/internal/domain"
)

// DialogKind mirrors domain.ChatType but lives in this package so the
// contract doesn't force callers through the domain package just to
// describe a dialog.
type DialogKind string

const (
	DialogUser    DialogKind = "private"
	DialogGroup   DialogKind = "group"
	DialogChannel DialogKind = "channel"
)

// Dialog is one enumerated chat, carrying enough identity for the Backup
// Engine to upsert a Chat row and enough addressing for subsequent calls
// (IterMessages, DownloadAvatar) to resolve the same peer again.
type Dialog struct {
	ChatID            int64 // marked form, per internal/chatid
	Kind              DialogKind
	Title             string
	Username          string
	FirstName         string
	LastName          string
	Phone             string
	Description       string
	ParticipantsCount int
	LastActivity      time.Time // most recent message date, for recency ordering when scheduling dialogs
	PhotoID           int64     // 0 when the dialog has no profile photo
}

// MediaRef addresses one piece of media on the wire: enough to download it
// and enough to content-address it once downloaded.
type MediaRef struct {
	Type           string // "photo", "video", "document", "audio", "voice", "sticker"
	TelegramFileID string // Telegram's file-unique-id, used for dedup naming
	MimeType       string
	SizeBytes      int64
	Width          int
	Height         int
	DurationSec    int

	// location is the concrete gotd/td download handle for this piece of
	// media; only GotdClient populates or reads it, but it lives on the
	// shared struct so FakeClient can round-trip a MediaRef unchanged.
	location tg.InputFileLocationClass
}

// IncomingMessage is a wire message translated into the shape
// internal/backup and internal/listener build domain.Message from. Fields
// follow the message-translation rules the backup engine expects.
type IncomingMessage struct {
	ID              int64
	ChatID          int64
	SenderID        int64
	Date            time.Time
	Text            string
	IsOutgoing      bool
	ReplyToMsgID    int64
	ReplyToText     string // first 100 chars of the replied message, when resolvable
	ForwardFromID   int64
	ForwardFromName string
	EditDate        time.Time
	GroupedID       int64 // 0 when not part of an album
	Media           *MediaRef
	Poll            *domain.Poll
	Reactions       []domain.ReactionItem
	Deleted         bool // set by FetchMessagesByID when Telegram no longer has this id
}

// DeleteEvent carries the listener's delete-handler payload: a batch of
// message ids, plus the chat id when the event itself names one (absent
// for the "deletion without chat" case, where the chat must be resolved
// from the store instead).
type DeleteEvent struct {
	ChatID     int64 // 0 when the event did not name a chat
	MessageIDs []int64
}

// ChatActionEvent is a photo/title/member change observed by the listener;
// the handler reacts by refetching and upserting the chat entity.
type ChatActionEvent struct {
	ChatID int64
	Kind   string // "photo", "title", "member"
}

// AlbumEvent is a grouped media upload: every member shares GroupedID and is
// processed with its own real media type, never "album".
type AlbumEvent struct {
	GroupedID int64
	Messages  []IncomingMessage
}

// Dispatcher is the set of event sinks the Listener registers before
// calling Client.Run. Handlers are invoked on the client's own event-loop
// goroutine per chat, which is what guarantees per-chat ordering.
type Dispatcher struct {
	OnNewMessage     func(context.Context, IncomingMessage)
	OnEditMessage    func(context.Context, IncomingMessage)
	OnDeleteMessages func(context.Context, DeleteEvent)
	OnChatAction     func(context.Context, ChatActionEvent)
	OnAlbum          func(context.Context, AlbumEvent)
}

// Client is the contract both the Backup Engine and the Listener consume.
// A concrete implementation owns one authenticated MTProto session;
// Shared reports whether that session is shared with another owner, per
// the shared-session discipline below: only the owner may Disconnect.
type Client interface {
	// Run brings the session up and blocks until ctx is cancelled or the
	// connection fails unrecoverably, invoking ready once the session is
	// authenticated and usable. Mirrors gotd/td's telegram.Client.Run
	// callback shape.
	Run(ctx context.Context, ready func(context.Context) error) error

	// Self returns the authenticated account's own user id, used for the
	// owner backfill step.
	Self(ctx context.Context) (ownerID int64, err error)

	// ListDialogs enumerates every dialog visible to the account.
	ListDialogs(ctx context.Context) ([]Dialog, error)

	// ResolveDialog fetches a single dialog by id, for the "fetch missing
	// includes" case, when an include-listed id did not
	// appear in ListDialogs.
	ResolveDialog(ctx context.Context, chatID int64) (Dialog, error)

	// IterMessages lazily yields messages for d with id > minID in
	// ascending order, mirroring Telethon's iter_messages(min_id=...,
	// reverse=True).
	IterMessages(ctx context.Context, d Dialog, minID int64) iter.Seq2[IncomingMessage, error]

	// FetchMessagesByID looks up specific message ids for the
	// sync_deletions_edits reconciliation. A missing id
	// is returned with Deleted set true rather than omitted, so the
	// caller can tell "gone" apart from "not requested".
	FetchMessagesByID(ctx context.Context, d Dialog, ids []int64) ([]IncomingMessage, error)

	// DownloadMedia streams ref's content to w.
	DownloadMedia(ctx context.Context, ref MediaRef, w io.Writer) error

	// DownloadAvatar streams d's current profile photo to w, returning the
	// photo id used for the avatar's on-disk filename. Returns
	// (0, nil) when the dialog currently has no photo.
	DownloadAvatar(ctx context.Context, d Dialog, w io.Writer) (photoID int64, err error)

	// RegisterDispatcher wires the Listener's handlers into the session's
	// update stream. Must be called before Run.
	RegisterDispatcher(d Dispatcher)

	// Shared reports whether this Client wraps a session also used by
	// another Client (the Backup Engine and Listener sharing one MTProto
	// connection).
	Shared() bool

	// Disconnect tears the session down. A shared, non-owning Client must
	// be a no-op here and only verify connectedness; enforced by the
	// SharedClient wrapper below.
	Disconnect(ctx context.Context) error
}
