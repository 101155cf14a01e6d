package listener

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"telegram-archive/internal/backup"
	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/media"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store"
	"telegram-archive/internal/telegram"
)

// Listener drives the real-time event loop: it registers a telegram.Dispatcher
// on a running Client and turns each update into a store write and a
// notification, gated by admission and the burst protector.
type Listener struct {
	Client    telegram.Client
	Store     store.Store
	Media     *media.Store
	Fabric    *notify.Fabric
	Burst     *BurstProtector
	Cfg       config.ListenerConfig
	Includes  chatid.Set

	mu      sync.Mutex
	tracked chatid.Set
	caches  map[int64]*backup.TextCache
	ownerID int64

	deletionsSkipped atomic.Int64
}

// Stats is a snapshot of the listener's own counters, exposed for
// diagnostics alongside BurstProtector.Stats.
type Stats struct {
	DeletionsSkipped int64
}

// Stats reports how many delete-event message ids were suppressed entirely
// because listen_deletions is disabled, as opposed to the burst protector's
// own per-chat rate-limit suppression.
func (l *Listener) Stats() Stats {
	return Stats{DeletionsSkipped: l.deletionsSkipped.Load()}
}

// New builds a Listener. includes is the set of chat ids admitted into
// tracking on first contact even though nothing has been backed up for
// them yet (the explicit include lists from AdmissionConfig).
func New(client telegram.Client, st store.Store, mediaStore *media.Store, fabric *notify.Fabric, burst *BurstProtector, cfg config.ListenerConfig, includes chatid.Set) *Listener {
	if includes == nil {
		includes = chatid.Set{}
	}
	return &Listener{
		Client:   client,
		Store:    st,
		Media:    mediaStore,
		Fabric:   fabric,
		Burst:    burst,
		Cfg:      cfg,
		Includes: includes,
		tracked:  chatid.Set{},
		caches:   make(map[int64]*backup.TextCache),
	}
}

// Start registers the dispatcher and resolves the owner id for is_outgoing
// computation. Must be called before Client.Run.
func (l *Listener) Start(ctx context.Context) error {
	if raw, ok, err := l.Store.GetMetadata(ctx, "owner_id"); err == nil && ok {
		l.ownerID = parseOwnerID(raw)
	}

	l.Client.RegisterDispatcher(telegram.Dispatcher{
		OnNewMessage:     l.handleNewMessage,
		OnEditMessage:    l.handleEditMessage,
		OnDeleteMessages: l.handleDelete,
		OnChatAction:     l.handleChatAction,
		OnAlbum:          l.handleAlbum,
	})
	return nil
}

func parseOwnerID(raw string) int64 {
	var id int64
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0
		}
		id = id*10 + int64(r-'0')
	}
	return id
}

// admit reports whether chatID is allowed into listener processing: it is
// already tracked, or it is explicitly include-listed (in which case it is
// tracked from this call on, the "newly tracked on first new message" rule).
func (l *Listener) admit(ctx context.Context, chatID int64, trackIfIncluded bool) bool {
	l.mu.Lock()
	if l.tracked.Contains(chatID) {
		l.mu.Unlock()
		return true
	}
	l.mu.Unlock()

	if _, err := l.Store.GetChat(ctx, chatID); err == nil {
		l.mu.Lock()
		l.tracked[chatID] = struct{}{}
		l.mu.Unlock()
		return true
	}

	if !l.Includes.Contains(chatID) {
		return false
	}
	if !trackIfIncluded {
		return true
	}
	l.mu.Lock()
	l.tracked[chatID] = struct{}{}
	l.mu.Unlock()
	return true
}

func (l *Listener) cacheFor(chatID int64) *backup.TextCache {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.caches[chatID]
	if !ok {
		c = backup.NewTextCache()
		l.caches[chatID] = c
	}
	return c
}

func (l *Listener) handleNewMessage(ctx context.Context, in telegram.IncomingMessage) {
	if !l.Cfg.ListenNewMessages {
		return
	}
	if !l.admit(ctx, in.ChatID, true) {
		return
	}
	if verdict := l.Burst.Check(in.ChatID, time.Now()); !verdict.Allowed {
		logging.Warn().Int64("chat_id", in.ChatID).Str("reason", verdict.Reason).Msg("listener: new message suppressed by burst protector")
		return
	}

	msg, user := backup.ProcessMessage(in, l.ownerID, l.cacheFor(in.ChatID))
	if user != nil {
		if err := l.Store.UpsertUser(ctx, *user); err != nil {
			logging.Warn().Err(err).Msg("listener: upsert user failed")
		}
	}

	if in.Media != nil && l.Cfg.ListenNewMessagesMedia && !l.Media.ExceedsMaxSize(in.Media.SizeBytes) {
		rec, err := backup.DownloadMessageMedia(ctx, l.Client, l.Media, in.ChatID, in.ID, *in.Media)
		if err != nil {
			logging.Warn().Err(err).Int64("chat_id", in.ChatID).Int64("message_id", in.ID).Msg("listener: media download failed")
		} else {
			msg.MediaPath = rec.FilePath
			if err := l.Store.InsertMedia(ctx, rec); err != nil {
				logging.Warn().Err(err).Msg("listener: failed to record media")
			}
		}
	}

	if err := l.Store.InsertMessage(ctx, msg); err != nil {
		logging.Warn().Err(err).Int64("chat_id", in.ChatID).Int64("message_id", in.ID).Msg("listener: insert message failed")
		return
	}
	if len(in.Reactions) > 0 {
		if err := l.Store.InsertReactions(ctx, in.ID, in.ChatID, in.Reactions); err != nil {
			logging.Warn().Err(err).Msg("listener: failed to record reactions")
		}
	}

	l.Fabric.Emit(ctx, notify.Event{
		Type:      notify.EventNewMessage,
		ChatID:    in.ChatID,
		MessageID: in.ID,
		Payload:   msg,
		At:        time.Now().UTC(),
	})
}

func (l *Listener) handleEditMessage(ctx context.Context, in telegram.IncomingMessage) {
	if !l.Cfg.ListenEdits {
		return
	}
	if !l.admit(ctx, in.ChatID, false) {
		return
	}
	if verdict := l.Burst.Check(in.ChatID, time.Now()); !verdict.Allowed {
		logging.Warn().Int64("chat_id", in.ChatID).Str("reason", verdict.Reason).Msg("listener: edit suppressed by burst protector")
		return
	}

	if err := l.Store.UpdateMessageText(ctx, in.ChatID, in.ID, in.Text, in.EditDate); err != nil {
		logging.Warn().Err(err).Int64("chat_id", in.ChatID).Int64("message_id", in.ID).Msg("listener: edit apply failed")
		return
	}

	l.Fabric.Emit(ctx, notify.Event{
		Type:      notify.EventMessageEdited,
		ChatID:    in.ChatID,
		MessageID: in.ID,
		Payload:   in.Text,
		At:        time.Now().UTC(),
	})
}

func (l *Listener) handleDelete(ctx context.Context, ev telegram.DeleteEvent) {
	if !l.Cfg.ListenDeletions {
		l.deletionsSkipped.Add(int64(len(ev.MessageIDs)))
		return
	}

	now := time.Now()
	for _, id := range ev.MessageIDs {
		chatID := ev.ChatID
		if chatID != 0 {
			if !l.admit(ctx, chatID, false) {
				continue
			}
			if verdict := l.Burst.Check(chatID, now); !verdict.Allowed {
				logging.Warn().Int64("chat_id", chatID).Str("reason", verdict.Reason).Msg("listener: delete suppressed by burst protector")
				continue
			}
			if err := l.Store.DeleteMessage(ctx, chatID, id); err != nil {
				logging.Warn().Err(err).Int64("chat_id", chatID).Int64("message_id", id).Msg("listener: delete apply failed")
				continue
			}
		} else {
			// Telegram sometimes reports deletions without naming a chat
			// (e.g. a private-chat deletion); fall back to a lookup by id
			// across every tracked chat.
			resolvedChatID, deleted, err := l.Store.DeleteMessageByIDAnyChat(ctx, id)
			if err != nil || !deleted {
				continue
			}
			if !l.admit(ctx, resolvedChatID, false) {
				continue
			}
			if verdict := l.Burst.Check(resolvedChatID, now); !verdict.Allowed {
				logging.Warn().Int64("chat_id", resolvedChatID).Str("reason", verdict.Reason).Msg("listener: delete suppressed by burst protector")
				continue
			}
			chatID = resolvedChatID
		}

		l.Fabric.Emit(ctx, notify.Event{
			Type:      notify.EventMessageDeleted,
			ChatID:    chatID,
			MessageID: id,
			At:        now.UTC(),
		})
	}
}

func (l *Listener) handleChatAction(ctx context.Context, ev telegram.ChatActionEvent) {
	if !l.Cfg.ListenChatActions {
		return
	}
	if !l.admit(ctx, ev.ChatID, false) {
		return
	}

	d, err := l.Client.ResolveDialog(ctx, ev.ChatID)
	if err != nil {
		logging.Warn().Err(err).Int64("chat_id", ev.ChatID).Msg("listener: chat action refetch failed")
		return
	}

	chat := dialogToChat(d)
	if err := l.Store.UpsertChat(ctx, chat); err != nil {
		logging.Warn().Err(err).Int64("chat_id", ev.ChatID).Msg("listener: chat action upsert failed")
		return
	}

	if ev.Kind == "photo" && d.PhotoID != 0 {
		l.refreshAvatar(ctx, d)
	}

	l.Fabric.Emit(ctx, notify.Event{
		Type:    notify.EventChatUpdated,
		ChatID:  ev.ChatID,
		Payload: ev.Kind,
		At:      time.Now().UTC(),
	})
}

func (l *Listener) refreshAvatar(ctx context.Context, d telegram.Dialog) {
	kind := media.AvatarChat
	if d.Kind == telegram.DialogUser {
		kind = media.AvatarUser
	}
	dest, err := l.Media.AvatarPath(kind, d.ChatID, d.PhotoID)
	if err != nil {
		return
	}
	if _, err := os.Stat(dest); err == nil {
		return
	}
	f, err := os.Create(dest)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := l.Client.DownloadAvatar(ctx, d, f); err != nil {
		os.Remove(dest)
	}
}

func (l *Listener) handleAlbum(ctx context.Context, ev telegram.AlbumEvent) {
	if !l.Cfg.ListenAlbums || len(ev.Messages) == 0 {
		return
	}
	chatID := ev.Messages[0].ChatID
	if !l.admit(ctx, chatID, true) {
		return
	}
	if verdict := l.Burst.Check(chatID, time.Now()); !verdict.Allowed {
		logging.Warn().Int64("chat_id", chatID).Str("reason", verdict.Reason).Msg("listener: album suppressed by burst protector")
		return
	}

	cache := l.cacheFor(chatID)
	for _, in := range ev.Messages {
		msg, user := backup.ProcessMessage(in, l.ownerID, cache)
		if user != nil {
			if err := l.Store.UpsertUser(ctx, *user); err != nil {
				logging.Warn().Err(err).Msg("listener: upsert user failed")
			}
		}
		if in.Media != nil && l.Cfg.ListenNewMessagesMedia && !l.Media.ExceedsMaxSize(in.Media.SizeBytes) {
			rec, err := backup.DownloadMessageMedia(ctx, l.Client, l.Media, in.ChatID, in.ID, *in.Media)
			if err != nil {
				logging.Warn().Err(err).Int64("chat_id", in.ChatID).Int64("message_id", in.ID).Msg("listener: album media download failed")
			} else {
				msg.MediaPath = rec.FilePath
				if err := l.Store.InsertMedia(ctx, rec); err != nil {
					logging.Warn().Err(err).Msg("listener: failed to record album media")
				}
			}
		}
		if err := l.Store.InsertMessage(ctx, msg); err != nil {
			logging.Warn().Err(err).Int64("chat_id", in.ChatID).Int64("message_id", in.ID).Msg("listener: album member insert failed")
			continue
		}
		l.Fabric.Emit(ctx, notify.Event{
			Type:      notify.EventNewMessage,
			ChatID:    in.ChatID,
			MessageID: in.ID,
			Payload:   msg,
			At:        time.Now().UTC(),
		})
	}
}

func dialogToChat(d telegram.Dialog) domain.Chat {
	ct := domain.ChatTypePrivate
	switch d.Kind {
	case telegram.DialogGroup:
		ct = domain.ChatTypeGroup
	case telegram.DialogChannel:
		ct = domain.ChatTypeChannel
	}
	return domain.Chat{
		ID:                d.ChatID,
		Type:              ct,
		Title:             d.Title,
		Username:          d.Username,
		FirstName:         d.FirstName,
		LastName:          d.LastName,
		Phone:             d.Phone,
		Description:       d.Description,
		ParticipantsCount: d.ParticipantsCount,
		UpdatedAt:         time.Now().UTC(),
	}
}
