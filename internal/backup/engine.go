package backup

import (
	"context"
	"os"
	"sort"
	"strconv"
	"time"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/media"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store"
	"telegram-archive/internal/telegram"
)

const (
	metadataOwnerIDKey       = "owner_id"
	metadataLastBackupTimeKey = "last_backup_time"
	syncReconcileBatchSize   = 100
	mediaSizeDeviationPct    = 0.01
)

// Engine runs one full backup pass: authenticate, enumerate, filter, pull,
// and optionally reconcile edits/deletions and verify media integrity.
type Engine struct {
	Client    telegram.Client
	Store     store.Store
	Media     *media.Store
	Fabric    *notify.Fabric
	Admission *Admission
	Cfg       config.BackupConfig
}

// Run executes the pipeline described for the backup engine: owner
// backfill, dialog enumeration and filtering, per-dialog incremental pull,
// and the optional reconciliation/verification sweeps.
func (e *Engine) Run(ctx context.Context) error {
	ownerID, err := e.Client.Self(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUpstreamMissing, "authenticate", err)
	}
	if err := e.Store.SetMetadata(ctx, metadataOwnerIDKey, formatID(ownerID)); err != nil {
		return err
	}
	backfilled, err := e.Store.BackfillOutgoing(ctx, ownerID)
	if err != nil {
		logging.Warn().Err(err).Msg("backup: owner backfill failed")
	} else if backfilled > 0 {
		logging.Info().Int64("count", backfilled).Msg("backup: backfilled outgoing messages for owner")
	}

	// Snapshot start time before any pull work, so a viewer mid-run still
	// sees a monotonically advancing cursor.
	if err := e.Store.SetMetadata(ctx, metadataLastBackupTimeKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logging.Warn().Err(err).Msg("backup: failed to snapshot last_backup_time")
	}

	dialogs, err := e.Client.ListDialogs(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUpstreamMissing, "list dialogs", err)
	}

	seen := make(chatid.Set, len(dialogs))
	for _, d := range dialogs {
		seen[d.ChatID] = struct{}{}
	}

	var kept, toDelete []telegram.Dialog
	for _, d := range dialogs {
		switch e.Admission.Evaluate(d.ChatID, d.Kind) {
		case VerdictKeep:
			kept = append(kept, d)
		case VerdictDelete:
			toDelete = append(toDelete, d)
		}
	}

	for _, id := range e.Admission.MissingIncludes(seen) {
		d, err := e.Client.ResolveDialog(ctx, id)
		if err != nil {
			logging.Warn().Err(err).Int64("chat_id", id).Msg("backup: failed to resolve missing include")
			continue
		}
		kept = append(kept, d)
	}

	for _, d := range toDelete {
		if err := e.Store.DeleteChatAndRelatedData(ctx, d.ChatID, e.Media.Root); err != nil {
			logging.Warn().Err(err).Int64("chat_id", d.ChatID).Msg("backup: failed to delete excluded chat")
		}
	}

	ordered := e.order(kept)

	for _, d := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.backupDialog(ctx, d); err != nil {
			logging.Warn().Err(err).Int64("chat_id", d.ChatID).Msg("backup: chat pass failed")
		}
	}

	if e.Cfg.SyncDeletionsEdits {
		for _, d := range ordered {
			if err := e.reconcile(ctx, d); err != nil {
				logging.Warn().Err(err).Int64("chat_id", d.ChatID).Msg("backup: reconciliation failed")
			}
		}
	}

	if e.Cfg.VerifyMedia {
		if err := e.VerifyMedia(ctx); err != nil {
			logging.Warn().Err(err).Msg("backup: media verification failed")
		}
	}

	return nil
}

// order places priority-listed dialogs first, in input order, then the
// remainder sorted by most-recent-activity descending, comparing by epoch
// seconds so TZ-aware/TZ-naive values never interleave incorrectly.
func (e *Engine) order(dialogs []telegram.Dialog) []telegram.Dialog {
	var priority, rest []telegram.Dialog
	for _, d := range dialogs {
		if _, ok := e.Admission.PriorityIndex(d.ChatID); ok {
			priority = append(priority, d)
		} else {
			rest = append(rest, d)
		}
	}
	sort.Slice(priority, func(i, j int) bool {
		pi, _ := e.Admission.PriorityIndex(priority[i].ChatID)
		pj, _ := e.Admission.PriorityIndex(priority[j].ChatID)
		return pi < pj
	})
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].LastActivity.Unix() > rest[j].LastActivity.Unix()
	})
	return append(priority, rest...)
}

func (e *Engine) backupDialog(ctx context.Context, d telegram.Dialog) error {
	chat := dialogToChat(d)
	if err := e.Store.UpsertChat(ctx, chat); err != nil {
		return err
	}
	e.ensureAvatar(ctx, d)

	lastID, err := e.Store.GetLastMessageID(ctx, d.ChatID)
	if err != nil {
		return err
	}

	batchSize := e.Cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	cache := NewTextCache()
	ownerID := e.ownerID(ctx)
	var batch []domain.Message
	var maxSeen int64
	var count int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.Store.InsertMessagesBatch(ctx, batch); err != nil {
			return err
		}
		count += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for in, iterErr := range e.Client.IterMessages(ctx, d, lastID) {
		if iterErr != nil {
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return apperrors.Wrap(apperrors.ErrUpstreamMissing, "iterate messages", iterErr)
		}

		msg, user := ProcessMessage(in, ownerID, cache)
		if user != nil {
			_ = e.Store.UpsertUser(ctx, *user)
		}
		if in.Media != nil && e.mediaWanted(in.Media) {
			if rec, err := DownloadMessageMedia(ctx, e.Client, e.Media, d.ChatID, in.ID, *in.Media); err != nil {
				logging.Warn().Err(err).Int64("chat_id", d.ChatID).Int64("message_id", in.ID).Msg("backup: media download failed")
			} else {
				msg.MediaPath = rec.FilePath
				if err := e.Store.InsertMedia(ctx, rec); err != nil {
					logging.Warn().Err(err).Msg("backup: failed to record media")
				}
			}
		}
		batch = append(batch, msg)
		if in.ID > maxSeen {
			maxSeen = in.ID
		}
		if len(in.Reactions) > 0 {
			if err := e.Store.InsertReactions(ctx, in.ID, d.ChatID, in.Reactions); err != nil {
				logging.Warn().Err(err).Msg("backup: failed to record reactions")
			}
		}

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if maxSeen > 0 {
		if err := e.Store.UpdateSyncStatus(ctx, d.ChatID, maxSeen, count); err != nil {
			return err
		}
	}
	return nil
}

// reconcile implements the optional sync_deletions_edits sweep: local ids
// are re-fetched in batches; a missing response means the message was
// deleted upstream, a different edit_date means the text changed.
func (e *Engine) reconcile(ctx context.Context, d telegram.Dialog) error {
	local, err := e.Store.GetMessagesSyncData(ctx, d.ChatID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(local))
	for id := range local {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for start := 0; start < len(ids); start += syncReconcileBatchSize {
		end := start + syncReconcileBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		remote, err := e.Client.FetchMessagesByID(ctx, d, batch)
		if err != nil {
			return err
		}
		for _, m := range remote {
			if m.Deleted {
				if err := e.Store.DeleteMessage(ctx, d.ChatID, m.ID); err != nil {
					logging.Warn().Err(err).Msg("backup: reconcile delete failed")
				}
				continue
			}
			if !m.EditDate.Equal(local[m.ID]) {
				if err := e.Store.UpdateMessageText(ctx, d.ChatID, m.ID, m.Text, m.EditDate); err != nil {
					logging.Warn().Err(err).Msg("backup: reconcile update failed")
				}
			}
		}
	}
	return nil
}

// VerifyMedia sweeps every previously-downloaded media row, marks any whose
// file is missing, empty, or whose size deviates from the stored value by
// more than 1% for redownload, then re-fetches the owning message (batched
// per chat) and redownloads the file so the row doesn't stay permanently
// broken.
func (e *Engine) VerifyMedia(ctx context.Context) error {
	byChat := make(map[int64][]domain.Media)
	for m, err := range e.Store.GetMediaForVerification(ctx) {
		if err != nil {
			return err
		}
		if !e.mediaBroken(m) {
			continue
		}
		if err := e.Store.MarkMediaForRedownload(ctx, m.ID); err != nil {
			logging.Warn().Err(err).Str("media_id", m.ID).Msg("backup: failed to mark media for redownload")
			continue
		}
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}

	for chatID, broken := range byChat {
		e.redownloadBroken(ctx, chatID, broken)
	}
	return nil
}

func (e *Engine) mediaBroken(m domain.Media) bool {
	if m.FilePath == "" {
		return true
	}
	path := e.Media.Root + string(os.PathSeparator) + m.FilePath
	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() == 0 {
		return true
	}
	if m.FileSize > 0 {
		deviation := float64(abs(info.Size()-m.FileSize)) / float64(m.FileSize)
		return deviation > mediaSizeDeviationPct
	}
	return false
}

// redownloadBroken re-fetches the messages owning broken's media, in
// batches, and redownloads each one whose message still carries the
// matching media reference.
func (e *Engine) redownloadBroken(ctx context.Context, chatID int64, broken []domain.Media) {
	d := telegram.Dialog{ChatID: chatID, Kind: dialogKind(chatID)}
	byMessageID := make(map[int64]domain.Media, len(broken))
	ids := make([]int64, 0, len(broken))
	for _, m := range broken {
		byMessageID[m.MessageID] = m
		ids = append(ids, m.MessageID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for start := 0; start < len(ids); start += syncReconcileBatchSize {
		end := start + syncReconcileBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batchIDs := ids[start:end]

		messages, err := e.Client.FetchMessagesByID(ctx, d, batchIDs)
		if err != nil {
			logging.Warn().Err(err).Int64("chat_id", chatID).Msg("backup: verify media refetch failed")
			continue
		}
		for _, msg := range messages {
			m, ok := byMessageID[msg.ID]
			if !ok || msg.Deleted || msg.Media == nil {
				continue
			}
			rec, err := DownloadMessageMedia(ctx, e.Client, e.Media, chatID, msg.ID, *msg.Media)
			if err != nil {
				logging.Warn().Err(err).Str("media_id", m.ID).Msg("backup: media redownload failed")
				continue
			}
			if err := e.Store.InsertMedia(ctx, rec); err != nil {
				logging.Warn().Err(err).Str("media_id", rec.ID).Msg("backup: failed to record redownloaded media")
			}
		}
	}
}

// dialogKind derives a chat's dialog kind from its marked id, so the
// verification sweep can address messages without re-enumerating dialogs.
func dialogKind(chatID int64) telegram.DialogKind {
	switch {
	case chatid.IsChannel(chatID):
		return telegram.DialogChannel
	case chatid.IsBasicGroup(chatID):
		return telegram.DialogGroup
	default:
		return telegram.DialogUser
	}
}

func (e *Engine) mediaWanted(ref *telegram.MediaRef) bool {
	return !e.Media.ExceedsMaxSize(ref.SizeBytes)
}

func (e *Engine) ensureAvatar(ctx context.Context, d telegram.Dialog) {
	if d.PhotoID == 0 {
		return
	}
	kind := media.AvatarChat
	if d.Kind == telegram.DialogUser {
		kind = media.AvatarUser
	}
	dest, err := e.Media.AvatarPath(kind, d.ChatID, d.PhotoID)
	if err != nil {
		return
	}
	if _, err := os.Stat(dest); err == nil {
		return
	}
	f, err := os.Create(dest)
	if err != nil {
		logging.Warn().Err(err).Int64("chat_id", d.ChatID).Msg("backup: failed to create avatar file")
		return
	}
	defer f.Close()
	if _, err := e.Client.DownloadAvatar(ctx, d, f); err != nil {
		logging.Warn().Err(err).Int64("chat_id", d.ChatID).Msg("backup: avatar download failed")
		os.Remove(dest)
	}
}

func (e *Engine) ownerID(ctx context.Context) int64 {
	raw, ok, err := e.Store.GetMetadata(ctx, metadataOwnerIDKey)
	if err != nil || !ok {
		return 0
	}
	return parseID(raw)
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

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(raw string) int64 {
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}
