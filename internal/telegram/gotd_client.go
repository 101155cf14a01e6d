package telegram

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/logging"
)

const historyPageSize = 100

// GotdClient is the Client implementation backed by a real MTProto
// session via github.com/gotd/td, following the session-lifecycle pattern
// NewClient/client.Run/Close.
type GotdClient struct {
	cfg    config.TelegramConfig
	client *telegram.Client
	api    *tg.Client
	dl     *downloader.Downloader

	mu         sync.Mutex
	ready      bool
	dispatcher Dispatcher
	shared     bool
}

// NewGotdClient constructs a disconnected client from TELEGRAM_* config;
// call Run to bring the session up.
func NewGotdClient(cfg config.TelegramConfig) *GotdClient {
	storage := &session.FileStorage{Path: cfg.SessionDir + "/" + cfg.SessionName + ".session"}
	c := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: storage,
	})
	return &GotdClient{cfg: cfg, client: c, dl: downloader.NewDownloader()}
}

func (c *GotdClient) Shared() bool { return c.shared }

func (c *GotdClient) RegisterDispatcher(d Dispatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatcher = d
}

// Run authenticates (via an interactive termAuthenticator when no session
// is stored yet) and blocks until ctx is cancelled, mirroring the
// client.Run(ctx, func(ctx) error {...}) background-goroutine pattern.
func (c *GotdClient) Run(ctx context.Context, ready func(context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		c.api = c.client.API()

		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrUpstreamMissing, "telegram auth status", err)
		}
		if !status.Authorized {
			flow := auth.NewFlow(&termAuthenticator{phone: c.cfg.Phone}, auth.SendCodeOptions{})
			if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
				return apperrors.Wrap(apperrors.ErrUpstreamMissing, "telegram authentication", err)
			}
		}

		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()

		if ready != nil {
			if err := ready(ctx); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

func (c *GotdClient) Disconnect(ctx context.Context) error {
	// telegram.Client.Run returns once its context is cancelled; the
	// caller (cmd/archivebot or cmd/listener) owns that cancellation.
	// This method exists to satisfy Client for the non-shared case, where
	// disconnect simply means "let Run's context end".
	return nil
}

func (c *GotdClient) Self(ctx context.Context) (int64, error) {
	full, err := c.api.UsersGetFullUser(ctx, &tg.InputUserSelf{})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrUpstreamMissing, "fetch self", err)
	}
	for _, u := range full.Users {
		if user, ok := u.(*tg.User); ok && user.Self {
			return user.ID, nil
		}
	}
	return 0, apperrors.Wrap(apperrors.ErrUpstreamMissing, "self user not present in response", nil)
}

// ListDialogs enumerates every dialog via MessagesGetDialogs, following the
// tg.MessagesDialogs/tg.MessagesDialogsSlice union-type switch pattern.
func (c *GotdClient) ListDialogs(ctx context.Context) ([]Dialog, error) {
	var out []Dialog
	offsetPeer := tg.InputPeerClass(&tg.InputPeerEmpty{})
	var offsetID, offsetDate int

	for {
		resp, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: offsetPeer,
			OffsetID:   offsetID,
			OffsetDate: offsetDate,
			Limit:      historyPageSize,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrUpstreamMissing, "list dialogs", err)
		}

		var dialogs []tg.DialogClass
		var chats []tg.ChatClass
		var users []tg.UserClass
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			dialogs, chats, users = d.Dialogs, d.Chats, d.Users
		case *tg.MessagesDialogsSlice:
			dialogs, chats, users = d.Dialogs, d.Chats, d.Users
		default:
			return nil, apperrors.Wrap(apperrors.ErrUpstreamMissing, "unexpected MessagesGetDialogs response type", nil)
		}
		if len(dialogs) == 0 {
			return out, nil
		}

		chatByID := indexChats(chats)
		userByID := indexUsers(users)
		for _, dc := range dialogs {
			d, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			dialog, ok := translateDialog(d, chatByID, userByID)
			if !ok {
				continue
			}
			out = append(out, dialog)
		}

		last := dialogs[len(dialogs)-1].(*tg.Dialog)
		offsetID, offsetDate, offsetPeer = advanceDialogOffset(last, chatByID, userByID)
		if len(dialogs) < historyPageSize {
			return out, nil
		}
	}
}

func (c *GotdClient) ResolveDialog(ctx context.Context, id int64) (Dialog, error) {
	if chatid.IsChannel(id) {
		natural := chatid.UnmarkChannel(id)
		resp, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: natural}})
		if err != nil {
			return Dialog{}, apperrors.Wrap(apperrors.ErrUpstreamMissing, "resolve channel", err)
		}
		for _, ch := range resp.GetChats() {
			if channel, ok := ch.(*tg.Channel); ok {
				return translateChannel(channel), nil
			}
		}
		return Dialog{}, apperrors.ErrNotFound
	}
	if chatid.IsUser(id) {
		resp, err := c.api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: id}})
		if err != nil {
			return Dialog{}, apperrors.Wrap(apperrors.ErrUpstreamMissing, "resolve user", err)
		}
		for _, u := range resp {
			if user, ok := u.(*tg.User); ok {
				return translateUser(user), nil
			}
		}
		return Dialog{}, apperrors.ErrNotFound
	}
	return Dialog{}, apperrors.Wrap(apperrors.ErrConfiguration, fmt.Sprintf("cannot resolve basic group id %d directly", id), nil)
}

// IterMessages pages MessagesGetHistory ascending from minID, following the
// offset-id pagination loop of MessagesGetHistory plus the tg.MessagesMessages
// / MessagesSlice / ChannelMessages union switch.
func (c *GotdClient) IterMessages(ctx context.Context, d Dialog, minID int64) iter.Seq2[IncomingMessage, error] {
	return func(yield func(IncomingMessage, error) bool) {
		peer := inputPeerFor(d)
		offsetID := 0
		for {
			resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     peer,
				OffsetID: offsetID,
				Limit:    historyPageSize,
				MinID:    int(minID),
			})
			if err != nil {
				yield(IncomingMessage{}, apperrors.Wrap(apperrors.ErrUpstreamMissing, "get history", err))
				return
			}
			messages, users, ok := unwrapMessages(resp)
			if !ok {
				yield(IncomingMessage{}, apperrors.Wrap(apperrors.ErrUpstreamMissing, "unexpected MessagesGetHistory response type", nil))
				return
			}
			if len(messages) == 0 {
				return
			}

			// Telegram returns history newest-first; the caller wants an
			// ascending sequence, so this page is walked in reverse.
			userByID := indexUsers(users)
			for i := len(messages) - 1; i >= 0; i-- {
				m, ok := messages[i].(*tg.Message)
				if !ok {
					continue
				}
				if int64(m.ID) <= minID {
					continue
				}
				im := translateMessage(m, d.ChatID, userByID)
				if !yield(im, nil) {
					return
				}
			}
			offsetID = int(messages[0].(*tg.Message).ID)
			if len(messages) < historyPageSize {
				return
			}
		}
	}
}

// FetchMessagesByID resolves a batch of ids via ChannelsGetMessages /
// MessagesGetMessages; an id absent from the response comes back with
// Deleted=true, matching the null-response-means-deleted reconciliation rule.
func (c *GotdClient) FetchMessagesByID(ctx context.Context, d Dialog, ids []int64) ([]IncomingMessage, error) {
	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: int(id)}
	}

	var resp tg.MessagesMessagesClass
	var err error
	if d.Kind == DialogChannel {
		natural := chatid.UnmarkChannel(d.ChatID)
		resp, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: natural},
			ID:      inputIDs,
		})
	} else {
		resp, err = c.api.MessagesGetMessages(ctx, inputIDs)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUpstreamMissing, "fetch messages by id", err)
	}

	messages, users, ok := unwrapMessages(resp)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrUpstreamMissing, "unexpected messages-by-id response type", nil)
	}
	userByID := indexUsers(users)
	found := make(map[int64]IncomingMessage, len(messages))
	for _, mc := range messages {
		if m, ok := mc.(*tg.Message); ok {
			found[int64(m.ID)] = translateMessage(m, d.ChatID, userByID)
		}
	}

	out := make([]IncomingMessage, 0, len(ids))
	for _, id := range ids {
		if im, ok := found[id]; ok {
			out = append(out, im)
		} else {
			out = append(out, IncomingMessage{ID: id, ChatID: d.ChatID, Deleted: true})
		}
	}
	return out, nil
}

func (c *GotdClient) DownloadMedia(ctx context.Context, ref MediaRef, w io.Writer) error {
	loc, ok := ref.location.(tg.InputFileLocationClass)
	if !ok {
		return apperrors.Wrap(apperrors.ErrUpstreamMissing, "media ref carries no download location", nil)
	}
	_, err := c.dl.Download(c.api, loc).Stream(ctx, w)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransient, "download media", err)
	}
	return nil
}

func (c *GotdClient) DownloadAvatar(ctx context.Context, d Dialog, w io.Writer) (int64, error) {
	if d.PhotoID == 0 {
		return 0, nil
	}
	peer := inputPeerFor(d)
	var loc tg.InputFileLocationClass
	switch p := peer.(type) {
	case *tg.InputPeerUser:
		loc = &tg.InputPeerPhotoFileLocation{Big: true, Peer: &tg.InputPeerUser{UserID: p.UserID, AccessHash: p.AccessHash}, PhotoID: d.PhotoID}
	case *tg.InputPeerChannel:
		loc = &tg.InputPeerPhotoFileLocation{Big: true, Peer: &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash}, PhotoID: d.PhotoID}
	case *tg.InputPeerChat:
		loc = &tg.InputPeerPhotoFileLocation{Big: true, Peer: &tg.InputPeerChat{ChatID: p.ChatID}, PhotoID: d.PhotoID}
	default:
		return 0, apperrors.Wrap(apperrors.ErrUpstreamMissing, "unsupported peer kind for avatar download", nil)
	}
	if _, err := c.dl.Download(c.api, loc).Stream(ctx, w); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrTransient, "download avatar", err)
	}
	return d.PhotoID, nil
}

// termAuthenticator implements auth.UserAuthenticator by reading from the
// phone configured at startup and a blocking console prompt, following the
// termAuth pattern for non-interactive (phone fixed) single-account setups.
type termAuthenticator struct {
	phone string
}

func (a *termAuthenticator) Phone(ctx context.Context) (string, error) { return a.phone, nil }

func (a *termAuthenticator) Password(ctx context.Context) (string, error) {
	logging.Info().Msg("telegram: 2FA password required, reading from stdin")
	var pwd string
	if _, err := fmt.Scanln(&pwd); err != nil {
		return "", err
	}
	return pwd, nil
}

func (a *termAuthenticator) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	logging.Info().Msg("telegram: verification code required, reading from stdin")
	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return "", err
	}
	return code, nil
}

func (a *termAuthenticator) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}

func (a *termAuthenticator) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, apperrors.Wrap(apperrors.ErrConfiguration, "account sign-up is not supported; authenticate an existing account", nil)
}

func (a *termAuthenticator) AcceptTermsOfServiceErr(ctx context.Context) error { return nil }

func indexChats(chats []tg.ChatClass) map[int64]tg.ChatClass {
	m := make(map[int64]tg.ChatClass, len(chats))
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Channel:
			m[v.ID] = c
		case *tg.Chat:
			m[v.ID] = c
		}
	}
	return m
}

func indexUsers(users []tg.UserClass) map[int64]*tg.User {
	m := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			m[user.ID] = user
		}
	}
	return m
}

func translateDialog(d *tg.Dialog, chats map[int64]tg.ChatClass, users map[int64]*tg.User) (Dialog, bool) {
	switch p := d.Peer.(type) {
	case *tg.PeerUser:
		u, ok := users[p.UserID]
		if !ok {
			return Dialog{}, false
		}
		return translateUser(u), true
	case *tg.PeerChat:
		c, ok := chats[p.ChatID]
		if !ok {
			return Dialog{}, false
		}
		if chat, ok := c.(*tg.Chat); ok {
			return translateBasicGroup(chat), true
		}
	case *tg.PeerChannel:
		c, ok := chats[p.ChannelID]
		if !ok {
			return Dialog{}, false
		}
		if channel, ok := c.(*tg.Channel); ok {
			return translateChannel(channel), true
		}
	}
	return Dialog{}, false
}

func translateUser(u *tg.User) Dialog {
	photoID, _ := u.GetPhoto()
	var pid int64
	if photo, ok := photoID.(*tg.UserProfilePhoto); ok {
		pid = photo.PhotoID
	}
	return Dialog{
		ChatID:    u.ID, // users keep their natural (positive) id, per internal/chatid
		Kind:      DialogUser,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		PhotoID:   pid,
	}
}

func translateBasicGroup(c *tg.Chat) Dialog {
	photoID, _ := c.GetPhoto()
	var pid int64
	if photo, ok := photoID.(*tg.ChatPhoto); ok {
		pid = photo.PhotoID
	}
	return Dialog{
		ChatID:            chatid.MarkGroup(c.ID),
		Kind:              DialogGroup,
		Title:             c.Title,
		ParticipantsCount: c.ParticipantsCount,
		PhotoID:           pid,
	}
}

func translateChannel(c *tg.Channel) Dialog {
	photoID, _ := c.GetPhoto()
	var pid int64
	if photo, ok := photoID.(*tg.ChatPhoto); ok {
		pid = photo.PhotoID
	}
	kind := DialogChannel
	return Dialog{
		ChatID:            chatid.MarkChannel(c.ID),
		Kind:              kind,
		Title:             c.Title,
		Username:          c.Username,
		ParticipantsCount: c.ParticipantsCount,
		Description:       "",
		PhotoID:           pid,
	}
}

func advanceDialogOffset(last *tg.Dialog, chats map[int64]tg.ChatClass, users map[int64]*tg.User) (offsetID, offsetDate int, peer tg.InputPeerClass) {
	offsetID = last.TopMessage
	switch p := last.Peer.(type) {
	case *tg.PeerUser:
		peer = &tg.InputPeerUser{UserID: p.UserID}
	case *tg.PeerChat:
		peer = &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		if ch, ok := chats[p.ChannelID].(*tg.Channel); ok {
			peer = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
		} else {
			peer = &tg.InputPeerEmpty{}
		}
	default:
		peer = &tg.InputPeerEmpty{}
	}
	return offsetID, offsetDate, peer
}

func inputPeerFor(d Dialog) tg.InputPeerClass {
	switch d.Kind {
	case DialogUser:
		return &tg.InputPeerUser{UserID: d.ChatID}
	case DialogGroup:
		return &tg.InputPeerChat{ChatID: -d.ChatID}
	case DialogChannel:
		return &tg.InputPeerChannel{ChannelID: chatid.UnmarkChannel(d.ChatID)}
	default:
		return &tg.InputPeerEmpty{}
	}
}

func unwrapMessages(resp tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, bool) {
	switch m := resp.(type) {
	case *tg.MessagesMessages:
		return m.Messages, m.Users, true
	case *tg.MessagesMessagesSlice:
		return m.Messages, m.Users, true
	case *tg.MessagesChannelMessages:
		return m.Messages, m.Users, true
	default:
		return nil, nil, false
	}
}

func translateMessage(m *tg.Message, chatID int64, users map[int64]*tg.User) IncomingMessage {
	im := IncomingMessage{
		ID:         int64(m.ID),
		ChatID:     chatID,
		Text:       m.Message,
		IsOutgoing: m.Out,
		Date:       time.Unix(int64(m.Date), 0).UTC(),
	}
	if peer, ok := m.GetFromID(); ok {
		if pu, ok := peer.(*tg.PeerUser); ok {
			im.SenderID = pu.UserID
		}
	} else if !m.Out {
		im.SenderID = chatID // private chat with no explicit from_id: the peer is the sender
	}
	if reply, ok := m.GetReplyTo(); ok {
		if rh, ok := reply.(*tg.MessageReplyHeader); ok {
			im.ReplyToMsgID = int64(rh.ReplyToMsgID)
		}
	}
	if editDate, ok := m.GetEditDate(); ok {
		im.EditDate = time.Unix(int64(editDate), 0).UTC()
	}
	if groupedID, ok := m.GetGroupedID(); ok {
		im.GroupedID = groupedID
	}
	if fwd, ok := m.GetFwdFrom(); ok {
		if name, ok := fwd.GetFromName(); ok {
			im.ForwardFromName = name
		} else if from, ok := fwd.GetFromID(); ok {
			if pu, ok := from.(*tg.PeerUser); ok {
				im.ForwardFromID = pu.UserID
			}
		}
	}
	if media, ok := m.GetMedia(); ok {
		im.Media = translateMedia(media)
	}
	if reactions, ok := m.GetReactions(); ok {
		im.Reactions = translateReactions(reactions)
	}
	return im
}

func translateMedia(media tg.MessageMediaClass) *MediaRef {
	switch mm := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := mm.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return &MediaRef{
			Type:           "photo",
			TelegramFileID: strconv.FormatInt(photo.ID, 10),
			SizeBytes:      largestPhotoSize(photo),
			location:       largestPhotoLocation(photo),
		}
	case *tg.MessageMediaDocument:
		doc, ok := mm.Document.(*tg.Document)
		if !ok {
			return nil
		}
		ref := &MediaRef{
			Type:           documentKind(doc),
			TelegramFileID: strconv.FormatInt(doc.ID, 10),
			MimeType:       doc.MimeType,
			SizeBytes:      doc.Size,
			location: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				ref.Width, ref.Height, ref.DurationSec = a.W, a.H, int(a.Duration)
			case *tg.DocumentAttributeImageSize:
				ref.Width, ref.Height = a.W, a.H
			case *tg.DocumentAttributeAudio:
				ref.DurationSec = a.Duration
			}
		}
		return ref
	default:
		return nil
	}
}

func documentKind(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			return "video"
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return "voice"
			}
			return "audio"
		case *tg.DocumentAttributeSticker:
			return "sticker"
		}
	}
	return "document"
}

func largestPhotoSize(photo *tg.Photo) int64 {
	var max int64
	for _, s := range photo.Sizes {
		if ps, ok := s.(*tg.PhotoSize); ok && int64(ps.Size) > max {
			max = int64(ps.Size)
		}
	}
	return max
}

func largestPhotoLocation(photo *tg.Photo) tg.InputFileLocationClass {
	var best *tg.PhotoSize
	for _, s := range photo.Sizes {
		if ps, ok := s.(*tg.PhotoSize); ok && (best == nil || ps.Size > best.Size) {
			best = ps
		}
	}
	thumbSize := ""
	if best != nil {
		thumbSize = best.Type
	}
	return &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     thumbSize,
	}
}

func translateReactions(r tg.MessageReactions) []domain.ReactionItem {
	out := make([]domain.ReactionItem, 0, len(r.Results))
	for _, res := range r.Results {
		emoji := ""
		if e, ok := res.Reaction.(*tg.ReactionEmoji); ok {
			emoji = e.Emoticon
		}
		out = append(out, domain.ReactionItem{Emoji: emoji, Count: res.Count})
	}
	return out
}
