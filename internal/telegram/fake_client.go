package telegram

import (
	"context"
	"io"
	"iter"
	"sort"
	"sync"
)

// FakeClient is an in-memory Client used by internal/backup and
// internal/listener tests so ingestion logic can be exercised without a
// live MTProto session.
type FakeClient struct {
	mu         sync.Mutex
	ownerID    int64
	dialogs    []Dialog
	messages   map[int64][]IncomingMessage // chatID -> ascending messages
	avatars    map[int64][]byte            // chatID -> avatar bytes
	media      map[string][]byte           // TelegramFileID -> content
	dispatcher Dispatcher
	shared     bool
}

// NewFakeClient constructs an empty fake; use the Seed* helpers to populate it.
func NewFakeClient(ownerID int64) *FakeClient {
	return &FakeClient{
		ownerID:  ownerID,
		messages: make(map[int64][]IncomingMessage),
		avatars:  make(map[int64][]byte),
		media:    make(map[string][]byte),
	}
}

func (f *FakeClient) SeedDialog(d Dialog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogs = append(f.dialogs, d)
}

func (f *FakeClient) SeedMessages(chatID int64, msgs ...IncomingMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[chatID] = append(f.messages[chatID], msgs...)
	sort.Slice(f.messages[chatID], func(i, j int) bool { return f.messages[chatID][i].ID < f.messages[chatID][j].ID })
}

// ForgetMessage removes a previously seeded message from chatID's history,
// so a later FetchMessagesByID call reports it Deleted, simulating the
// message having since been removed upstream.
func (f *FakeClient) ForgetMessage(chatID, messageID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[chatID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[chatID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

func (f *FakeClient) SeedMedia(telegramFileID string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[telegramFileID] = content
}

func (f *FakeClient) SeedAvatar(chatID int64, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.avatars[chatID] = content
}

// Deliver feeds a synthetic update to whichever dispatcher handler matches,
// for tests exercising the listener directly.
func (f *FakeClient) Deliver(ctx context.Context, kind string, payload any) {
	f.mu.Lock()
	d := f.dispatcher
	f.mu.Unlock()
	switch kind {
	case "new_message":
		if d.OnNewMessage != nil {
			d.OnNewMessage(ctx, payload.(IncomingMessage))
		}
	case "edit":
		if d.OnEditMessage != nil {
			d.OnEditMessage(ctx, payload.(IncomingMessage))
		}
	case "delete":
		if d.OnDeleteMessages != nil {
			d.OnDeleteMessages(ctx, payload.(DeleteEvent))
		}
	case "chat_action":
		if d.OnChatAction != nil {
			d.OnChatAction(ctx, payload.(ChatActionEvent))
		}
	case "album":
		if d.OnAlbum != nil {
			d.OnAlbum(ctx, payload.(AlbumEvent))
		}
	}
}

func (f *FakeClient) RegisterDispatcher(d Dispatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatcher = d
}

func (f *FakeClient) Shared() bool { return f.shared }

func (f *FakeClient) Run(ctx context.Context, ready func(context.Context) error) error {
	if ready != nil {
		if err := ready(ctx); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *FakeClient) Disconnect(ctx context.Context) error { return nil }

func (f *FakeClient) Self(ctx context.Context) (int64, error) {
	return f.ownerID, nil
}

func (f *FakeClient) ListDialogs(ctx context.Context) ([]Dialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Dialog, len(f.dialogs))
	copy(out, f.dialogs)
	return out, nil
}

func (f *FakeClient) ResolveDialog(ctx context.Context, chatID int64) (Dialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dialogs {
		if d.ChatID == chatID {
			return d, nil
		}
	}
	return Dialog{}, io.EOF
}

func (f *FakeClient) IterMessages(ctx context.Context, d Dialog, minID int64) iter.Seq2[IncomingMessage, error] {
	return func(yield func(IncomingMessage, error) bool) {
		f.mu.Lock()
		msgs := append([]IncomingMessage(nil), f.messages[d.ChatID]...)
		f.mu.Unlock()
		for _, m := range msgs {
			if m.ID <= minID {
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (f *FakeClient) FetchMessagesByID(ctx context.Context, d Dialog, ids []int64) ([]IncomingMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[int64]IncomingMessage, len(f.messages[d.ChatID]))
	for _, m := range f.messages[d.ChatID] {
		byID[m.ID] = m
	}
	out := make([]IncomingMessage, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		} else {
			out = append(out, IncomingMessage{ID: id, ChatID: d.ChatID, Deleted: true})
		}
	}
	return out, nil
}

func (f *FakeClient) DownloadMedia(ctx context.Context, ref MediaRef, w io.Writer) error {
	f.mu.Lock()
	content, ok := f.media[ref.TelegramFileID]
	f.mu.Unlock()
	if !ok {
		return io.ErrUnexpectedEOF
	}
	_, err := w.Write(content)
	return err
}

func (f *FakeClient) DownloadAvatar(ctx context.Context, d Dialog, w io.Writer) (int64, error) {
	f.mu.Lock()
	content, ok := f.avatars[d.ChatID]
	f.mu.Unlock()
	if !ok {
		return 0, nil
	}
	if _, err := w.Write(content); err != nil {
		return 0, err
	}
	return d.PhotoID, nil
}
