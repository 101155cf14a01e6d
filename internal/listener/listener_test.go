package listener

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-archive/internal/chatid"
	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/media"
	"telegram-archive/internal/notify"
	"telegram-archive/internal/store"
	"telegram-archive/internal/store/sqlite"
	"telegram-archive/internal/telegram"
)

func newTestListener(t *testing.T, cfg config.ListenerConfig, includes chatid.Set) (*Listener, *telegram.FakeClient, store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mediaStore, err := media.New(t.TempDir(), true, 0)
	require.NoError(t, err)

	fake := telegram.NewFakeClient(1)
	burst := NewBurstProtector(10, time.Minute)
	l := New(fake, st, mediaStore, &notify.Fabric{}, burst, cfg, includes)
	require.NoError(t, l.Start(ctx))
	return l, fake, st
}

func allEventsConfig() config.ListenerConfig {
	return config.ListenerConfig{
		ListenEdits:            true,
		ListenDeletions:        true,
		ListenNewMessages:      true,
		ListenNewMessagesMedia: true,
		ListenChatActions:      true,
		ListenAlbums:           true,
	}
}

func TestHandleNewMessageTracksIncludedChatAndStores(t *testing.T) {
	l, fake, st := newTestListener(t, allEventsConfig(), chatid.NewSet([]int64{42}))
	ctx := context.Background()

	fake.Deliver(ctx, "new_message", telegram.IncomingMessage{ID: 1, ChatID: 42, Text: "hi", Date: time.Now()})

	msg, err := st.GetMessagesPaginated(ctx, 42, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msg.Messages, 1)
	assert.Equal(t, "hi", msg.Messages[0].Text)
	assert.True(t, l.admit(ctx, 42, false))
}

func TestHandleNewMessageDropsUntrackedUnincludedChat(t *testing.T) {
	_, fake, st := newTestListener(t, allEventsConfig(), nil)
	ctx := context.Background()

	fake.Deliver(ctx, "new_message", telegram.IncomingMessage{ID: 1, ChatID: 7, Text: "hi", Date: time.Now()})

	page, err := st.GetMessagesPaginated(ctx, 7, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestHandleEditMessageUpdatesTrackedChat(t *testing.T) {
	l, fake, st := newTestListener(t, allEventsConfig(), nil)
	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: 42, Type: domain.ChatTypePrivate}))
	require.NoError(t, st.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 42, Text: "hi", Date: time.Now()}))
	require.True(t, l.admit(ctx, 42, false))

	fake.Deliver(ctx, "edit", telegram.IncomingMessage{ID: 1, ChatID: 42, Text: "edited", EditDate: time.Now()})

	page, err := st.GetMessagesPaginated(ctx, 42, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "edited", page.Messages[0].Text)
}

func TestHandleDeleteRemovesMessage(t *testing.T) {
	_, fake, st := newTestListener(t, allEventsConfig(), nil)
	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: 42, Type: domain.ChatTypePrivate}))
	require.NoError(t, st.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 42, Text: "hi", Date: time.Now()}))

	fake.Deliver(ctx, "delete", telegram.DeleteEvent{ChatID: 42, MessageIDs: []int64{1}})

	page, err := st.GetMessagesPaginated(ctx, 42, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestHandleChatActionRefetchesAndUpserts(t *testing.T) {
	_, fake, st := newTestListener(t, allEventsConfig(), nil)
	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: 42, Type: domain.ChatTypePrivate, Title: "old"}))
	fake.SeedDialog(telegram.Dialog{ChatID: 42, Kind: telegram.DialogUser, Title: "new"})

	fake.Deliver(ctx, "chat_action", telegram.ChatActionEvent{ChatID: 42, Kind: "title"})

	chat, err := st.GetChat(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "new", chat.Title)
}

func TestHandleAlbumInsertsEveryMember(t *testing.T) {
	l, fake, st := newTestListener(t, allEventsConfig(), chatid.NewSet([]int64{42}))
	ctx := context.Background()

	fake.Deliver(ctx, "album", telegram.AlbumEvent{
		GroupedID: 99,
		Messages: []telegram.IncomingMessage{
			{ID: 1, ChatID: 42, GroupedID: 99, Date: time.Now()},
			{ID: 2, ChatID: 42, GroupedID: 99, Date: time.Now()},
		},
	})

	page, err := st.GetMessagesPaginated(ctx, 42, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.True(t, l.admit(ctx, 42, false))
}

func TestHandleDeleteIncrementsSkippedCounterWhenDisabled(t *testing.T) {
	cfg := allEventsConfig()
	cfg.ListenDeletions = false
	l, fake, st := newTestListener(t, cfg, nil)
	ctx := context.Background()
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: 42, Type: domain.ChatTypePrivate}))
	require.NoError(t, st.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 42, Text: "hi", Date: time.Now()}))

	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	fake.Deliver(ctx, "delete", telegram.DeleteEvent{ChatID: 42, MessageIDs: ids})

	assert.Equal(t, int64(50), l.Stats().DeletionsSkipped)

	page, err := st.GetMessagesPaginated(ctx, 42, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1, "message must remain untouched when listen_deletions is disabled")
}

func TestBurstProtectorBlocksAfterThreshold(t *testing.T) {
	b := NewBurstProtector(2, time.Minute)
	now := time.Now()

	assert.True(t, b.Check(1, now).Allowed)
	assert.True(t, b.Check(1, now.Add(time.Second)).Allowed)
	v := b.Check(1, now.Add(2*time.Second))
	assert.False(t, v.Allowed)
	assert.Equal(t, "rate limit triggered", v.Reason)

	v = b.Check(1, now.Add(3*time.Second))
	assert.False(t, v.Allowed)
	assert.Equal(t, "rate limited", v.Reason)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.OpsApplied)
	assert.Equal(t, 1, stats.CurrentlyBlocked)
}

func TestBurstProtectorUnblocksAfterWindow(t *testing.T) {
	b := NewBurstProtector(1, time.Minute)
	now := time.Now()

	assert.True(t, b.Check(1, now).Allowed)
	assert.False(t, b.Check(1, now.Add(time.Second)).Allowed)
	assert.True(t, b.Check(1, now.Add(2*time.Minute)).Allowed)
}
