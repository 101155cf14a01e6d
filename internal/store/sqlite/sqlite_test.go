package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-archive/internal/domain"
	"telegram-archive/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertChatIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	chat := domain.Chat{ID: 100, Type: domain.ChatTypePrivate, FirstName: "Ada"}
	require.NoError(t, s.UpsertChat(ctx, chat))

	chat.FirstName = "Ada Lovelace"
	require.NoError(t, s.UpsertChat(ctx, chat))

	got, err := s.GetChat(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FirstName)
}

func TestGetChatNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetChat(context.Background(), 999)
	assert.Error(t, err)
}

func TestInsertMessagesBatchUpsertsOnReinsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))

	msg := domain.Message{ID: 1, ChatID: 1, Date: time.Now(), Text: "hello"}
	require.NoError(t, s.InsertMessagesBatch(ctx, []domain.Message{msg}))

	msg.Text = "hello edited"
	require.NoError(t, s.InsertMessagesBatch(ctx, []domain.Message{msg}))

	page, err := s.GetMessagesPaginated(ctx, 1, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hello edited", page.Messages[0].Text)
}

func TestGetMessagesPaginatedCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))

	base := time.Now().Add(-time.Hour)
	for i := int64(1); i <= 5; i++ {
		msg := domain.Message{ID: i, ChatID: 1, Date: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.InsertMessage(ctx, msg))
	}

	page, err := s.GetMessagesPaginated(ctx, 1, store.MessageQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(5), page.Messages[0].ID)
	assert.Equal(t, int64(4), page.Messages[1].ID)

	last := page.Messages[1]
	next, err := s.GetMessagesPaginated(ctx, 1, store.MessageQuery{
		Limit:      2,
		BeforeDate: &last.Date,
		BeforeID:   &last.ID,
	})
	require.NoError(t, err)
	require.Len(t, next.Messages, 2)
	assert.Equal(t, int64(3), next.Messages[0].ID)
	assert.Equal(t, int64(2), next.Messages[1].ID)
}

func TestDeleteMessageRemovesReactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))
	require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 1, Date: time.Now()}))
	require.NoError(t, s.InsertReactions(ctx, 1, 1, []domain.ReactionItem{{Emoji: "👍", Count: 1}}))

	require.NoError(t, s.DeleteMessage(ctx, 1, 1))

	_, found, err := s.DeleteMessageByIDAnyChat(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteMessageByIDAnyChatResolvesChat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 7, Type: domain.ChatTypeChannel}))
	require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: 42, ChatID: 7, Date: time.Now()}))

	chatID, found, err := s.DeleteMessageByIDAnyChat(ctx, 42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), chatID)
}

func TestUpdateSyncStatusAccumulatesCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))

	require.NoError(t, s.UpdateSyncStatus(ctx, 1, 10, 5))
	require.NoError(t, s.UpdateSyncStatus(ctx, 1, 20, 3))

	id, err := s.GetLastMessageID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), id)
}

func TestBackfillOutgoingOnlyTouchesOwnerMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))
	require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 1, SenderID: 555, Date: time.Now()}))
	require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: 2, ChatID: 1, SenderID: 999, Date: time.Now()}))

	n, err := s.BackfillOutgoing(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	page, err := s.GetMessagesPaginated(ctx, 1, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	for _, m := range page.Messages {
		assert.Equal(t, m.SenderID == 555, m.IsOutgoing)
	}
}

func TestDeleteChatAndRelatedDataCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mediaRoot := t.TempDir()

	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))
	require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 1, Date: time.Now()}))
	require.NoError(t, s.InsertReactions(ctx, 1, 1, []domain.ReactionItem{{Emoji: "🔥", Count: 1}}))
	require.NoError(t, s.UpdateSyncStatus(ctx, 1, 1, 1))

	require.NoError(t, s.DeleteChatAndRelatedData(ctx, 1, mediaRoot))

	_, err := s.GetChat(ctx, 1)
	assert.Error(t, err)

	page, err := s.GetMessagesPaginated(ctx, 1, store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestGetMediaForVerificationOnlyYieldsDownloaded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMedia(ctx, domain.Media{ID: "a", Type: "photo", FilePath: "1/a.jpg", Downloaded: true}))
	require.NoError(t, s.InsertMedia(ctx, domain.Media{ID: "b", Type: "photo", Downloaded: false}))

	var seen []string
	for m, err := range s.GetMediaForVerification(ctx) {
		require.NoError(t, err)
		seen = append(seen, m.ID)
	}
	assert.Equal(t, []string{"a"}, seen)
}

func TestGetMessagesForExportStreamsAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))
	for i := int64(3); i >= 1; i-- {
		require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: i, ChatID: 1, Date: time.Now()}))
	}

	var ids []int64
	for m, err := range s.GetMessagesForExport(ctx, 1) {
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestCachedStatsRespectsMaxAge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetCachedStats(ctx, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCachedStats(ctx, store.Stats{ChatCount: 2, CalculatedAt: time.Now()}))

	got, ok, err := s.GetCachedStats(ctx, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ChatCount)

	_, ok, err = s.GetCachedStats(ctx, -time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPushSubscription(ctx, domain.PushSubscription{
		Endpoint: "https://push.example/ep1",
		P256dh:   "key",
		Auth:     "auth",
	}))

	chatID := int64(5)
	require.NoError(t, s.UpsertPushSubscription(ctx, domain.PushSubscription{
		Endpoint: "https://push.example/ep2",
		P256dh:   "key2",
		Auth:     "auth2",
		ChatID:   &chatID,
	}))

	subs, err := s.GetPushSubscriptionsForChat(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	otherSubs, err := s.GetPushSubscriptionsForChat(ctx, 999)
	require.NoError(t, err)
	assert.Len(t, otherSubs, 1)

	require.NoError(t, s.DeletePushSubscription(ctx, "https://push.example/ep1"))
	remaining, err := s.GetPushSubscriptionsForChat(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestFindMessageByDateWithJoinsFallsBackToFirstMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertChat(ctx, domain.Chat{ID: 1, Type: domain.ChatTypeGroup}))

	day := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.InsertMessage(ctx, domain.Message{ID: 1, ChatID: 1, Date: day}))

	m, err := s.FindMessageByDateWithJoins(ctx, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)
}
