package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-archive/internal/config"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/media"
	"telegram-archive/internal/store"
	"telegram-archive/internal/store/sqlite"
	"telegram-archive/internal/telegram"
)

func storeQueryAll() store.MessageQuery {
	return store.MessageQuery{Limit: 100}
}

func chatFixture(id int64) domain.Chat {
	return domain.Chat{ID: id, Type: domain.ChatTypePrivate, FirstName: "Temp"}
}

func newTestEngine(t *testing.T) (*Engine, *telegram.FakeClient) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mediaStore, err := media.New(t.TempDir(), true, 0)
	require.NoError(t, err)

	fake := telegram.NewFakeClient(1)
	admission := NewAdmission(config.AdmissionConfig{ChatTypesRaw: "private,groups,channels"})

	return &Engine{
		Client:    fake,
		Store:     st,
		Media:     mediaStore,
		Admission: admission,
		Cfg:       config.BackupConfig{BatchSize: 2},
	}, fake
}

func TestEngineRunPullsNewMessagesAscending(t *testing.T) {
	e, fake := newTestEngine(t)
	ctx := context.Background()

	fake.SeedDialog(telegram.Dialog{ChatID: 42, Kind: telegram.DialogUser, FirstName: "Bob"})
	fake.SeedMessages(42,
		telegram.IncomingMessage{ID: 1, ChatID: 42, Text: "hi", Date: time.Unix(1000, 0)},
		telegram.IncomingMessage{ID: 2, ChatID: 42, Text: "there", Date: time.Unix(1001, 0)},
		telegram.IncomingMessage{ID: 3, ChatID: 42, Text: "bob", Date: time.Unix(1002, 0)},
	)

	require.NoError(t, e.Run(ctx))

	page, err := e.Store.GetMessagesPaginated(ctx, 42, storeQueryAll())
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, int64(3), page.Messages[0].ID) // paginated reads are newest-first

	var exported []int64
	for m, err := range e.Store.GetMessagesForExport(ctx, 42) {
		require.NoError(t, err)
		exported = append(exported, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, exported) // export streams ascending

	lastID, err := e.Store.GetLastMessageID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), lastID)
}

func TestEngineDeletesGloballyExcludedChat(t *testing.T) {
	e, fake := newTestEngine(t)
	ctx := context.Background()
	e.Admission = NewAdmission(config.AdmissionConfig{
		ChatTypesRaw:     "private,groups,channels",
		GlobalExcludeRaw: "99",
	})

	fake.SeedDialog(telegram.Dialog{ChatID: 99, Kind: telegram.DialogUser})
	require.NoError(t, e.Store.UpsertChat(ctx, chatFixture(99)))

	require.NoError(t, e.Run(ctx))

	_, err := e.Store.GetChat(ctx, 99)
	assert.Error(t, err)
}

func TestAdmissionExcludeBeatsInclude(t *testing.T) {
	a := NewAdmission(config.AdmissionConfig{
		ChatTypesRaw:     "private",
		GlobalExcludeRaw: "5",
		GlobalIncludeRaw: "5",
	})
	assert.Equal(t, VerdictDelete, a.Evaluate(5, telegram.DialogUser))
}

func TestAdmissionTypeIncludeOverridesConfiguredTypes(t *testing.T) {
	a := NewAdmission(config.AdmissionConfig{
		ChatTypesRaw:      "private",
		ChannelsIncludeRaw: "7",
	})
	assert.Equal(t, VerdictKeep, a.Evaluate(7, telegram.DialogChannel))
	assert.Equal(t, VerdictDrop, a.Evaluate(8, telegram.DialogChannel))
}
