package viewer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-archive/internal/chatid"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/store/sqlite"
)

func TestNormalizeDisplayChatIDsRewritesUnmarkedChannel(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	marked := chatid.MarkChannel(12345)
	require.NoError(t, st.UpsertChat(ctx, domain.Chat{ID: marked, Type: domain.ChatTypeChannel}))

	out := NormalizeDisplayChatIDs(ctx, st, []int64{12345})
	assert.Equal(t, []int64{marked}, out)

	// Idempotent: normalizing an already-marked id is a no-op.
	out2 := NormalizeDisplayChatIDs(ctx, st, out)
	assert.Equal(t, out, out2)
}

func TestNormalizeDisplayChatIDsLeavesUnknownIDsUnchanged(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	out := NormalizeDisplayChatIDs(ctx, st, []int64{999})
	assert.Equal(t, []int64{999}, out)
}
