package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-archive/internal/telegram"
)

// wipeMediaFile deletes a media file and, if the dedup pool placed it behind
// a symlink, the shared-pool target too, so a verify pass can't "fix" the
// row by merely relinking to content that was never actually lost.
func wipeMediaFile(t *testing.T, root, relPath string) {
	t.Helper()
	onDisk := filepath.Join(root, relPath)
	if real, err := filepath.EvalSymlinks(onDisk); err == nil && real != onDisk {
		require.NoError(t, os.Remove(real))
	}
	require.NoError(t, os.Remove(onDisk))
}

func TestEngineRunRedownloadsBrokenMediaWhenVerifyMediaEnabled(t *testing.T) {
	e, fake := newTestEngine(t)
	ctx := context.Background()
	e.Cfg.VerifyMedia = true

	content := []byte("0123456789")
	fake.SeedDialog(telegram.Dialog{ChatID: 42, Kind: telegram.DialogUser, FirstName: "Bob"})
	fake.SeedMessages(42, telegram.IncomingMessage{
		ID: 1, ChatID: 42, Text: "a photo", Date: time.Now(),
		Media: &telegram.MediaRef{Type: "photo", TelegramFileID: "file1", MimeType: "image/jpeg", SizeBytes: int64(len(content))},
	})
	fake.SeedMedia("file1", content)

	require.NoError(t, e.Run(ctx))

	m, err := e.Store.GetMedia(ctx, "file1")
	require.NoError(t, err)
	require.True(t, m.Downloaded)
	require.NotEmpty(t, m.FilePath)

	wipeMediaFile(t, e.Media.Root, m.FilePath)

	require.NoError(t, e.Run(ctx))

	m, err = e.Store.GetMedia(ctx, "file1")
	require.NoError(t, err)
	assert.True(t, m.Downloaded)
	assert.Equal(t, int64(len(content)), m.FileSize)
	assert.NotEmpty(t, m.FilePath)

	refreshed, err := os.ReadFile(filepath.Join(e.Media.Root, m.FilePath))
	require.NoError(t, err)
	assert.Equal(t, content, refreshed)
}

func TestEngineRunSkipsVerifyMediaWhenDisabled(t *testing.T) {
	e, fake := newTestEngine(t)
	ctx := context.Background()
	e.Cfg.VerifyMedia = false

	content := []byte("abcdefghij")
	fake.SeedDialog(telegram.Dialog{ChatID: 42, Kind: telegram.DialogUser, FirstName: "Bob"})
	fake.SeedMessages(42, telegram.IncomingMessage{
		ID: 1, ChatID: 42, Text: "a photo", Date: time.Now(),
		Media: &telegram.MediaRef{Type: "photo", TelegramFileID: "file2", MimeType: "image/jpeg", SizeBytes: int64(len(content))},
	})
	fake.SeedMedia("file2", content)

	require.NoError(t, e.Run(ctx))

	m, err := e.Store.GetMedia(ctx, "file2")
	require.NoError(t, err)
	wipeMediaFile(t, e.Media.Root, m.FilePath)

	require.NoError(t, e.Run(ctx))

	m, err = e.Store.GetMedia(ctx, "file2")
	require.NoError(t, err)
	assert.True(t, m.Downloaded, "verify_media is off, so the missing-file row is never marked broken")
}

func TestVerifyMediaBatchesRedownloadPerChat(t *testing.T) {
	e, fake := newTestEngine(t)
	ctx := context.Background()

	fake.SeedDialog(telegram.Dialog{ChatID: 42, Kind: telegram.DialogUser})
	content := []byte("hello-world")
	for i := int64(1); i <= 3; i++ {
		fileID := "batch" + string(rune('0'+i))
		fake.SeedMessages(42, telegram.IncomingMessage{
			ID: i, ChatID: 42, Text: "m", Date: time.Now(),
			Media: &telegram.MediaRef{Type: "document", TelegramFileID: fileID, MimeType: "application/octet-stream", SizeBytes: int64(len(content))},
		})
		fake.SeedMedia(fileID, content)
	}

	require.NoError(t, e.Run(ctx))

	for i := int64(1); i <= 3; i++ {
		fileID := "batch" + string(rune('0'+i))
		m, err := e.Store.GetMedia(ctx, fileID)
		require.NoError(t, err)
		wipeMediaFile(t, e.Media.Root, m.FilePath)
	}

	require.NoError(t, e.VerifyMedia(ctx))

	for i := int64(1); i <= 3; i++ {
		fileID := "batch" + string(rune('0'+i))
		m, err := e.Store.GetMedia(ctx, fileID)
		require.NoError(t, err)
		assert.True(t, m.Downloaded)
		assert.NotEmpty(t, m.FilePath)
	}
}

func TestVerifyMediaLeavesRowBrokenWhenOwningMessageIsGone(t *testing.T) {
	e, fake := newTestEngine(t)
	ctx := context.Background()

	fake.SeedDialog(telegram.Dialog{ChatID: 42, Kind: telegram.DialogUser})
	content := []byte("gone")
	fake.SeedMessages(42, telegram.IncomingMessage{
		ID: 1, ChatID: 42, Text: "m", Date: time.Now(),
		Media: &telegram.MediaRef{Type: "photo", TelegramFileID: "file3", MimeType: "image/jpeg", SizeBytes: int64(len(content))},
	})
	fake.SeedMedia("file3", content)
	require.NoError(t, e.Run(ctx))

	m, err := e.Store.GetMedia(ctx, "file3")
	require.NoError(t, err)
	wipeMediaFile(t, e.Media.Root, m.FilePath)

	// Simulate the message having since been deleted upstream: the fake
	// only ever fetches what it still has seeded, so dropping this id from
	// its in-memory history is equivalent to Telegram no longer returning it.
	fake.ForgetMessage(42, 1)

	require.NoError(t, e.VerifyMedia(ctx))

	m, err = e.Store.GetMedia(ctx, "file3")
	require.NoError(t, err)
	assert.False(t, m.Downloaded)
	assert.Empty(t, m.FilePath)
}
