package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNamePrefersTelegramFileID(t *testing.T) {
	name := FileName(42, "photo", "abc123", "image/jpeg")
	assert.Equal(t, "abc123.jpg", name)
}

func TestFileNameFallsBackToMessageID(t *testing.T) {
	name := FileName(42, "document", "", "")
	assert.Equal(t, "42.bin", name)
}

func TestPlaceDeduplicatesViaSymlink(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, true, 0)
	require.NoError(t, err)

	write := func(content string) func(dst string) error {
		return func(dst string) error { return os.WriteFile(dst, []byte(content), 0o644) }
	}

	r1, err := s.Place(100, "file.jpg", write("hello"))
	require.NoError(t, err)
	assert.True(t, r1.Deduplicated)

	r2, err := s.Place(200, "file.jpg", write("should not be called"))
	require.NoError(t, err)
	assert.True(t, r2.Deduplicated)

	data, err := os.ReadFile(filepath.Join(root, r2.ChatRelativePath))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestPlaceWithoutDedupeWritesDirectly(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, false, 0)
	require.NoError(t, err)

	r, err := s.Place(100, "a.jpg", func(dst string) error { return os.WriteFile(dst, []byte("x"), 0o644) })
	require.NoError(t, err)
	assert.False(t, r.Deduplicated)
	assert.Equal(t, filepath.Join("100", "a.jpg"), r.ChatRelativePath)
}

func TestExceedsMaxSize(t *testing.T) {
	s := &Store{MaxSizeB: 1024}
	assert.True(t, s.ExceedsMaxSize(2048))
	assert.False(t, s.ExceedsMaxSize(512))

	unlimited := &Store{MaxSizeB: 0}
	assert.False(t, unlimited.ExceedsMaxSize(1 << 40))
}

func TestResolveAvatarPrefersNewestPhotoID(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, false, 0)
	require.NoError(t, err)

	older, err := s.AvatarPath(AvatarUser, 1, 10)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(older, []byte("old"), 0o644))
	require.NoError(t, os.Chtimes(older, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	newer, err := s.AvatarPath(AvatarUser, 1, 20)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0o644))

	resolved, err := s.ResolveAvatar(AvatarUser, 1)
	require.NoError(t, err)
	assert.Equal(t, newer, resolved)
}

func TestResolveAvatarFallsBackToLegacy(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, false, 0)
	require.NoError(t, err)

	legacy, err := s.LegacyAvatarPath(AvatarChat, 5)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(legacy, []byte("legacy"), 0o644))

	resolved, err := s.ResolveAvatar(AvatarChat, 5)
	require.NoError(t, err)
	assert.Equal(t, legacy, resolved)
}

func TestResolveAvatarReturnsEmptyWhenNone(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, false, 0)
	require.NoError(t, err)

	resolved, err := s.ResolveAvatar(AvatarUser, 999)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
