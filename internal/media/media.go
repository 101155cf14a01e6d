// Package media implements the content-addressed file layout: a
// per-chat directory tree, a global dedup pool under _shared, and a
// symlink-with-fallback write path, grounded on original_source's
// telegram_backup.py media-download routine.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/logging"
)

// Store manages the on-disk media tree rooted at Root.
type Store struct {
	Root       string
	Dedupe     bool
	MaxSizeB   int64
}

// New constructs a media.Store over root, creating it if needed.
func New(root string, dedupe bool, maxSizeBytes int64) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMediaSystem, "create media root", err)
	}
	return &Store{Root: root, Dedupe: dedupe, MaxSizeB: maxSizeBytes}, nil
}

// ChatDir returns (and creates) the chat-specific media directory.
func (s *Store) ChatDir(chatID int64) (string, error) {
	dir := filepath.Join(s.Root, fmt.Sprint(chatID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.ErrMediaSystem, "create chat media directory", err)
	}
	return dir, nil
}

// SharedDir returns (and creates) the dedup pool directory.
func (s *Store) SharedDir() (string, error) {
	dir := filepath.Join(s.Root, "_shared")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.ErrMediaSystem, "create shared media directory", err)
	}
	return dir, nil
}

// FileName builds the stable, dedup-friendly filename for a piece of media:
// the Telegram file-unique-id followed by an extension resolved from MIME
// type, falling back to the media type, matching the original's
// _get_media_filename scheme.
func FileName(messageID int64, mediaType, telegramFileID, mimeType string) string {
	ext := extensionFor(mimeType, mediaType)
	if telegramFileID != "" {
		return fmt.Sprintf("%s%s", telegramFileID, ext)
	}
	return fmt.Sprintf("%d%s", messageID, ext)
}

var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"application/pdf": ".pdf",
}

var mediaTypeExtensions = map[string]string{
	"photo":     ".jpg",
	"video":     ".mp4",
	"voice":     ".ogg",
	"audio":     ".mp3",
	"document":  ".bin",
	"sticker":   ".webp",
	"animation": ".mp4",
}

func extensionFor(mimeType, mediaType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	if ext, ok := mediaTypeExtensions[mediaType]; ok {
		return ext
	}
	return ".bin"
}

// WriteResult describes where a downloaded file ended up.
type WriteResult struct {
	ChatRelativePath string // path to store in domain.Media.FilePath, relative to Root
	Size             int64
	Deduplicated     bool
}

// Place writes src's bytes (via copyFn, which the caller supplies so this
// package never talks MTProto directly) into the chat directory, routing
// through the shared dedup pool when Dedupe is enabled and creating a
// relative symlink, with copy/move fallback when symlinks are unavailable.
func (s *Store) Place(chatID int64, fileName string, copyFn func(dst string) error) (WriteResult, error) {
	chatDir, err := s.ChatDir(chatID)
	if err != nil {
		return WriteResult{}, err
	}
	destPath := filepath.Join(chatDir, fileName)
	relResult := func(size int64, dedup bool) WriteResult {
		rel, _ := filepath.Rel(s.Root, destPath)
		return WriteResult{ChatRelativePath: rel, Size: size, Deduplicated: dedup}
	}

	if _, err := os.Stat(destPath); err == nil {
		size, _ := fileSize(destPath)
		return relResult(size, false), nil
	}

	if !s.Dedupe {
		if err := copyFn(destPath); err != nil {
			return WriteResult{}, apperrors.Wrap(apperrors.ErrMediaSystem, "download media", err)
		}
		size, _ := fileSize(destPath)
		return relResult(size, false), nil
	}

	sharedDir, err := s.SharedDir()
	if err != nil {
		return WriteResult{}, err
	}
	sharedPath := filepath.Join(sharedDir, fileName)

	if _, err := os.Stat(sharedPath); err == nil {
		if err := symlinkOrCopy(sharedPath, destPath); err != nil {
			return WriteResult{}, apperrors.Wrap(apperrors.ErrMediaSystem, "link deduplicated media", err)
		}
		size, _ := fileSize(sharedPath)
		return relResult(size, true), nil
	}

	if err := copyFn(sharedPath); err != nil {
		return WriteResult{}, apperrors.Wrap(apperrors.ErrMediaSystem, "download media to shared pool", err)
	}
	if err := symlinkOrMove(sharedPath, destPath); err != nil {
		return WriteResult{}, apperrors.Wrap(apperrors.ErrMediaSystem, "link new shared media", err)
	}
	actual := sharedPath
	if _, err := os.Stat(sharedPath); err != nil {
		actual = destPath
	}
	size, _ := fileSize(actual)
	return relResult(size, true), nil
}

func symlinkOrCopy(src, dst string) error {
	rel, err := filepath.Rel(filepath.Dir(dst), src)
	if err != nil {
		rel = src
	}
	if err := os.Symlink(rel, dst); err != nil {
		logging.Warn().Err(err).Msg("symlink failed, copying file instead")
		return copyFile(src, dst)
	}
	return nil
}

func symlinkOrMove(src, dst string) error {
	rel, err := filepath.Rel(filepath.Dir(dst), src)
	if err != nil {
		rel = src
	}
	if err := os.Symlink(rel, dst); err != nil {
		logging.Warn().Err(err).Msg("symlink failed, moving file instead")
		if err := os.Rename(src, dst); err != nil {
			return copyFile(src, dst)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ExceedsMaxSize reports whether a media item's reported size should be
// skipped entirely, per's size guard.
func (s *Store) ExceedsMaxSize(size int64) bool {
	return s.MaxSizeB > 0 && size > s.MaxSizeB
}
