package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"telegram-archive/internal/apperrors"
)

// AvatarKind distinguishes a user avatar from a chat avatar; each has its
// own subdirectory under <root>/avatars.
type AvatarKind string

const (
	AvatarUser AvatarKind = "users"
	AvatarChat AvatarKind = "chats"
)

// AvatarDir returns (and creates) the avatar subdirectory for kind.
func (s *Store) AvatarDir(kind AvatarKind) (string, error) {
	dir := filepath.Join(s.Root, "avatars", string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.ErrMediaSystem, "create avatar directory", err)
	}
	return dir, nil
}

// AvatarPath builds the target path for an entity's current avatar: the
// entity id suffixed with its photo id, so a new profile photo produces a
// new file instead of overwriting the old one.
func (s *Store) AvatarPath(kind AvatarKind, entityID int64, photoID int64) (string, error) {
	dir, err := s.AvatarDir(kind)
	if err != nil {
		return "", err
	}
	suffix := "_current"
	if photoID != 0 {
		suffix = fmt.Sprintf("_%d", photoID)
	}
	return filepath.Join(dir, fmt.Sprintf("%d%s.jpg", entityID, suffix)), nil
}

// LegacyAvatarPath is the pre-photo-id naming scheme kept around so chats
// backed up by an older version of this system still resolve an avatar.
func (s *Store) LegacyAvatarPath(kind AvatarKind, entityID int64) (string, error) {
	dir, err := s.AvatarDir(kind)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%d.jpg", entityID)), nil
}

// ResolveAvatar finds the best avatar file for an entity: the newest
// photo-id-suffixed file if any exist, else the legacy fixed-name file,
// else empty. Mirrors the original's fallback-to-legacy-path behavior.
func (s *Store) ResolveAvatar(kind AvatarKind, entityID int64) (string, error) {
	dir, err := s.AvatarDir(kind)
	if err != nil {
		return "", err
	}

	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%d_*.jpg", entityID)))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrMediaSystem, "glob avatar files", err)
	}
	if len(matches) > 0 {
		sort.Slice(matches, func(i, j int) bool {
			return newerThan(matches[i], matches[j])
		})
		return matches[0], nil
	}

	legacy := filepath.Join(dir, fmt.Sprintf("%d.jpg", entityID))
	if info, err := os.Stat(legacy); err == nil && !info.IsDir() {
		return legacy, nil
	}
	return "", nil
}

func newerThan(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return infoA.ModTime().After(infoB.ModTime())
}
