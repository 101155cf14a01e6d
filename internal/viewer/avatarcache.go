package viewer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"telegram-archive/internal/config"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/media"
)

const avatarCacheTTL = 5 * time.Minute

// AvatarCache caches the resolved avatar URL for a chat row, avoiding a
// filesystem glob (media.Store.ResolveAvatar) on every chat-list request.
type AvatarCache struct {
	rdb   *redis.Client
	media *media.Store
}

func NewAvatarCache(cfg config.RedisConfig, mediaStore *media.Store) *AvatarCache {
	return &AvatarCache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		media: mediaStore,
	}
}

func avatarCacheKey(kind media.AvatarKind, entityID int64) string {
	return fmt.Sprintf("avatar:%s:%d", kind, entityID)
}

// URLFor resolves the avatar path for entityID, serving a cached miss-or-hit
// marker when available and populating the cache otherwise.
func (a *AvatarCache) URLFor(ctx context.Context, kind media.AvatarKind, entityID int64) string {
	key := avatarCacheKey(kind, entityID)
	if cached, err := a.rdb.Get(ctx, key).Result(); err == nil {
		if cached == "-" {
			return ""
		}
		return cached
	}

	path, err := a.media.ResolveAvatar(kind, entityID)
	if err != nil {
		logging.Warn().Err(err).Int64("entity_id", entityID).Msg("viewer: avatar resolve failed")
		return ""
	}

	cacheVal := path
	if path == "" {
		cacheVal = "-"
	}
	if err := a.rdb.Set(ctx, key, cacheVal, avatarCacheTTL).Err(); err != nil {
		logging.Warn().Err(err).Msg("viewer: avatar cache write failed")
	}
	return path
}

// Invalidate drops a cached entry, called after a chat action refreshes an avatar.
func (a *AvatarCache) Invalidate(ctx context.Context, kind media.AvatarKind, entityID int64) {
	if err := a.rdb.Del(ctx, avatarCacheKey(kind, entityID)).Err(); err != nil {
		logging.Warn().Err(err).Msg("viewer: avatar cache invalidate failed")
	}
}
