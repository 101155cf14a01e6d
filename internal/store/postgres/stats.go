package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"telegram-archive/internal/store"
)

type cachedStats struct {
	Stats store.Stats `json:"stats"`
}

func (s *Store) GetCachedStats(ctx context.Context, maxAge time.Duration) (store.Stats, bool, error) {
	raw, ok, err := s.GetMetadata(ctx, "stats_cache")
	if err != nil || !ok {
		return store.Stats{}, false, err
	}
	var cached cachedStats
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return store.Stats{}, false, nil
	}
	if time.Since(cached.Stats.CalculatedAt) > maxAge {
		return store.Stats{}, false, nil
	}
	return cached.Stats, true, nil
}

func (s *Store) SetCachedStats(ctx context.Context, stats store.Stats) error {
	raw, err := json.Marshal(cachedStats{Stats: stats})
	if err != nil {
		return err
	}
	return s.SetMetadata(ctx, "stats_cache", string(raw))
}

func (s *Store) GetChatStats(ctx context.Context, chatID int64) (store.ChatStats, error) {
	stats := store.ChatStats{ChatID: chatID}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&stats.MessageCount); err != nil {
		return store.ChatStats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE chat_id = $1 AND downloaded = TRUE`, chatID).Scan(&stats.MediaCount); err != nil {
		return store.ChatStats{}, err
	}

	var first, last sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MIN(date), MAX(date) FROM messages WHERE chat_id = $1`, chatID).Scan(&first, &last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.ChatStats{}, err
	}
	if first.Valid {
		stats.FirstMessage = first.Time
	}
	if last.Valid {
		stats.LastMessage = last.Time
	}
	return stats, nil
}
