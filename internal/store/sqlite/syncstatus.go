package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telegram-archive/internal/store"
)

func (s *Store) GetLastMessageID(ctx context.Context, chatID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT last_message_id FROM sync_status WHERE chat_id = ?`, chatID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// UpdateSyncStatus atomically advances a chat's pull cursor and increments
// its running message count in a single upsert.
func (s *Store) UpdateSyncStatus(ctx context.Context, chatID, lastMessageID int64, increment int64) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		now := store.NormalizeTime(time.Now())
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_status (chat_id, last_message_id, last_sync_date, message_count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(chat_id) DO UPDATE SET
				last_message_id = excluded.last_message_id,
				last_sync_date = excluded.last_sync_date,
				message_count = sync_status.message_count + ?
		`, chatID, lastMessageID, now, increment, increment)
		return err
	})
}
