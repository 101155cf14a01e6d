package sqlite

import (
	"context"

	"telegram-archive/internal/domain"
	"telegram-archive/internal/store"
)

// InsertReactions replaces a message's reaction set atomically: the wire
// payload is always the full current tally, not a delta, so a delete-then-
// insert in one transaction is the correct write shape.
func (s *Store) InsertReactions(ctx context.Context, messageID, chatID int64, reactions []domain.ReactionItem) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ? AND chat_id = ?`, messageID, chatID); err != nil {
			return err
		}

		if len(reactions) > 0 {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO reactions (message_id, chat_id, emoji, user_id, count)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(message_id, chat_id, emoji, user_id) DO UPDATE SET count = excluded.count
			`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, r := range reactions {
				if len(r.UserIDs) == 0 {
					if _, err := stmt.ExecContext(ctx, messageID, chatID, r.Emoji, nil, r.Count); err != nil {
						return err
					}
					continue
				}
				for _, uid := range r.UserIDs {
					if _, err := stmt.ExecContext(ctx, messageID, chatID, r.Emoji, uid, 1); err != nil {
						return err
					}
				}
			}
		}
		return tx.Commit()
	})
}
