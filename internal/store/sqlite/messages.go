package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/store"
)

func (s *Store) InsertMessage(ctx context.Context, msg domain.Message) error {
	return s.InsertMessagesBatch(ctx, []domain.Message{msg})
}

// InsertMessagesBatch is idempotent: re-inserting the same (id, chat_id)
// overwrites the prior row, via ON CONFLICT DO UPDATE inside one transaction.
func (s *Store) InsertMessagesBatch(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return store.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text,
				forward_from_id, edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id, chat_id) DO UPDATE SET
				sender_id = excluded.sender_id,
				date = excluded.date,
				text = excluded.text,
				reply_to_msg_id = excluded.reply_to_msg_id,
				reply_to_text = excluded.reply_to_text,
				forward_from_id = excluded.forward_from_id,
				edit_date = excluded.edit_date,
				media_type = excluded.media_type,
				media_id = excluded.media_id,
				media_path = excluded.media_path,
				raw_data = excluded.raw_data
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := store.NormalizeTime(time.Now())
		for _, m := range msgs {
			rawData, err := m.RawData.Marshal()
			if err != nil {
				return fmt.Errorf("marshal raw_data for message %d/%d: %w", m.ChatID, m.ID, err)
			}
			created := m.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, m.ID, m.ChatID, nullInt64(m.SenderID), store.NormalizeTime(m.Date),
				nullString(m.Text), nullInt64(m.ReplyToMsgID), nullString(m.ReplyToText), nullInt64(m.ForwardFromID),
				nullTime(m.EditDate), nullString(m.MediaType), nullString(m.MediaID), nullString(m.MediaPath),
				nullString(rawData), boolToInt(m.IsOutgoing), store.NormalizeTime(created)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) UpdateMessageText(ctx context.Context, chatID, id int64, text string, editDate time.Time) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE messages SET text = ?, edit_date = ? WHERE id = ? AND chat_id = ?`,
			text, store.NormalizeTime(editDate), id, chatID)
		return err
	})
}

func (s *Store) DeleteMessage(ctx context.Context, chatID, id int64) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ? AND chat_id = ?`, id, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND chat_id = ?`, id, chatID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeleteMessageByIDAnyChat supports the listener's "deletion without chat"
// fallback: the event gives only a message id, so the chat must be
// resolved from the store.
func (s *Store) DeleteMessageByIDAnyChat(ctx context.Context, id int64) (int64, bool, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = ? LIMIT 1`, id).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if err := s.DeleteMessage(ctx, chatID, id); err != nil {
		return 0, false, err
	}
	return chatID, true, nil
}

func (s *Store) GetMessagesPaginated(ctx context.Context, chatID int64, q store.MessageQuery) (store.MessagePage, error) {
	where := "WHERE chat_id = ?"
	args := []any{chatID}

	if q.Search != "" {
		where += " AND text LIKE ?"
		args = append(args, "%"+q.Search+"%")
	}

	order := "ORDER BY date DESC, id DESC"
	if q.BeforeDate != nil && q.BeforeID != nil {
		where += " AND (date < ? OR (date = ? AND id < ?))"
		args = append(args, store.NormalizeTime(*q.BeforeDate), store.NormalizeTime(*q.BeforeDate), *q.BeforeID)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	// Fetch one extra row to compute has_more without a second query.
	query := fmt.Sprintf(`
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages %s %s LIMIT ? OFFSET ?`, where, order)
	args = append(args, limit+1, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.MessagePage{}, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return store.MessagePage{}, err
		}
		msgs = append(msgs, m)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return store.MessagePage{Messages: msgs, HasMore: hasMore}, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var m domain.Message
	var senderID, replyToMsgID, forwardFromID sql.NullInt64
	var text, replyToText, mediaType, mediaID, mediaPath, rawData sql.NullString
	var editDate sql.NullTime
	var isOutgoing int
	if err := row.Scan(&m.ID, &m.ChatID, &senderID, &m.Date, &text, &replyToMsgID, &replyToText, &forwardFromID,
		&editDate, &mediaType, &mediaID, &mediaPath, &rawData, &isOutgoing, &m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	m.SenderID = senderID.Int64
	m.Text = text.String
	m.ReplyToMsgID = replyToMsgID.Int64
	m.ReplyToText = replyToText.String
	m.ForwardFromID = forwardFromID.Int64
	if editDate.Valid {
		m.EditDate = editDate.Time
	}
	m.MediaType = mediaType.String
	m.MediaID = mediaID.String
	m.MediaPath = mediaPath.String
	m.IsOutgoing = isOutgoing != 0
	raw, err := domain.UnmarshalRawData(rawData.String)
	if err != nil {
		return domain.Message{}, err
	}
	m.RawData = raw
	return m, nil
}

// FindMessageByDateWithJoins implements the jump-to-date strategy of:
// first message on-or-after the given day, else the last message before it,
// else the chat's first message.
func (s *Store) FindMessageByDateWithJoins(ctx context.Context, chatID int64, day time.Time) (domain.Message, error) {
	day = store.NormalizeTime(day)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages WHERE chat_id = ? AND date >= ? ORDER BY date ASC, id ASC LIMIT 1`, chatID, day)
	if m, err := scanMessage(row); err == nil {
		return m, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages WHERE chat_id = ? AND date < ? ORDER BY date DESC, id DESC LIMIT 1`, chatID, day)
	if m, err := scanMessage(row); err == nil {
		return m, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages WHERE chat_id = ? ORDER BY date ASC, id ASC LIMIT 1`, chatID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("no messages in chat %d", chatID), err)
	}
	return m, err
}

// GetMessagesForExport streams a chat's full history in ascending id order,
// so export can stream NDJSON without buffering the whole chat in memory.
func (s *Store) GetMessagesForExport(ctx context.Context, chatID int64) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
				edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
			FROM messages WHERE chat_id = ? ORDER BY id ASC`, chatID)
		if err != nil {
			yield(domain.Message{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if !yield(m, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Message{}, err)
		}
	}
}

// GetMessagesSyncData returns id -> edit_date for every local message in a
// chat, the input to the deletion/edit reconciliation sweep.
func (s *Store) GetMessagesSyncData(ctx context.Context, chatID int64) (map[int64]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, edit_date FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var editDate sql.NullTime
		if err := rows.Scan(&id, &editDate); err != nil {
			return nil, err
		}
		if editDate.Valid {
			out[id] = editDate.Time
		} else {
			out[id] = time.Time{}
		}
	}
	return out, rows.Err()
}

// BackfillOutgoing sets is_outgoing=1 on every historical message sent by
// ownerID.
func (s *Store) BackfillOutgoing(ctx context.Context, ownerID int64) (int64, error) {
	var n int64
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_outgoing = 1 WHERE sender_id = ? AND is_outgoing = 0`, ownerID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
