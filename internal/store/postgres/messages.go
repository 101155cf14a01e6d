package postgres

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
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id, chat_id) DO UPDATE SET
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
				nullString(rawData), m.IsOutgoing, store.NormalizeTime(created)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) UpdateMessageText(ctx context.Context, chatID, id int64, text string, editDate time.Time) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE messages SET text = $1, edit_date = $2 WHERE id = $3 AND chat_id = $4`,
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = $1 AND chat_id = $2`, id, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND chat_id = $2`, id, chatID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) DeleteMessageByIDAnyChat(ctx context.Context, id int64) (int64, bool, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = $1 LIMIT 1`, id).Scan(&chatID)
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
	where := "WHERE chat_id = $1"
	args := []any{chatID}

	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		where += fmt.Sprintf(" AND text ILIKE $%d", len(args))
	}

	if q.BeforeDate != nil && q.BeforeID != nil {
		d := store.NormalizeTime(*q.BeforeDate)
		args = append(args, d, d, *q.BeforeID)
		where += fmt.Sprintf(" AND (date < $%d OR (date = $%d AND id < $%d))", len(args)-2, len(args)-1, len(args))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit+1, q.Offset)
	limitPos := len(args) - 1
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages %s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`, where, limitPos, offsetPos)

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
	var isOutgoing bool
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
	m.IsOutgoing = isOutgoing
	raw, err := domain.UnmarshalRawData(rawData.String)
	if err != nil {
		return domain.Message{}, err
	}
	m.RawData = raw
	return m, nil
}

func (s *Store) FindMessageByDateWithJoins(ctx context.Context, chatID int64, day time.Time) (domain.Message, error) {
	day = store.NormalizeTime(day)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages WHERE chat_id = $1 AND date >= $2 ORDER BY date ASC, id ASC LIMIT 1`, chatID, day)
	if m, err := scanMessage(row); err == nil {
		return m, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages WHERE chat_id = $1 AND date < $2 ORDER BY date DESC, id DESC LIMIT 1`, chatID, day)
	if m, err := scanMessage(row); err == nil {
		return m, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
			edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
		FROM messages WHERE chat_id = $1 ORDER BY date ASC, id ASC LIMIT 1`, chatID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("no messages in chat %d", chatID), err)
	}
	return m, err
}

func (s *Store) GetMessagesForExport(ctx context.Context, chatID int64) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, chat_id, sender_id, date, text, reply_to_msg_id, reply_to_text, forward_from_id,
				edit_date, media_type, media_id, media_path, raw_data, is_outgoing, created_at
			FROM messages WHERE chat_id = $1 ORDER BY id ASC`, chatID)
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

func (s *Store) GetMessagesSyncData(ctx context.Context, chatID int64) (map[int64]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, edit_date FROM messages WHERE chat_id = $1`, chatID)
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

func (s *Store) BackfillOutgoing(ctx context.Context, ownerID int64) (int64, error) {
	var n int64
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_outgoing = TRUE WHERE sender_id = $1 AND is_outgoing = FALSE`, ownerID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
