package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/store"
)

func (s *Store) UpsertChat(ctx context.Context, chat domain.Chat) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		now := store.NormalizeTime(time.Now())
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chats (id, type, title, username, first_name, last_name, phone, description, participants_count, last_synced_message_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				type = excluded.type,
				title = excluded.title,
				username = excluded.username,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				phone = excluded.phone,
				description = excluded.description,
				participants_count = excluded.participants_count,
				last_synced_message_id = excluded.last_synced_message_id,
				updated_at = excluded.updated_at
		`, chat.ID, string(chat.Type), chat.Title, chat.Username, chat.FirstName, chat.LastName,
			chat.Phone, chat.Description, chat.ParticipantsCount, chat.LastSyncedMessageID, now, now)
		return err
	})
}

func (s *Store) UpsertUser(ctx context.Context, user domain.User) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		now := store.NormalizeTime(time.Now())
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (id, username, first_name, last_name, phone, is_bot, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				username = excluded.username,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				phone = excluded.phone,
				is_bot = excluded.is_bot,
				updated_at = excluded.updated_at
		`, user.ID, user.Username, user.FirstName, user.LastName, user.Phone, user.IsBot, now, now)
		return err
	})
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, username, first_name, last_name, phone, description, participants_count, last_synced_message_id, created_at, updated_at
		FROM chats WHERE id = $1`, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chat{}, apperrors.Wrap(apperrors.ErrNotFound, fmt.Sprintf("chat %d", chatID), err)
	}
	return c, err
}

func scanChat(row *sql.Row) (domain.Chat, error) {
	var c domain.Chat
	var chatType string
	var title, username, firstName, lastName, phone, description sql.NullString
	if err := row.Scan(&c.ID, &chatType, &title, &username, &firstName, &lastName, &phone, &description,
		&c.ParticipantsCount, &c.LastSyncedMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Chat{}, err
	}
	c.Type = domain.ChatType(chatType)
	c.Title = title.String
	c.Username = username.String
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.Phone = phone.String
	c.Description = description.String
	return c, nil
}

func (s *Store) GetAllChats(ctx context.Context, q store.ChatQuery) (store.ChatPage, error) {
	where := ""
	args := []any{}
	if q.Search != "" {
		where = "WHERE title ILIKE $1 OR username ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1"
		args = append(args, "%"+q.Search+"%")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM chats " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return store.ChatPage{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	listQuery := fmt.Sprintf(`
		SELECT id, type, title, username, first_name, last_name, phone, description, participants_count, last_synced_message_id, created_at, updated_at
		FROM chats %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, where, limitPos, offsetPos)
	rows, err := s.db.QueryContext(ctx, listQuery, append(append([]any{}, args...), limit, q.Offset)...)
	if err != nil {
		return store.ChatPage{}, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var c domain.Chat
		var chatType string
		var title, username, firstName, lastName, phone, description sql.NullString
		if err := rows.Scan(&c.ID, &chatType, &title, &username, &firstName, &lastName, &phone, &description,
			&c.ParticipantsCount, &c.LastSyncedMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return store.ChatPage{}, err
		}
		c.Type = domain.ChatType(chatType)
		c.Title, c.Username, c.FirstName, c.LastName, c.Phone, c.Description =
			title.String, username.String, firstName.String, lastName.String, phone.String, description.String
		chats = append(chats, c)
	}
	return store.ChatPage{Chats: chats, Total: total}, rows.Err()
}

func (s *Store) DeleteChatAndRelatedData(ctx context.Context, chatID int64, mediaRoot string) error {
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE chat_id = $1`, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE chat_id = $1`, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_status WHERE chat_id = $1`, chatID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	if mediaRoot != "" {
		chatDir := filepath.Join(mediaRoot, fmt.Sprint(chatID))
		if rmErr := os.RemoveAll(chatDir); rmErr != nil {
			return apperrors.Wrap(apperrors.ErrMediaSystem, "remove chat media directory", rmErr)
		}
		matches, _ := filepath.Glob(filepath.Join(mediaRoot, "avatars", "chats", fmt.Sprintf("%d_*.jpg", chatID)))
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	return nil
}
