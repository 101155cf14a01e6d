package sqlite

import (
	"context"
	"database/sql"
	"time"

	"telegram-archive/internal/domain"
	"telegram-archive/internal/store"
)

func (s *Store) UpsertPushSubscription(ctx context.Context, sub domain.PushSubscription) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		now := store.NormalizeTime(time.Now())
		created := sub.CreatedAt
		if created.IsZero() {
			created = now
		}
		var chatID any
		if sub.ChatID != nil {
			chatID = *sub.ChatID
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO push_subscriptions (endpoint, p256dh, auth, chat_id, user_agent, created_at, last_used_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(endpoint) DO UPDATE SET
				p256dh = excluded.p256dh,
				auth = excluded.auth,
				chat_id = excluded.chat_id,
				user_agent = excluded.user_agent,
				last_used_at = excluded.last_used_at
		`, sub.Endpoint, sub.P256dh, sub.Auth, chatID, nullString(sub.UserAgent), store.NormalizeTime(created), now)
		return err
	})
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
		return err
	})
}

// GetPushSubscriptionsForChat returns every subscription that should receive
// an event for chatID: global subscriptions (chat_id IS NULL) plus ones
// scoped to this specific chat.
func (s *Store) GetPushSubscriptionsForChat(ctx context.Context, chatID int64) ([]domain.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, p256dh, auth, chat_id, user_agent, created_at, last_used_at
		FROM push_subscriptions WHERE chat_id IS NULL OR chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.PushSubscription
	for rows.Next() {
		var sub domain.PushSubscription
		var chatIDCol sql.NullInt64
		var userAgent sql.NullString
		var lastUsedAt sql.NullTime
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth, &chatIDCol, &userAgent, &sub.CreatedAt, &lastUsedAt); err != nil {
			return nil, err
		}
		if chatIDCol.Valid {
			v := chatIDCol.Int64
			sub.ChatID = &v
		}
		sub.UserAgent = userAgent.String
		if lastUsedAt.Valid {
			sub.LastUsedAt = lastUsedAt.Time
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) TouchPushSubscription(ctx context.Context, endpoint string, at time.Time) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE push_subscriptions SET last_used_at = ? WHERE endpoint = ?`,
			store.NormalizeTime(at), endpoint)
		return err
	})
}
