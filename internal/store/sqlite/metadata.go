package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"telegram-archive/internal/store"
)

// SetMetadata persists a singleton key/value, used for the owner user id and
// other process-wide state kept in a plain key/value table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		return err
	})
}

func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, value.Valid, nil
}
