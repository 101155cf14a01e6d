// Package postgres implements the client/server storage dialect over
// database/sql + github.com/lib/pq, with the same connection-pool setup
// and health-check shape used across the archive's other platform clients.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/store"
)

// Store is the client/server PostgreSQL storage adapter.
type Store struct {
	db  *sql.DB
	dsn string
}

// Open connects to dsn, tunes the connection pool, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "open postgres database", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "ping postgres database", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "apply postgres schema", err)
	}

	logging.Info().Msg("postgres store opened")
	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Dialect() store.Dialect { return store.DialectPostgres }

func (s *Store) Close() error { return s.db.Close() }

// NotifyChannel implements store.PubSubCapable via pg_notify, the transport
// the notification fabric prefers when the store is PostgreSQL.
func (s *Store) NotifyChannel(ctx context.Context, channel, payload string) error {
	_, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, payload)
	return err
}

// Listen implements store.PubSubCapable: it opens a dedicated lib/pq
// Listener (LISTEN/NOTIFY requires its own connection, separate from the
// pool) and relays payloads onto the returned channel until stop is called.
func (s *Store) Listen(ctx context.Context, channel string) (<-chan string, func() error, error) {
	listener := pq.NewListener(s.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logging.Warn().Err(err).Msg("postgres listener event")
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, nil, err
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					continue
				}
				select {
				case out <- n.Extra:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()

	return out, listener.Close, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return store.NormalizeTime(t)
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
