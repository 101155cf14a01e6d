// Package sqlite implements the embedded, single-writer storage dialect
// over database/sql + github.com/mattn/go-sqlite3, with the
// write-ahead-log tuning calls for applied once at connect time.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/domain"
	"telegram-archive/internal/logging"
	"telegram-archive/internal/store"
)

// Store is the embedded SQLite storage adapter.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the database file at path, applies the
// write-ahead-journal/busy-timeout/cache tuning, and ensures the schema
// exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfiguration, "create database directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=60000&_journal_mode=WAL&_synchronous=NORMAL&cache_size=-65536&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "open sqlite database", err)
	}
	// The embedded store has exactly one writer; a single connection avoids
	// "database is locked" churn between goroutines inside this process.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "ping sqlite database", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "apply sqlite schema", err)
	}

	logging.Info().Str("path", path).Msg("sqlite store opened")
	return &Store{db: db}, nil
}

// Dialect identifies this adapter as the embedded dialect.
func (s *Store) Dialect() store.Dialect { return store.DialectSQLite }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
