// Package storeopen selects and connects the configured storage dialect.
// It is kept separate from internal/store to avoid a cycle between that
// package and its two dialect implementations.
package storeopen

import (
	"context"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/config"
	"telegram-archive/internal/store"
	"telegram-archive/internal/store/postgres"
	"telegram-archive/internal/store/sqlite"
)

// Open selects and connects the storage adapter named by cfg.Store.DBType.
func Open(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.DBType {
	case "sqlite":
		path := cfg.Store.SQLitePath(cfg.Media.MediaRoot())
		return sqlite.Open(ctx, path)
	case "postgres":
		return postgres.Open(ctx, cfg.Store.PostgresDSN())
	default:
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "unsupported DB_TYPE: "+cfg.Store.DBType, nil)
	}
}
