package database

import (
	"context"
	"log/slog"

	"spreadwatch/internal/config"
)

// Open selects the storage backend once at startup. A configured durable
// connection string selects Postgres; if connecting to it fails, the
// embedded SQLite store takes over with a logged warning and no error
// reaches the caller. Open only fails when the fallback itself cannot be
// opened or migrated.
func Open(ctx context.Context, logger *slog.Logger, cfg config.DatabaseConfig) (Store, error) {
	if cfg.URL != "" {
		pg, err := openPostgres(ctx, logger, cfg.URL)
		if err == nil {
			logger.Info("storage: connected to PostgreSQL")
			return pg, nil
		}
		logger.Warn("storage: PostgreSQL unavailable, falling back to SQLite", "error", err)
	}

	lite, err := NewSQLiteStore(ctx, logger, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := lite.Migrate(ctx); err != nil {
		lite.Close()
		return nil, err
	}
	logger.Info("storage: using embedded SQLite", "path", cfg.SQLitePath)
	return lite, nil
}

func openPostgres(ctx context.Context, logger *slog.Logger, url string) (*PostgresStore, error) {
	pg, err := NewPostgresStore(ctx, logger, url)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
