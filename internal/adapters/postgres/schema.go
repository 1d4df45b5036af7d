package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/adapters/retry"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS prompt_versions (
	prompt_id      TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL DEFAULT 1,
	versions       JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the prompt_versions table when it is missing.
func EnsureSchema(ctx context.Context, db DB) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create prompt_versions table: %w", err)
	}
	return nil
}

// Connect opens a pool and verifies the server answers. A malformed url is
// marked permanent so retry.WithBackoff gives up on the first attempt.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("invalid postgres url: %w", err))
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := withTimeout(ctx)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("connected to postgres")
	return pool, nil
}
