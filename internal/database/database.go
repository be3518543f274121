package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the resources table if needed. Having the migration in
// code keeps the stack self-contained so docker-compose can bootstrap
// everything.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS resources (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	subjects TEXT[] NOT NULL DEFAULT '{}',
	grade_levels TEXT[] NOT NULL DEFAULT '{}',
	type TEXT NOT NULL,
	format TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	storage_key TEXT NOT NULL,
	external_video_id TEXT,
	offload_error TEXT NOT NULL DEFAULT '',
	security_scan_status TEXT NOT NULL,
	scan_summary TEXT NOT NULL DEFAULT '',
	verification_status TEXT NOT NULL DEFAULT 'pending',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resources_owner ON resources(owner_id);
CREATE INDEX IF NOT EXISTS idx_resources_scan ON resources(security_scan_status);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
