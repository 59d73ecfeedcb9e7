// Package database provides the Postgres archive of closed trades.
// The engine only ever writes here fire-and-forget; the archive is for
// analysis and display, never read back into trading state.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection pool and runs migrations
func NewDB(ctx context.Context, url string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{Pool: pool}
	if err := db.migrate(connCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// migrate creates the closed-trade archive table if it does not exist
func (db *DB) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS closed_trades (
		id            BIGSERIAL PRIMARY KEY,
		trade_id      TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		direction     TEXT NOT NULL,
		book          TEXT NOT NULL,
		entry_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
		exit_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
		quantity      DOUBLE PRECISION NOT NULL DEFAULT 0,
		realized_pnl  DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason        TEXT NOT NULL DEFAULT '',
		entered_at    BIGINT NOT NULL DEFAULT 0,
		closed_at     BIGINT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol_closed_at
		ON closed_trades (symbol, closed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_closed_trades_book
		ON closed_trades (book);`

	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate closed_trades: %w", err)
	}
	return nil
}
