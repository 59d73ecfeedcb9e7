package database

import (
	"context"
	"fmt"

	"breakout-trading-bot/internal/engine"
)

// Repository provides closed-trade archive operations
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the given database
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveClosedTrade inserts one closed paper or live trade row
func (r *Repository) SaveClosedTrade(ctx context.Context, trade *engine.ArchivedTrade) error {
	const query = `
	INSERT INTO closed_trades
		(trade_id, symbol, direction, book, entry_price, exit_price, quantity, realized_pnl, reason, entered_at, closed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Pool.Exec(ctx, query,
		trade.TradeID,
		trade.Symbol,
		string(trade.Direction),
		trade.Book,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Quantity,
		trade.RealizedPnl,
		trade.Reason,
		trade.EnteredAt,
		trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert closed trade: %w", err)
	}
	return nil
}

// RecentClosedTrades returns the latest archived trades for a symbol
func (r *Repository) RecentClosedTrades(ctx context.Context, symbol string, limit int) ([]engine.ArchivedTrade, error) {
	const query = `
	SELECT trade_id, symbol, direction, book, entry_price, exit_price, quantity, realized_pnl, reason, entered_at, closed_at
	FROM closed_trades
	WHERE symbol = $1
	ORDER BY closed_at DESC
	LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []engine.ArchivedTrade
	for rows.Next() {
		var t engine.ArchivedTrade
		var direction string
		if err := rows.Scan(&t.TradeID, &t.Symbol, &direction, &t.Book, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.RealizedPnl, &t.Reason, &t.EnteredAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}
		t.Direction = engine.Direction(direction)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
