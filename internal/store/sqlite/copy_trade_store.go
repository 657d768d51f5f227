package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore on SQLite.
type CopyTradeStore struct {
	db *sql.DB
}

// CopyTradeStore returns the copy-trade record store.
func (d *DB) CopyTradeStore() *CopyTradeStore {
	return &CopyTradeStore{db: d.db}
}

// Insert records one decision. A replayed event id keeps the first row.
func (s *CopyTradeStore) Insert(ctx context.Context, ct domain.CopyTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO copy_trades (
			event_id, instrument_id, side, tier,
			trader_price, trader_notional, intended_notional,
			filled_notional, filled_price, filled_shares,
			order_id, status, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ct.EventID, ct.InstrumentID, string(ct.Side), string(ct.Tier),
		ct.TraderPrice, ct.TraderNotional, ct.IntendedNotional,
		ct.FilledNotional, ct.FilledPrice, ct.FilledShares,
		ct.OrderID, string(ct.Status), ct.Reason, ct.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert copy trade %s: %w", ct.EventID, err)
	}
	return nil
}

// ListRecent returns the newest limit rows.
func (s *CopyTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.CopyTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, instrument_id, side, tier,
			trader_price, trader_notional, intended_notional,
			filled_notional, filled_price, filled_shares,
			order_id, status, reason, created_at
		FROM copy_trades
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list copy trades: %w", err)
	}
	defer rows.Close()

	var out []domain.CopyTrade
	for rows.Next() {
		var (
			ct                 domain.CopyTrade
			side, tier, status string
		)
		if err := rows.Scan(
			&ct.EventID, &ct.InstrumentID, &side, &tier,
			&ct.TraderPrice, &ct.TraderNotional, &ct.IntendedNotional,
			&ct.FilledNotional, &ct.FilledPrice, &ct.FilledShares,
			&ct.OrderID, &status, &ct.Reason, &ct.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan copy trade: %w", err)
		}
		ct.Side = domain.OrderSide(side)
		ct.Tier = domain.SizeTier(tier)
		ct.Status = domain.CopyTradeStatus(status)
		out = append(out, ct)
	}
	return out, rows.Err()
}

var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)
