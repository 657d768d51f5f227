package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore using PostgreSQL.
type CopyTradeStore struct {
	pool *pgxpool.Pool
}

// NewCopyTradeStore creates a CopyTradeStore backed by pool.
func NewCopyTradeStore(pool *pgxpool.Pool) *CopyTradeStore {
	return &CopyTradeStore{pool: pool}
}

// Insert records one decision. A replayed event id keeps the first row.
func (s *CopyTradeStore) Insert(ctx context.Context, ct domain.CopyTrade) error {
	const query = `
		INSERT INTO copy_trades (
			event_id, instrument_id, side, tier,
			trader_price, trader_notional, intended_notional,
			filled_notional, filled_price, filled_shares,
			order_id, status, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		ct.EventID, ct.InstrumentID, string(ct.Side), string(ct.Tier),
		ct.TraderPrice, ct.TraderNotional, ct.IntendedNotional,
		ct.FilledNotional, ct.FilledPrice, ct.FilledShares,
		ct.OrderID, string(ct.Status), ct.Reason, ct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert copy trade %s: %w", ct.EventID, err)
	}
	return nil
}

// ListRecent returns the newest limit rows.
func (s *CopyTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.CopyTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT event_id, instrument_id, side, tier,
			trader_price, trader_notional, intended_notional,
			filled_notional, filled_price, filled_shares,
			order_id, status, reason, created_at
		FROM copy_trades
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades: %w", err)
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
			return nil, fmt.Errorf("postgres: scan copy trade: %w", err)
		}
		ct.Side = domain.OrderSide(side)
		ct.Tier = domain.SizeTier(tier)
		ct.Status = domain.CopyTradeStatus(status)
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list copy trades: %w", err)
	}
	return out, nil
}

var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)
