package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// LedgerStore implements domain.LedgerStore as one JSONB row per account.
type LedgerStore struct {
	pool    *pgxpool.Pool
	account string
}

// NewLedgerStore creates a LedgerStore for the named paper account.
func NewLedgerStore(pool *pgxpool.Pool, account string) *LedgerStore {
	if account == "" {
		account = "default"
	}
	return &LedgerStore{pool: pool, account: account}
}

// Load returns the saved document or domain.ErrNotFound.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM paper_ledger WHERE account = $1`, s.account,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerState{}, fmt.Errorf("postgres: ledger %s: %w", s.account, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: load ledger %s: %w", s.account, err)
	}

	var state domain.LedgerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: decode ledger %s: %w", s.account, err)
	}
	return state, nil
}

// Save upserts the whole document.
func (s *LedgerStore) Save(ctx context.Context, state domain.LedgerState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: encode ledger: %w", err)
	}
	const query = `
		INSERT INTO paper_ledger (account, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE
		SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, s.account, raw); err != nil {
		return fmt.Errorf("postgres: save ledger %s: %w", s.account, err)
	}
	return nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
