package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// LedgerStore implements domain.LedgerStore as one JSON row per account.
type LedgerStore struct {
	db      *sql.DB
	account string
}

// LedgerStore returns the store for the named paper account.
func (d *DB) LedgerStore(account string) *LedgerStore {
	if account == "" {
		account = "default"
	}
	return &LedgerStore{db: d.db, account: account}
}

// Load returns the saved document or domain.ErrNotFound.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM paper_ledger WHERE account = ?`, s.account,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerState{}, fmt.Errorf("sqlite: ledger %s: %w", s.account, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("sqlite: load ledger %s: %w", s.account, err)
	}

	var state domain.LedgerState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.LedgerState{}, fmt.Errorf("sqlite: decode ledger %s: %w", s.account, err)
	}
	return state, nil
}

// Save upserts the whole document.
func (s *LedgerStore) Save(ctx context.Context, state domain.LedgerState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite: encode ledger: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_ledger (account, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		s.account, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save ledger %s: %w", s.account, err)
	}
	return nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
