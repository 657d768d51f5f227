// Package sqlite stores the paper ledger and copy-trade records in a local
// SQLite file (pure Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS paper_ledger (
    account    TEXT PRIMARY KEY,
    document   TEXT     NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS copy_trades (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id          TEXT    NOT NULL UNIQUE,
    instrument_id     TEXT    NOT NULL,
    side              TEXT    NOT NULL,
    tier              TEXT    NOT NULL DEFAULT '',
    trader_price      REAL    NOT NULL,
    trader_notional   REAL    NOT NULL,
    intended_notional REAL    NOT NULL DEFAULT 0,
    filled_notional   REAL    NOT NULL DEFAULT 0,
    filled_price      REAL    NOT NULL DEFAULT 0,
    filled_shares     REAL    NOT NULL DEFAULT 0,
    order_id          TEXT    NOT NULL DEFAULT '',
    status            TEXT    NOT NULL,
    reason            TEXT    NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_copy_trades_created ON copy_trades(created_at DESC);
`

// DB is an open SQLite database with the schema applied.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
