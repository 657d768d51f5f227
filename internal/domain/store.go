package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists the paper ledger as a single document.
// Load returns ErrNotFound when nothing has been saved yet.
type LedgerStore interface {
	Load(ctx context.Context) (LedgerState, error)
	Save(ctx context.Context, state LedgerState) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// CopyTradeStore persists one row per handled trade event.
type CopyTradeStore interface {
	Insert(ctx context.Context, ct CopyTrade) error
	ListRecent(ctx context.Context, limit int) ([]CopyTrade, error)
}
