package domain

import "time"

// LedgerEntryKind classifies a paper ledger history entry.
type LedgerEntryKind string

const (
	LedgerBuy    LedgerEntryKind = "buy"
	LedgerSell   LedgerEntryKind = "sell"
	LedgerSettle LedgerEntryKind = "settle"
)

// LedgerEntry is one row of the paper ledger's trade history.
type LedgerEntry struct {
	ID           string          `json:"id"`
	Kind         LedgerEntryKind `json:"kind"`
	InstrumentID string          `json:"instrument_id"`
	Title        string          `json:"title,omitempty"`
	Outcome      string          `json:"outcome,omitempty"`
	Price        float64         `json:"price"`
	Shares       float64         `json:"shares"`
	Notional     float64         `json:"notional"`
	PnL          float64         `json:"pnl"`
	BalanceAfter float64         `json:"balance_after"`
	Note         string          `json:"note,omitempty"`
	Time         time.Time       `json:"time"`
}

// LedgerState is the full persisted paper ledger document.
type LedgerState struct {
	Balance     float64              `json:"balance"`
	Positions   map[string]*Position `json:"positions"`
	History     []LedgerEntry        `json:"history"`
	RealizedPnL float64              `json:"realized_pnl"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Clone deep-copies the document.
func (s LedgerState) Clone() LedgerState {
	out := s
	out.Positions = make(map[string]*Position, len(s.Positions))
	for k, p := range s.Positions {
		cp := *p
		out.Positions[k] = &cp
	}
	out.History = append([]LedgerEntry(nil), s.History...)
	return out
}

// Exposure sums the entry value of every open position.
func (s LedgerState) Exposure() float64 {
	total := 0.0
	for _, p := range s.Positions {
		total += p.EntryValue
	}
	return total
}

// Fill is the result of a paper ledger mutation.
type Fill struct {
	InstrumentID string
	Shares       float64
	Price        float64
	Cost         float64 // buy: cash debited
	Proceeds     float64 // sell/settle: cash credited
	PnL          float64
	Balance      float64
}
