package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// PaperConfig parameterises the PaperLedger.
type PaperConfig struct {
	StartingBalance  float64
	HistoryLimit     int
	CapPerInstrument bool
	MaxPerInstrument float64
}

// BuyMeta describes the market a simulated buy belongs to.
type BuyMeta struct {
	Market  domain.MarketDescriptor
	Outcome string
}

// PaperLedger is the simulated account used in paper mode. Every mutation is
// persisted through the LedgerStore before it returns; when the save fails
// the in-memory state is rolled back and the error returned.
type PaperLedger struct {
	store  domain.LedgerStore
	cfg    PaperConfig
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	state domain.LedgerState
}

// NewPaperLedger loads the persisted ledger, or starts a fresh one funded
// with the starting balance when nothing has been saved yet.
func NewPaperLedger(ctx context.Context, store domain.LedgerStore, cfg PaperConfig, logger *slog.Logger) (*PaperLedger, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	l := &PaperLedger{
		store:  store,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "paper_ledger")),
	}

	state, err := store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = domain.LedgerState{
			Balance:   cfg.StartingBalance,
			Positions: map[string]*domain.Position{},
			UpdatedAt: l.now(),
		}
		l.logger.InfoContext(ctx, "starting new paper ledger", slog.Float64("balance", state.Balance))
	case err != nil:
		return nil, fmt.Errorf("paper_ledger: load: %w", err)
	default:
		if state.Positions == nil {
			state.Positions = map[string]*domain.Position{}
		}
		l.logger.InfoContext(ctx, "paper ledger loaded",
			slog.Float64("balance", state.Balance),
			slog.Int("positions", len(state.Positions)),
			slog.Float64("realized_pnl", state.RealizedPnL),
		)
	}
	l.state = state
	return l, nil
}

// SetClock overrides the ledger clock, for tests.
func (l *PaperLedger) SetClock(now func() time.Time) { l.now = now }

// Buy spends notional at price on instrumentID.
func (l *PaperLedger) Buy(ctx context.Context, instrumentID string, notional, price float64, meta BuyMeta) (domain.Fill, error) {
	if price <= 0 || price >= 1 || notional <= 0 {
		return domain.Fill{}, fmt.Errorf("paper_ledger: buy %s at %.4f for %.4f: %w", instrumentID, price, notional, domain.ErrInvalidOrder)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.state.Positions[instrumentID]
	if l.cfg.CapPerInstrument && l.cfg.MaxPerInstrument > 0 {
		held := 0.0
		if pos != nil {
			held = pos.EntryValue
		}
		room := l.cfg.MaxPerInstrument - held
		if room < domain.PositionEpsilon {
			return domain.Fill{}, fmt.Errorf("paper_ledger: buy %s: %w", instrumentID, domain.ErrCapExceeded)
		}
		notional = math.Min(notional, room)
	}
	if l.state.Balance < notional {
		return domain.Fill{}, fmt.Errorf("paper_ledger: buy %s needs %.4f, have %.4f: %w",
			instrumentID, notional, l.state.Balance, domain.ErrInsufficientBalance)
	}

	prev := l.state.Clone()
	now := l.now()
	shares := notional / price

	if pos == nil {
		pos = &domain.Position{
			InstrumentID: instrumentID,
			Market:       meta.Market,
			Outcome:      meta.Outcome,
			CreatedAt:    now,
		}
		l.state.Positions[instrumentID] = pos
	}
	pos.Shares += shares
	pos.EntryValue += notional
	pos.AvgPrice = pos.EntryValue / pos.Shares
	pos.LastCheckedAt = now
	l.state.Balance -= notional

	l.record(domain.LedgerEntry{
		Kind:         domain.LedgerBuy,
		InstrumentID: instrumentID,
		Title:        pos.Market.Title,
		Outcome:      pos.Outcome,
		Price:        price,
		Shares:       shares,
		Notional:     notional,
	}, now)

	if err := l.persist(ctx, prev); err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		InstrumentID: instrumentID,
		Shares:       shares,
		Price:        price,
		Cost:         notional,
		Balance:      l.state.Balance,
	}, nil
}

// Sell closes up to shares of instrumentID at price.
func (l *PaperLedger) Sell(ctx context.Context, instrumentID string, shares, price float64) (domain.Fill, error) {
	if shares <= 0 || price < 0 || price > 1 {
		return domain.Fill{}, fmt.Errorf("paper_ledger: sell %s %.4f at %.4f: %w", instrumentID, shares, price, domain.ErrInvalidOrder)
	}
	return l.reduce(ctx, instrumentID, shares, price, domain.LedgerSell, "")
}

// Settle closes the whole position at a resolution price of 0 or 1.
func (l *PaperLedger) Settle(ctx context.Context, instrumentID string, price float64, note string) (domain.Fill, error) {
	return l.reduce(ctx, instrumentID, math.Inf(1), price, domain.LedgerSettle, note)
}

func (l *PaperLedger) reduce(ctx context.Context, instrumentID string, shares, price float64, kind domain.LedgerEntryKind, note string) (domain.Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.state.Positions[instrumentID]
	if !ok || pos.Closed() {
		return domain.Fill{}, fmt.Errorf("paper_ledger: %s %s: %w", kind, instrumentID, domain.ErrNoPosition)
	}

	prev := l.state.Clone()
	now := l.now()

	n := math.Min(shares, pos.Shares)
	proceeds := n * price
	pnl := (price - pos.AvgPrice) * n

	l.state.Balance += proceeds
	l.state.RealizedPnL += pnl
	pos.Shares -= n
	pos.EntryValue = pos.Shares * pos.AvgPrice
	pos.LastCheckedAt = now
	if pos.Closed() {
		delete(l.state.Positions, instrumentID)
	}

	l.record(domain.LedgerEntry{
		Kind:         kind,
		InstrumentID: instrumentID,
		Title:        pos.Market.Title,
		Outcome:      pos.Outcome,
		Price:        price,
		Shares:       n,
		Notional:     proceeds,
		PnL:          pnl,
		Note:         note,
	}, now)

	if err := l.persist(ctx, prev); err != nil {
		return domain.Fill{}, err
	}
	return domain.Fill{
		InstrumentID: instrumentID,
		Shares:       n,
		Price:        price,
		Proceeds:     proceeds,
		PnL:          pnl,
		Balance:      l.state.Balance,
	}, nil
}

// Touch stamps the position's last-checked time without trading.
func (l *PaperLedger) Touch(ctx context.Context, instrumentID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.state.Positions[instrumentID]
	if !ok {
		return nil
	}
	prev := l.state.Clone()
	pos.LastCheckedAt = at
	l.state.UpdatedAt = at
	return l.persist(ctx, prev)
}

// record appends to the bounded history; the caller holds l.mu.
func (l *PaperLedger) record(e domain.LedgerEntry, at time.Time) {
	e.ID = uuid.NewString()
	e.Time = at
	e.BalanceAfter = l.state.Balance
	l.state.History = append(l.state.History, e)
	if over := len(l.state.History) - l.cfg.HistoryLimit; over > 0 {
		l.state.History = append([]domain.LedgerEntry(nil), l.state.History[over:]...)
	}
	l.state.UpdatedAt = at
}

// persist saves the current state or restores prev; the caller holds l.mu.
func (l *PaperLedger) persist(ctx context.Context, prev domain.LedgerState) error {
	if err := l.store.Save(ctx, l.state.Clone()); err != nil {
		l.state = prev
		l.logger.ErrorContext(ctx, "ledger save failed, mutation rolled back", slog.String("error", err.Error()))
		return fmt.Errorf("paper_ledger: save: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the ledger document.
func (l *PaperLedger) Snapshot() domain.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Balance returns the cash balance.
func (l *PaperLedger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balance
}

// OpenPositions returns copies of every open position. It makes the ledger a
// PositionSource for the risk check.
func (l *PaperLedger) OpenPositions(_ context.Context) (map[string]domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.Position, len(l.state.Positions))
	for id, p := range l.state.Positions {
		out[id] = *p
	}
	return out, nil
}

// StalePositions returns positions not checked since before cutoff, oldest first.
func (l *PaperLedger) StalePositions(cutoff time.Time) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Position
	for _, p := range l.state.Positions {
		if p.LastCheckedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastCheckedAt.Before(out[j].LastCheckedAt) })
	return out
}

var _ PositionSource = (*PaperLedger)(nil)
