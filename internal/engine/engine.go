// Package engine is the copy-trading session: it polls the tracked trader's
// activity and drives every event through sizing, risk admission and either
// the live executor or the paper ledger, while feeding stream ticks to the
// stop-loss monitor and periodically settling paper positions.
//
// All mutation happens on the goroutine running Run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/service"
)

// MinPollInterval is the floor applied to Config.PollInterval.
const MinPollInterval = 10 * time.Second

// Mode selects where sized orders go.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// TradeSource supplies the tracked trader's fills, oldest first.
type TradeSource interface {
	RecentTrades(ctx context.Context, user string, since time.Time, limit int) ([]domain.TradeEvent, error)
}

// Sizer turns a trade event into a sizing decision.
type Sizer interface {
	Size(ctx context.Context, ev domain.TradeEvent, currentValue, localShares float64) domain.SizingDecision
	Commit(instrumentID string, tier domain.SizeTier)
}

// RiskChecker admits orders against the portfolio limits.
type RiskChecker interface {
	Admit(ctx context.Context, side domain.OrderSide, notional float64, instrumentID string) (domain.Admission, error)
	Position(ctx context.Context, instrumentID string) (domain.Position, bool, error)
}

// PaperTrader is the simulated account used in paper mode.
type PaperTrader interface {
	Buy(ctx context.Context, instrumentID string, notional, price float64, meta service.BuyMeta) (domain.Fill, error)
	Sell(ctx context.Context, instrumentID string, shares, price float64) (domain.Fill, error)
	OpenPositions(ctx context.Context) (map[string]domain.Position, error)
}

// Settler closes resolved paper positions.
type Settler interface {
	CheckOnce(ctx context.Context) []service.Settlement
}

// StopLoss protects live positions.
type StopLoss interface {
	Arm(pos domain.Position) bool
	OnTick(ctx context.Context, tick domain.PriceTick) (service.StopLossOutcome, bool)
	Reconcile(ctx context.Context) ([]string, error)
	Stop()
}

// PriceSource quotes the current price of an instrument.
type PriceSource interface {
	Price(ctx context.Context, instrumentID string) (float64, error)
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Config holds the session timing parameters.
type Config struct {
	Mode               Mode
	Trader             string
	PollInterval       time.Duration
	Lookback           time.Duration
	BatchLimit         int
	DedupTTL           time.Duration
	SettlementInterval time.Duration
	ReconcileInterval  time.Duration
}

// Deps are the collaborators of a session. Trades, Sizer and Risk are always
// required; Executor is required in live mode and Paper in paper mode. The
// rest are optional.
type Deps struct {
	Trades     TradeSource
	Sizer      Sizer
	Risk       RiskChecker
	Executor   service.OrderExecutor
	Paper      PaperTrader
	Settlement Settler
	StopLoss   StopLoss
	Stream     service.StreamSubscriber
	Ticks      <-chan domain.PriceTick
	Prices     PriceSource
	CopyTrades domain.CopyTradeStore
	Audit      domain.AuditStore
	Notifier   Notifier
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Engine is one copy-trading session.
type Engine struct {
	cfg    Config
	deps   Deps
	dedup  *Dedup
	now    func() time.Time
	logger *slog.Logger

	cursor  time.Time           // newest trade timestamp handled
	watched map[string]struct{} // paper instruments subscribed on the stream
}

// New validates deps and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Trades == nil || deps.Sizer == nil || deps.Risk == nil {
		return nil, errors.New("engine: trades, sizer and risk are required")
	}
	switch cfg.Mode {
	case ModeLive:
		if deps.Executor == nil {
			return nil, errors.New("engine: live mode requires an executor")
		}
	case ModePaper:
		if deps.Paper == nil {
			return nil, errors.New("engine: paper mode requires a paper ledger")
		}
	default:
		return nil, fmt.Errorf("engine: unknown mode %q", cfg.Mode)
	}
	if cfg.Trader == "" {
		return nil, errors.New("engine: trader address is required")
	}

	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.SettlementInterval <= 0 {
		cfg.SettlementInterval = time.Minute
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}

	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:     cfg,
		deps:    deps,
		dedup:   NewDedup(cfg.DedupTTL, now),
		now:     now,
		logger:  logger.With(slog.String("component", "engine"), slog.String("mode", string(cfg.Mode))),
		cursor:  now().Add(-cfg.Lookback),
		watched: make(map[string]struct{}),
	}, nil
}

// Warm marks recently recorded events as seen so a restart does not copy
// them again, and subscribes held paper positions on the stream.
func (e *Engine) Warm(ctx context.Context) error {
	if e.deps.CopyTrades != nil {
		recent, err := e.deps.CopyTrades.ListRecent(ctx, e.cfg.BatchLimit*10)
		if err != nil {
			return fmt.Errorf("engine: warm dedup: %w", err)
		}
		for _, ct := range recent {
			e.dedup.Seen(ct.EventID)
		}
		e.logger.InfoContext(ctx, "dedup warmed", slog.Int("events", len(recent)))
	}
	if e.cfg.Mode == ModePaper && e.deps.Stream != nil {
		open, err := e.deps.Paper.OpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("engine: warm positions: %w", err)
		}
		for id := range open {
			e.watch(id)
		}
	}
	return nil
}

// Run polls immediately and then services the poll ticker, stream ticks, the
// settlement and reconcile tickers until ctx is cancelled. It returns
// ctx.Err() after tearing the session down.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine started",
		slog.String("trader", e.cfg.Trader),
		slog.Duration("poll_interval", e.cfg.PollInterval),
	)
	defer e.Stop()

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	var settleC, reconcileC <-chan time.Time
	if e.cfg.Mode == ModePaper && e.deps.Settlement != nil {
		t := time.NewTicker(e.cfg.SettlementInterval)
		defer t.Stop()
		settleC = t.C
	}
	if e.cfg.Mode == ModeLive && e.deps.StopLoss != nil {
		t := time.NewTicker(e.cfg.ReconcileInterval)
		defer t.Stop()
		reconcileC = t.C
	}

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "engine stopping")
			return ctx.Err()
		case <-poll.C:
			e.poll(ctx)
		case tick, ok := <-e.deps.Ticks:
			if !ok {
				e.deps.Ticks = nil
				continue
			}
			e.OnTick(ctx, tick)
		case <-settleC:
			e.Settle(ctx)
		case <-reconcileC:
			e.reconcile(ctx)
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	if _, err := e.PollOnce(ctx); err != nil && ctx.Err() == nil {
		e.logger.WarnContext(ctx, "poll failed", slog.String("error", err.Error()))
	}
	if n := e.dedup.Cleanup(); n > 0 {
		e.logger.DebugContext(ctx, "dedup cleanup", slog.Int("expired", n))
	}
}

// PollOnce fetches new trades and handles each unseen event in ascending
// timestamp order. It returns the number of events handled.
func (e *Engine) PollOnce(ctx context.Context) (int, error) {
	events, err := e.deps.Trades.RecentTrades(ctx, e.cfg.Trader, e.cursor, e.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("engine: poll: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	handled := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if e.dedup.Seen(ev.ID) {
			continue
		}
		e.HandleTrade(ctx, ev)
		handled++
		if ev.Timestamp.After(e.cursor) {
			e.cursor = ev.Timestamp
		}
	}
	return handled, nil
}

// OnTick routes one stream tick to the stop-loss monitor.
func (e *Engine) OnTick(ctx context.Context, tick domain.PriceTick) {
	if e.deps.StopLoss == nil {
		return
	}
	out, ok := e.deps.StopLoss.OnTick(ctx, tick)
	if !ok {
		return
	}
	e.reportStopLoss(ctx, out)
}

// Settle runs one settlement pass and reports every closed position.
func (e *Engine) Settle(ctx context.Context) {
	if e.deps.Settlement == nil {
		return
	}
	for _, s := range e.deps.Settlement.CheckOnce(ctx) {
		e.unwatch(s.Position.InstrumentID)
		e.reportSettlement(ctx, s)
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	removed, err := e.deps.StopLoss.Reconcile(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "stop-loss reconcile failed", slog.String("error", err.Error()))
		return
	}
	if len(removed) > 0 {
		e.logger.InfoContext(ctx, "stop-loss records dropped", slog.Int("count", len(removed)))
	}
}

// Stop tears down stream subscriptions owned by the session. It is called by
// Run on exit and is safe to call again.
func (e *Engine) Stop() {
	if e.deps.StopLoss != nil {
		e.deps.StopLoss.Stop()
	}
	if e.deps.Stream != nil && len(e.watched) > 0 {
		ids := make([]string, 0, len(e.watched))
		for id := range e.watched {
			ids = append(ids, id)
		}
		_ = e.deps.Stream.Unsubscribe(ids...)
		e.watched = make(map[string]struct{})
	}
}

// watch subscribes a paper instrument so settlement can read streamed prices.
func (e *Engine) watch(id string) {
	if e.deps.Stream == nil {
		return
	}
	if _, ok := e.watched[id]; ok {
		return
	}
	if err := e.deps.Stream.Subscribe(id); err != nil {
		e.logger.Warn("stream subscribe failed", slog.String("instrument", id), slog.String("error", err.Error()))
		return
	}
	e.watched[id] = struct{}{}
}

func (e *Engine) unwatch(id string) {
	if _, ok := e.watched[id]; !ok {
		return
	}
	delete(e.watched, id)
	_ = e.deps.Stream.Unsubscribe(id)
}
