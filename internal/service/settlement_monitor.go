package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

// SettlementConfig parameterises the SettlementMonitor.
type SettlementConfig struct {
	Cooldown      time.Duration
	WinThreshold  float64
	LossThreshold float64
	InvertEnabled bool
	SumTolerance  float64
	MinDifference float64
}

// PriceSource returns the current price of an instrument.
type PriceSource interface {
	Price(ctx context.Context, instrumentID string) (float64, error)
}

// ResolutionSource reports a market's closed flag and the held token's
// outcome price.
type ResolutionSource interface {
	Resolution(ctx context.Context, conditionID, tokenID string) (polymarket.MarketResolution, error)
}

// Settlement describes one paper position closed by the monitor.
type Settlement struct {
	Position domain.Position
	Observed float64 // price as fetched
	Price    float64 // settlement price applied
	Source   string  // "price" or "gamma"
	Inverted bool
	Fill     domain.Fill
}

// SettlementMonitor closes paper positions whose market has effectively
// resolved. It never trades live.
type SettlementMonitor struct {
	ledger *PaperLedger
	prices PriceSource
	gamma  ResolutionSource
	cfg    SettlementConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewSettlementMonitor creates a SettlementMonitor. gamma may be nil.
func NewSettlementMonitor(ledger *PaperLedger, prices PriceSource, gamma ResolutionSource, cfg SettlementConfig, logger *slog.Logger) *SettlementMonitor {
	if cfg.WinThreshold <= 0 {
		cfg.WinThreshold = 0.99
	}
	if cfg.LossThreshold <= 0 {
		cfg.LossThreshold = 0.01
	}
	return &SettlementMonitor{
		ledger: ledger,
		prices: prices,
		gamma:  gamma,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "settlement_monitor")),
	}
}

// SetClock overrides the monitor clock, for tests.
func (m *SettlementMonitor) SetClock(now func() time.Time) { m.now = now }

// CheckOnce examines every position not checked within the cooldown and
// settles those at a terminal price. Per-position failures are logged and
// skipped; they are retried on a later cycle.
func (m *SettlementMonitor) CheckOnce(ctx context.Context) []Settlement {
	now := m.now()
	var out []Settlement

	for _, pos := range m.ledger.StalePositions(now.Add(-m.cfg.Cooldown)) {
		if ctx.Err() != nil {
			return out
		}
		s, ok, err := m.check(ctx, pos)
		if err != nil {
			m.logger.WarnContext(ctx, "settlement check failed",
				slog.String("instrument", pos.InstrumentID),
				slog.String("error", err.Error()),
			)
		}
		if ok {
			out = append(out, s)
			continue
		}
		if err := m.ledger.Touch(ctx, pos.InstrumentID, now); err != nil {
			m.logger.WarnContext(ctx, "settlement touch failed",
				slog.String("instrument", pos.InstrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return out
}

func (m *SettlementMonitor) check(ctx context.Context, pos domain.Position) (Settlement, bool, error) {
	s := Settlement{Position: pos, Source: "price"}

	observed, err := m.prices.Price(ctx, pos.InstrumentID)
	if err != nil {
		if m.gamma == nil {
			return s, false, err
		}
		res, gerr := m.gamma.Resolution(ctx, pos.Market.ConditionID, pos.InstrumentID)
		if gerr != nil {
			return s, false, fmt.Errorf("price: %v; gamma: %w", err, gerr)
		}
		if !res.Known {
			return s, false, fmt.Errorf("gamma: token %s not listed by market %s: %w",
				pos.InstrumentID, pos.Market.ConditionID, domain.ErrNoPrice)
		}
		s.Source = "gamma"
		s.Observed = res.Price
		if res.Closed {
			return m.settle(ctx, s, res.Price, "market resolved")
		}
		observed = res.Price
	} else {
		s.Observed = observed
		// Only the price feed can hand us the sibling token's quote; gamma
		// prices are matched by token id.
		if m.cfg.InvertEnabled && looksInverted(pos.AvgPrice, observed, m.cfg.SumTolerance, m.cfg.MinDifference) {
			inverted, err := m.confirmInversion(ctx, pos, observed)
			if err != nil {
				return s, false, fmt.Errorf("confirm inverted price: %w", err)
			}
			if inverted {
				observed = 1 - observed
				s.Inverted = true
			}
		}
	}

	switch {
	case observed >= m.cfg.WinThreshold:
		return m.settle(ctx, s, 1, "won")
	case observed <= m.cfg.LossThreshold:
		return m.settle(ctx, s, 0, "lost")
	}
	return s, false, nil
}

func (m *SettlementMonitor) settle(ctx context.Context, s Settlement, price float64, note string) (Settlement, bool, error) {
	fill, err := m.ledger.Settle(ctx, s.Position.InstrumentID, price, note)
	if err != nil {
		return s, false, err
	}
	s.Price = price
	s.Fill = fill
	m.logger.InfoContext(ctx, "paper position settled",
		slog.String("instrument", s.Position.InstrumentID),
		slog.String("title", s.Position.Market.Title),
		slog.String("source", s.Source),
		slog.Float64("observed", s.Observed),
		slog.Float64("price", price),
		slog.Float64("shares", fill.Shares),
		slog.Float64("pnl", fill.PnL),
	)
	return s, true, nil
}

// confirmInversion asks gamma for the held token's own outcome price and
// reports whether it sides with the complement of observed. Without gamma the
// feed price is trusted as is.
func (m *SettlementMonitor) confirmInversion(ctx context.Context, pos domain.Position, observed float64) (bool, error) {
	log := m.logger.With(
		slog.String("instrument", pos.InstrumentID),
		slog.Float64("entry", pos.AvgPrice),
		slog.Float64("observed", observed),
	)
	if m.gamma == nil {
		log.WarnContext(ctx, "price looks inverted but cannot be verified, using it as is")
		return false, nil
	}
	res, err := m.gamma.Resolution(ctx, pos.Market.ConditionID, pos.InstrumentID)
	if err != nil {
		return false, err
	}
	if !res.Known {
		return false, fmt.Errorf("token %s not listed by market %s: %w", pos.InstrumentID, pos.Market.ConditionID, domain.ErrNoPrice)
	}
	if math.Abs(res.Price-(1-observed)) < math.Abs(res.Price-observed) {
		log.WarnContext(ctx, "price inverted, using complement",
			slog.Float64("gamma", res.Price),
			slog.Float64("corrected", 1-observed),
		)
		return true, nil
	}
	log.InfoContext(ctx, "price move confirmed by gamma", slog.Float64("gamma", res.Price))
	return false, nil
}

// looksInverted reports whether observed is more plausibly the price of the
// opposite outcome: the two prices straddle 0.5, sum to about 1 and are far
// apart.
func looksInverted(entry, observed, sumTolerance, minDifference float64) bool {
	if (entry-0.5)*(observed-0.5) >= 0 {
		return false
	}
	return math.Abs(entry+observed-1) <= sumTolerance && math.Abs(entry-observed) >= minDifference
}
