package service

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// SizingConfig parameterises the Sizer.
type SizingConfig struct {
	BaseNotional      float64
	MinOrderNotional  float64
	MaxOrderNotional  float64 // 0 disables the per-order cap
	PerInstrumentCap  float64 // 0 disables the per-instrument cap
	HighConfMin       float64
	HighConfMax       float64
	HighConfNotional  float64
	OptimalMin        float64
	OptimalMax        float64
	OptimalMultiplier float64
	HalveFirstFill    bool
}

// TraderPositions reports how many shares the tracked trader still holds.
type TraderPositions interface {
	PositionShares(ctx context.Context, user, instrumentID string) (float64, error)
}

// tierUsage is the per-instrument bookkeeping for one-shot tiers.
type tierUsage struct {
	highConf bool
	initial  bool
	fills    int
}

// Sizer converts an observed trade into a sizing decision.
//
// One-shot tiers are only marked used by Commit, after the order behind the
// decision has filled. A decision that is later denied or fails leaves the
// tier available. An instrument that is already held counts as having had
// its initial fill.
type Sizer struct {
	cfg    SizingConfig
	trader string
	remote TraderPositions
	logger *slog.Logger

	mu    sync.Mutex
	usage map[string]*tierUsage
}

// NewSizer creates a Sizer. remote answers the tracked trader's remaining
// shares for SELL mirroring.
func NewSizer(cfg SizingConfig, trader string, remote TraderPositions, logger *slog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		trader: trader,
		remote: remote,
		logger: logger.With(slog.String("component", "sizer")),
		usage:  make(map[string]*tierUsage),
	}
}

// Size returns the order size for ev. currentValue is the cost basis already
// held in the instrument and localShares the share count held.
func (s *Sizer) Size(ctx context.Context, ev domain.TradeEvent, currentValue, localShares float64) domain.SizingDecision {
	if ev.Price <= 0 || ev.Price >= 1 {
		return domain.Skipped(domain.TierNone, domain.ReasonBadPrice)
	}
	if ev.Side == domain.OrderSideSell {
		return s.sizeSell(ctx, ev, localShares)
	}
	return s.sizeBuy(ev, currentValue, localShares)
}

func (s *Sizer) sizeBuy(ev domain.TradeEvent, currentValue, localShares float64) domain.SizingDecision {
	s.mu.Lock()
	u := s.usageLocked(ev.InstrumentID)
	highConfUsed, initialUsed, fills := u.highConf, u.initial, u.fills
	s.mu.Unlock()

	// A position that is already held (restored ledger, venue wallet) has had
	// its initial entry even if this process never committed it.
	if currentValue > 0 || localShares >= domain.PositionEpsilon {
		initialUsed = true
		fills = max(fills, 1)
	}

	var (
		tier     domain.SizeTier
		notional float64
	)
	switch {
	case inBand(ev.Price, s.cfg.HighConfMin, s.cfg.HighConfMax):
		tier = domain.TierHighConfidence
		if highConfUsed {
			return domain.Skipped(tier, domain.ReasonTierUsed)
		}
		notional = s.cfg.HighConfNotional
	case inBand(ev.Price, s.cfg.OptimalMin, s.cfg.OptimalMax):
		tier = domain.TierOptimal
		notional = s.cfg.BaseNotional * s.cfg.OptimalMultiplier
	default:
		tier = domain.TierDefault
		if initialUsed {
			return domain.Skipped(tier, domain.ReasonTierUsed)
		}
		notional = s.cfg.BaseNotional
		if s.cfg.HalveFirstFill && fills == 0 {
			notional /= 2
		}
	}

	limit := math.Inf(1)
	if s.cfg.PerInstrumentCap > 0 {
		limit = s.cfg.PerInstrumentCap - currentValue
	}
	if s.cfg.MaxOrderNotional > 0 {
		limit = math.Min(limit, s.cfg.MaxOrderNotional)
	}

	notional = math.Min(notional, limit)
	if notional < s.cfg.MinOrderNotional {
		if s.cfg.MinOrderNotional > limit {
			return domain.Skipped(tier, domain.ReasonCapExceeded)
		}
		notional = s.cfg.MinOrderNotional
	}
	if notional <= 0 {
		return domain.Skipped(tier, domain.ReasonCapExceeded)
	}

	return domain.SizingDecision{
		Tier:     tier,
		Notional: notional,
		Shares:   notional / ev.Price,
	}
}

// sizeSell mirrors the fraction of the position the trader sold:
// sold / (sold + remaining), applied to our own shares.
func (s *Sizer) sizeSell(ctx context.Context, ev domain.TradeEvent, localShares float64) domain.SizingDecision {
	if localShares < domain.PositionEpsilon {
		return domain.Skipped(domain.TierMirrorSell, domain.ReasonNoPosition)
	}

	remaining := 0.0
	if s.remote != nil {
		r, err := s.remote.PositionShares(ctx, s.trader, ev.InstrumentID)
		if err != nil {
			// Without the remainder the sale is treated as a full exit.
			s.logger.WarnContext(ctx, "trader position lookup failed",
				slog.String("instrument", ev.InstrumentID),
				slog.String("error", err.Error()),
			)
		} else {
			remaining = r
		}
	}

	fraction := 1.0
	if total := ev.Size + remaining; total > 0 {
		fraction = ev.Size / total
	}
	shares := fraction * localShares
	if shares*ev.Price < s.cfg.MinOrderNotional {
		shares = s.cfg.MinOrderNotional / ev.Price
	}
	shares = math.Min(shares, localShares)

	return domain.SizingDecision{
		Tier:     domain.TierMirrorSell,
		Shares:   shares,
		Notional: shares * ev.Price,
	}
}

// Commit records a confirmed BUY fill for the decision's tier.
func (s *Sizer) Commit(instrumentID string, tier domain.SizeTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageLocked(instrumentID)
	switch tier {
	case domain.TierHighConfidence:
		u.highConf = true
	case domain.TierDefault:
		u.initial = true
	case domain.TierOptimal:
	default:
		return
	}
	u.fills++
}

func (s *Sizer) usageLocked(id string) *tierUsage {
	u, ok := s.usage[id]
	if !ok {
		u = &tierUsage{}
		s.usage[id] = u
	}
	return u
}

func inBand(p, lo, hi float64) bool {
	return hi > 0 && p >= lo && p <= hi
}
