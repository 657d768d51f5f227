package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// PositionSource lists the open positions the risk check counts.
type PositionSource interface {
	OpenPositions(ctx context.Context) (map[string]domain.Position, error)
}

// VenuePositions is the positions query of the trading venue.
type VenuePositions interface {
	Positions(ctx context.Context, user string) (map[string]domain.Position, error)
}

// venueSource adapts the venue's positions query for one wallet.
type venueSource struct {
	venue VenuePositions
	user  string
}

// NewVenuePositionSource reads open positions of user from the venue.
func NewVenuePositionSource(venue VenuePositions, user string) PositionSource {
	return &venueSource{venue: venue, user: user}
}

func (v *venueSource) OpenPositions(ctx context.Context) (map[string]domain.Position, error) {
	return v.venue.Positions(ctx, v.user)
}

// RiskService enforces portfolio-level limits before an order is placed.
type RiskService struct {
	positions PositionSource
	limits    domain.RiskLimits
	logger    *slog.Logger
}

// NewRiskService creates a RiskService reading positions from source.
func NewRiskService(source PositionSource, limits domain.RiskLimits, logger *slog.Logger) *RiskService {
	return &RiskService{
		positions: source,
		limits:    limits,
		logger:    logger.With(slog.String("component", "risk_service")),
	}
}

// Limits returns the configured limits.
func (s *RiskService) Limits() domain.RiskLimits { return s.limits }

// Admit decides whether an order of the given side and notional may proceed.
//
// BUY is denied when the open position count has reached MaxPositions or the
// order would push aggregate exposure past MaxExposure. SELL is always
// allowed and reports the exposure after the sale.
func (s *RiskService) Admit(ctx context.Context, side domain.OrderSide, notional float64, instrumentID string) (domain.Admission, error) {
	open, err := s.positions.OpenPositions(ctx)
	if err != nil {
		return domain.Admission{}, fmt.Errorf("risk_service: open positions: %w", err)
	}

	exposure := 0.0
	for _, p := range open {
		exposure += p.EntryValue
	}
	adm := domain.Admission{
		Allowed:       true,
		OpenPositions: len(open),
		Exposure:      exposure,
	}

	if side == domain.OrderSideSell {
		adm.ProjectedExposure = math.Max(0, exposure-notional)
		return adm, nil
	}

	adm.ProjectedExposure = exposure + notional
	switch {
	case s.limits.MaxPositions > 0 && len(open) >= s.limits.MaxPositions:
		adm.Allowed = false
		adm.Reason = domain.ReasonMaxPositions
	case s.limits.MaxExposure > 0 && adm.ProjectedExposure > s.limits.MaxExposure:
		adm.Allowed = false
		adm.Reason = domain.ReasonMaxExposure
	}

	if !adm.Allowed {
		s.logger.WarnContext(ctx, "order denied",
			slog.String("instrument", instrumentID),
			slog.String("reason", adm.Reason),
			slog.Int("open", adm.OpenPositions),
			slog.Int("max_positions", s.limits.MaxPositions),
			slog.Float64("exposure", exposure),
			slog.Float64("projected", adm.ProjectedExposure),
			slog.Float64("max_exposure", s.limits.MaxExposure),
		)
	}
	return adm, nil
}

// Position returns the held position in instrumentID, if any.
func (s *RiskService) Position(ctx context.Context, instrumentID string) (domain.Position, bool, error) {
	open, err := s.positions.OpenPositions(ctx)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("risk_service: open positions: %w", err)
	}
	p, ok := open[instrumentID]
	if !ok || p.Closed() {
		return domain.Position{}, false, nil
	}
	return p, true, nil
}
