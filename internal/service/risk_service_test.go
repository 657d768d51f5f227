package service_test

import (
	"context"
	"testing"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func riskWith(positions map[string]domain.Position) (*service.RiskService, *venueStub) {
	v := &venueStub{positions: positions}
	limits := domain.RiskLimits{MaxPositions: 2, MaxExposure: 100, MaxPerInstrument: 60}
	return service.NewRiskService(service.NewVenuePositionSource(v, "0xme"), limits, quietLogger()), v
}

func TestRiskService_Admit(t *testing.T) {
	ctx := context.Background()
	one := map[string]domain.Position{
		"a": {InstrumentID: "a", Shares: 100, AvgPrice: 0.5, EntryValue: 50},
	}
	two := map[string]domain.Position{
		"a": {InstrumentID: "a", Shares: 100, AvgPrice: 0.5, EntryValue: 50},
		"b": {InstrumentID: "b", Shares: 40, AvgPrice: 0.5, EntryValue: 20},
	}

	tests := []struct {
		name      string
		positions map[string]domain.Position
		side      domain.OrderSide
		notional  float64
		allowed   bool
		reason    string
		projected float64
	}{
		{name: "room left", positions: one, side: domain.OrderSideBuy, notional: 20, allowed: true, projected: 70},
		{name: "exposure at limit", positions: one, side: domain.OrderSideBuy, notional: 50, allowed: true, projected: 100},
		{name: "exposure exceeded", positions: one, side: domain.OrderSideBuy, notional: 50.01, reason: domain.ReasonMaxExposure, projected: 100.01},
		{name: "max positions", positions: two, side: domain.OrderSideBuy, notional: 1, reason: domain.ReasonMaxPositions, projected: 71},
		{name: "sell always allowed", positions: two, side: domain.OrderSideSell, notional: 30, allowed: true, projected: 40},
		{name: "sell projection floored", positions: one, side: domain.OrderSideSell, notional: 80, allowed: true, projected: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := riskWith(tt.positions)
			adm, err := r.Admit(ctx, tt.side, tt.notional, "x")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, adm.Allowed)
			assert.Equal(t, tt.reason, adm.Reason)
			assert.Equal(t, len(tt.positions), adm.OpenPositions)
			assert.InDelta(t, tt.projected, adm.ProjectedExposure, 1e-9)
		})
	}
}

func TestRiskService_SourceError(t *testing.T) {
	r, v := riskWith(nil)
	v.err = errBoom
	_, err := r.Admit(context.Background(), domain.OrderSideBuy, 1, "x")
	assert.ErrorIs(t, err, errBoom)
}

func TestRiskService_Position(t *testing.T) {
	r, _ := riskWith(map[string]domain.Position{
		"a":    {InstrumentID: "a", Shares: 10, AvgPrice: 0.5, EntryValue: 5},
		"dust": {InstrumentID: "dust", Shares: 1e-9},
	})
	ctx := context.Background()

	p, ok, err := r.Position(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 10, p.Shares, 1e-9)

	_, ok, err = r.Position(ctx, "dust")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRiskService_PaperLedgerSource(t *testing.T) {
	ctx := context.Background()
	ledger, err := service.NewPaperLedger(ctx, &memLedgerStore{}, service.PaperConfig{StartingBalance: 1000}, quietLogger())
	require.NoError(t, err)
	_, err = ledger.Buy(ctx, "a", 90, 0.5, service.BuyMeta{})
	require.NoError(t, err)

	r := service.NewRiskService(ledger, domain.RiskLimits{MaxPositions: 5, MaxExposure: 100}, quietLogger())
	adm, err := r.Admit(ctx, domain.OrderSideBuy, 20, "b")
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, domain.ReasonMaxExposure, adm.Reason)
	assert.InDelta(t, 90, adm.Exposure, 1e-9)
}
