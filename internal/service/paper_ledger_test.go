package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T, store *memLedgerStore, cfg service.PaperConfig) *service.PaperLedger {
	t.Helper()
	if cfg.StartingBalance == 0 {
		cfg.StartingBalance = 1000
	}
	l, err := service.NewPaperLedger(context.Background(), store, cfg, quietLogger())
	require.NoError(t, err)
	return l
}

func TestPaperLedger_BuySellIdentities(t *testing.T) {
	ctx := context.Background()
	store := &memLedgerStore{}
	l := newLedger(t, store, service.PaperConfig{})
	meta := service.BuyMeta{Market: domain.MarketDescriptor{Title: "Will it rain?"}, Outcome: "Yes"}

	before := l.Balance()
	fill, err := l.Buy(ctx, "tok", 40, 0.4, meta)
	require.NoError(t, err)
	assert.InDelta(t, before, l.Balance()+fill.Cost, 1e-9)
	assert.InDelta(t, 100, fill.Shares, 1e-9)

	// second buy re-prices with a weighted average: (40+30)/(100+50)
	_, err = l.Buy(ctx, "tok", 30, 0.6, meta)
	require.NoError(t, err)
	pos := l.Snapshot().Positions["tok"]
	require.NotNil(t, pos)
	assert.InDelta(t, 150, pos.Shares, 1e-9)
	assert.InDelta(t, 70.0/150.0, pos.AvgPrice, 1e-9)
	assert.InDelta(t, pos.Shares*pos.AvgPrice, pos.EntryValue, 1e-9)

	before = l.Balance()
	sell, err := l.Sell(ctx, "tok", 50, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, before+sell.Proceeds, l.Balance(), 1e-9)
	assert.InDelta(t, 40, sell.Proceeds, 1e-9)
	assert.InDelta(t, (0.8-70.0/150.0)*50, sell.PnL, 1e-9)

	// oversell is clamped to the holding and removes the position
	sell, err = l.Sell(ctx, "tok", 1000, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 100, sell.Shares, 1e-9)
	_, open := l.Snapshot().Positions["tok"]
	assert.False(t, open)

	_, err = l.Sell(ctx, "tok", 1, 0.5)
	assert.ErrorIs(t, err, domain.ErrNoPosition)

	snap := l.Snapshot()
	assert.Len(t, snap.History, 4)
	assert.Equal(t, domain.LedgerBuy, snap.History[0].Kind)
	assert.Equal(t, "Will it rain?", snap.History[0].Title)
	assert.Equal(t, 4, store.saves)
}

func TestPaperLedger_SharesNeverNegative(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, &memLedgerStore{}, service.PaperConfig{})
	ops := []struct {
		buy    bool
		amount float64
	}{{true, 10}, {false, 7}, {true, 3}, {false, 30}, {true, 5}, {false, 12.5}, {false, 1}}
	for i, op := range ops {
		if op.buy {
			_, err := l.Buy(ctx, "tok", op.amount, 0.5, service.BuyMeta{})
			require.NoError(t, err, "op %d", i)
		} else {
			_, _ = l.Sell(ctx, "tok", op.amount, 0.5)
		}
		pos, ok := l.Snapshot().Positions["tok"]
		if ok {
			assert.GreaterOrEqual(t, pos.Shares, domain.PositionEpsilon, "op %d", i)
		}
	}
}

func TestPaperLedger_BuyErrors(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, &memLedgerStore{}, service.PaperConfig{StartingBalance: 20, CapPerInstrument: true, MaxPerInstrument: 15})

	_, err := l.Buy(ctx, "tok", 5, 1.2, service.BuyMeta{})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	// capped to the 15 of room
	fill, err := l.Buy(ctx, "tok", 25, 0.5, service.BuyMeta{})
	require.NoError(t, err)
	assert.InDelta(t, 15, fill.Cost, 1e-9)

	_, err = l.Buy(ctx, "tok", 1, 0.5, service.BuyMeta{})
	assert.ErrorIs(t, err, domain.ErrCapExceeded)

	_, err = l.Buy(ctx, "other", 10, 0.5, service.BuyMeta{})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.InDelta(t, 5, l.Balance(), 1e-9)
}

func TestPaperLedger_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := &memLedgerStore{}
	l := newLedger(t, store, service.PaperConfig{})

	store.failErr = errBoom
	_, err := l.Buy(ctx, "tok", 10, 0.5, service.BuyMeta{})
	require.ErrorIs(t, err, errBoom)
	assert.InDelta(t, 1000, l.Balance(), 1e-9)
	assert.Empty(t, l.Snapshot().Positions)
	assert.Empty(t, l.Snapshot().History)
}

func TestPaperLedger_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, &memLedgerStore{}, service.PaperConfig{HistoryLimit: 3})
	for i := 0; i < 5; i++ {
		_, err := l.Buy(ctx, fmt.Sprintf("tok-%d", i), 1, 0.5, service.BuyMeta{})
		require.NoError(t, err)
	}
	h := l.Snapshot().History
	require.Len(t, h, 3)
	assert.Equal(t, "tok-2", h[0].InstrumentID)
	assert.Equal(t, "tok-4", h[2].InstrumentID)
}

func TestPaperLedger_ReloadsPersistedState(t *testing.T) {
	ctx := context.Background()
	store := &memLedgerStore{}
	l := newLedger(t, store, service.PaperConfig{})
	_, err := l.Buy(ctx, "tok", 10, 0.5, service.BuyMeta{Outcome: "Yes"})
	require.NoError(t, err)

	reloaded := newLedger(t, store, service.PaperConfig{StartingBalance: 5})
	assert.InDelta(t, 990, reloaded.Balance(), 1e-9)
	pos, ok := reloaded.Snapshot().Positions["tok"]
	require.True(t, ok)
	assert.Equal(t, "Yes", pos.Outcome)
}

func TestPaperLedger_StalePositions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, &memLedgerStore{}, service.PaperConfig{})
	l.SetClock(func() time.Time { return now })

	_, err := l.Buy(ctx, "a", 1, 0.5, service.BuyMeta{})
	require.NoError(t, err)
	_, err = l.Buy(ctx, "b", 1, 0.5, service.BuyMeta{})
	require.NoError(t, err)
	require.NoError(t, l.Touch(ctx, "b", now.Add(10*time.Minute)))

	stale := l.StalePositions(now.Add(5 * time.Minute))
	require.Len(t, stale, 1)
	assert.Equal(t, "a", stale[0].InstrumentID)
}
