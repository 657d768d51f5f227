package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLedgerStore_EmptyIsNotFound(t *testing.T) {
	db := openMemory(t)
	_, err := db.LedgerStore("paper").Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t).LedgerStore("paper")
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	first := domain.LedgerState{
		Balance: 990,
		Positions: map[string]*domain.Position{
			"tok": {InstrumentID: "tok", Outcome: "Yes", Shares: 20, AvgPrice: 0.5, EntryValue: 10, CreatedAt: at},
		},
		History: []domain.LedgerEntry{{ID: "1", Kind: domain.LedgerBuy, InstrumentID: "tok", Notional: 10, Time: at}},
	}
	require.NoError(t, store.Save(ctx, first))

	second := first.Clone()
	second.Balance = 1002
	second.RealizedPnL = 2
	delete(second.Positions, "tok")
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1002, got.Balance, 1e-9)
	assert.InDelta(t, 2, got.RealizedPnL, 1e-9)
	assert.Empty(t, got.Positions)
	require.Len(t, got.History, 1)
	assert.True(t, at.Equal(got.History[0].Time))
}

func TestLedgerStore_AccountsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	require.NoError(t, db.LedgerStore("a").Save(ctx, domain.LedgerState{Balance: 1}))

	_, err := db.LedgerStore("b").Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCopyTradeStore_InsertAndList(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t).CopyTradeStore()
	base := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, store.Insert(ctx, domain.CopyTrade{
			EventID:      id,
			InstrumentID: "tok",
			Side:         domain.OrderSideBuy,
			Tier:         domain.TierDefault,
			TraderPrice:  0.4,
			Status:       domain.CopyTradeExecuted,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// replay keeps the first row
	require.NoError(t, store.Insert(ctx, domain.CopyTrade{
		EventID: "e1", InstrumentID: "tok", Side: domain.OrderSideBuy,
		Status: domain.CopyTradeSkipped, CreatedAt: base.Add(time.Hour),
	}))

	got, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e3", got[0].EventID)
	assert.Equal(t, "e2", got[1].EventID)
	assert.Equal(t, domain.TierDefault, got[0].Tier)

	all, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.CopyTradeExecuted, all[2].Status)
}
