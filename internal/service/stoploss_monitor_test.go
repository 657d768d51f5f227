package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscriberStub struct {
	mu   sync.Mutex
	subs map[string]bool
}

func (s *subscriberStub) Subscribe(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[string]bool{}
	}
	for _, id := range ids {
		s.subs[id] = true
	}
	return nil
}

func (s *subscriberStub) Unsubscribe(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.subs, id)
	}
	return nil
}

func (s *subscriberStub) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

type execStub struct {
	mu   sync.Mutex
	errs []error
	reqs []domain.OrderRequest
}

func (e *execStub) Execute(_ context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		if err != nil {
			return domain.OrderResponse{}, err
		}
	}
	return domain.OrderResponse{Success: true, OrderID: "0x1", Shares: req.Amount, Price: 0.53}, nil
}

type stopLossFixture struct {
	mon   *service.StopLossMonitor
	venue *venueStub
	exec  *execStub
	subs  *subscriberStub
	now   time.Time
}

func newStopLoss(t *testing.T, markets ...string) *stopLossFixture {
	t.Helper()
	f := &stopLossFixture{
		venue: &venueStub{},
		exec:  &execStub{},
		subs:  &subscriberStub{},
		now:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := service.StopLossConfig{StopPct: 0.10, MinHold: 5 * time.Minute, Markets: markets}
	f.mon = service.NewStopLossMonitor(cfg, f.subs, f.exec, f.venue, "0xme", quietLogger())
	f.mon.SetClock(func() time.Time { return f.now })
	return f
}

func (f *stopLossFixture) hold(id string, shares float64) domain.Position {
	pos := domain.Position{
		InstrumentID: id,
		Market:       domain.MarketDescriptor{Title: "Election winner", Slug: "election-winner"},
		Shares:       shares,
		AvgPrice:     0.60,
		EntryValue:   shares * 0.60,
		CreatedAt:    f.now,
	}
	f.venue.set(id, pos)
	return pos
}

func tick(id string, price float64) domain.PriceTick {
	return domain.PriceTick{InstrumentID: id, Price: price}
}

func TestStopLoss_TriggerFiresOnceAndRemoves(t *testing.T) {
	ctx := context.Background()
	f := newStopLoss(t)
	require.True(t, f.mon.Arm(f.hold("tok", 50)))
	assert.True(t, f.subs.has("tok"))

	recs := f.mon.Records()
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.54, recs[0].TriggerPrice, 1e-9)
	assert.Equal(t, domain.StopLossArmed, recs[0].State)

	// below trigger but inside the holding window
	_, acted := f.mon.OnTick(ctx, tick("tok", 0.53))
	assert.False(t, acted)

	f.now = f.now.Add(6 * time.Minute)
	_, acted = f.mon.OnTick(ctx, tick("tok", 0.55))
	assert.False(t, acted, "above trigger")

	// the venue reports more shares than we armed with
	f.hold("tok", 55)
	out, acted := f.mon.OnTick(ctx, tick("tok", 0.53))
	require.True(t, acted)
	assert.True(t, out.Fired)
	assert.True(t, out.Removed)
	require.Len(t, f.exec.reqs, 1)
	assert.Equal(t, domain.OrderSideSell, f.exec.reqs[0].Side)
	assert.InDelta(t, 55, f.exec.reqs[0].Amount, 1e-9)

	_, acted = f.mon.OnTick(ctx, tick("tok", 0.50))
	assert.False(t, acted)
	assert.Len(t, f.exec.reqs, 1, "fires exactly once")
	assert.Empty(t, f.mon.Records())
	assert.False(t, f.subs.has("tok"))
}

func TestStopLoss_FaultHandling(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		removed bool
	}{
		{name: "insufficient balance removes", err: domain.NewFault(domain.FaultInsufficientBalance, "not enough balance"), removed: true},
		{name: "no position removes", err: domain.ErrNoPosition, removed: true},
		{name: "liquidity re-arms", err: domain.NewFault(domain.FaultInsufficientLiquidity, "empty book")},
		{name: "edge block re-arms", err: domain.NewFault(domain.FaultEdgeBlocked, "403")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newStopLoss(t)
			f.mon.Arm(f.hold("tok", 50))
			f.now = f.now.Add(time.Hour)
			f.exec.errs = []error{tt.err}

			out, acted := f.mon.OnTick(ctx, tick("tok", 0.40))
			require.True(t, acted)
			assert.False(t, out.Fired)
			assert.Equal(t, tt.removed, out.Removed)
			assert.ErrorIs(t, out.Err, tt.err)

			if tt.removed {
				assert.Empty(t, f.mon.Records())
				return
			}
			recs := f.mon.Records()
			require.Len(t, recs, 1)
			assert.Equal(t, domain.StopLossArmed, recs[0].State)

			// the next tick tries again
			out, acted = f.mon.OnTick(ctx, tick("tok", 0.40))
			require.True(t, acted)
			assert.True(t, out.Fired)
		})
	}
}

func TestStopLoss_VanishedPositionRemovedWithoutSelling(t *testing.T) {
	ctx := context.Background()
	f := newStopLoss(t)
	f.mon.Arm(f.hold("tok", 50))
	f.now = f.now.Add(time.Hour)
	f.venue.set("tok", domain.Position{InstrumentID: "tok"})

	out, acted := f.mon.OnTick(ctx, tick("tok", 0.10))
	require.True(t, acted)
	assert.True(t, out.Removed)
	assert.Empty(t, f.exec.reqs)
}

func TestStopLoss_MarketsFilterAndReconcile(t *testing.T) {
	ctx := context.Background()
	f := newStopLoss(t, "election")

	pos := f.hold("tok", 50)
	other := pos
	other.InstrumentID = "sports"
	other.Market = domain.MarketDescriptor{Title: "Cup final", Slug: "cup-final"}
	f.venue.set("sports", other)

	assert.True(t, f.mon.Arm(pos))
	assert.False(t, f.mon.Arm(other), "outside the markets filter")

	f.hold("gone", 10)
	require.True(t, f.mon.Arm(f.hold("gone", 10)))
	f.venue.set("gone", domain.Position{InstrumentID: "gone"})

	removed, err := f.mon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, removed)
	require.Len(t, f.mon.Records(), 1)
	assert.False(t, f.subs.has("gone"))
}

func TestStopLoss_RearmRefreshesEntry(t *testing.T) {
	f := newStopLoss(t)
	pos := f.hold("tok", 50)
	f.mon.Arm(pos)

	pos.Shares = 100
	pos.AvgPrice = 0.50
	f.mon.Arm(pos)

	recs := f.mon.Records()
	require.Len(t, recs, 1)
	assert.InDelta(t, 100, recs[0].Shares, 1e-9)
	assert.InDelta(t, 0.45, recs[0].TriggerPrice, 1e-9)
}

func TestStopLoss_StopUnsubscribes(t *testing.T) {
	f := newStopLoss(t)
	f.mon.Arm(f.hold("a", 10))
	f.mon.Arm(f.hold("b", 10))
	f.mon.Stop()
	assert.False(t, f.subs.has("a"))
	assert.False(t, f.subs.has("b"))
}
