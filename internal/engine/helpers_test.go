package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

// tradeFeed returns the queued batches one per call, then nothing.
type tradeFeed struct {
	mu      sync.Mutex
	batches [][]domain.TradeEvent
	err     error
	since   []time.Time
}

func (f *tradeFeed) RecentTrades(_ context.Context, _ string, since time.Time, _ int) ([]domain.TradeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return append([]domain.TradeEvent(nil), b...), nil
}

// countingSizer wraps a real Sizer and counts decisions.
type countingSizer struct {
	inner   *service.Sizer
	sized   []string
	commits []domain.SizeTier
}

func (c *countingSizer) Size(ctx context.Context, ev domain.TradeEvent, value, shares float64) domain.SizingDecision {
	c.sized = append(c.sized, ev.ID)
	return c.inner.Size(ctx, ev, value, shares)
}

func (c *countingSizer) Commit(id string, tier domain.SizeTier) {
	c.commits = append(c.commits, tier)
	c.inner.Commit(id, tier)
}

type memLedgerStore struct {
	state *domain.LedgerState
}

func (m *memLedgerStore) Load(context.Context) (domain.LedgerState, error) {
	if m.state == nil {
		return domain.LedgerState{}, domain.ErrNotFound
	}
	return m.state.Clone(), nil
}

func (m *memLedgerStore) Save(_ context.Context, s domain.LedgerState) error {
	cp := s.Clone()
	m.state = &cp
	return nil
}

type memCopyTrades struct {
	rows []domain.CopyTrade
}

func (m *memCopyTrades) Insert(_ context.Context, ct domain.CopyTrade) error {
	m.rows = append(m.rows, ct)
	return nil
}

func (m *memCopyTrades) ListRecent(_ context.Context, limit int) ([]domain.CopyTrade, error) {
	if limit > len(m.rows) {
		limit = len(m.rows)
	}
	return m.rows[len(m.rows)-limit:], nil
}

type memAudit struct {
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type notifyRecorder struct {
	events []notify.Event
}

func (n *notifyRecorder) Notify(_ context.Context, ev notify.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func (n *notifyRecorder) kinds() []notify.Kind {
	out := make([]notify.Kind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

type traderStub struct{ remaining float64 }

func (t traderStub) PositionShares(context.Context, string, string) (float64, error) {
	return t.remaining, nil
}

// fakeExecutor returns the queued results in order.
type fakeExecutor struct {
	reqs []domain.OrderRequest
	resp domain.OrderResponse
	err  error
}

func (f *fakeExecutor) Execute(_ context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

// fixedRisk answers positions from a map and admits per allow.
type fixedRisk struct {
	positions map[string]domain.Position
	deny      string
}

func (r *fixedRisk) Admit(_ context.Context, _ domain.OrderSide, notional float64, _ string) (domain.Admission, error) {
	if r.deny != "" {
		return domain.Admission{Allowed: false, Reason: r.deny}, nil
	}
	return domain.Admission{Allowed: true, ProjectedExposure: notional}, nil
}

func (r *fixedRisk) Position(_ context.Context, id string) (domain.Position, bool, error) {
	p, ok := r.positions[id]
	return p, ok, nil
}

type stopLossStub struct {
	armed   []domain.Position
	outcome service.StopLossOutcome
	fire    bool
	ticks   atomic.Int32
	stopped atomic.Int32
}

func (s *stopLossStub) Arm(pos domain.Position) bool {
	s.armed = append(s.armed, pos)
	return true
}

func (s *stopLossStub) OnTick(context.Context, domain.PriceTick) (service.StopLossOutcome, bool) {
	s.ticks.Add(1)
	return s.outcome, s.fire
}

func (s *stopLossStub) Reconcile(context.Context) ([]string, error) { return nil, nil }

func (s *stopLossStub) Stop() { s.stopped.Add(1) }

type subscriber struct {
	subs   map[string]bool
	unsubs []string
}

func newSubscriber() *subscriber { return &subscriber{subs: map[string]bool{}} }

func (s *subscriber) Subscribe(ids ...string) error {
	for _, id := range ids {
		s.subs[id] = true
	}
	return nil
}

func (s *subscriber) Unsubscribe(ids ...string) error {
	for _, id := range ids {
		delete(s.subs, id)
		s.unsubs = append(s.unsubs, id)
	}
	return nil
}

type settlerStub struct {
	results []service.Settlement
}

func (s *settlerStub) CheckOnce(context.Context) []service.Settlement { return s.results }

var errVenue = errors.New("venue down")

func buyEvent(id string, price float64, at time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		ID:            id,
		Side:          domain.OrderSideBuy,
		InstrumentID:  "tok-yes",
		Market:        domain.MarketDescriptor{ConditionID: "0xcond", Title: "Will it rain?", Slug: "rain"},
		Outcome:       "Yes",
		Price:         price,
		Size:          100,
		Notional:      100 * price,
		Timestamp:     at,
		OrderTypeHint: domain.OrderTypeFOK,
	}
}

func sizingConfig() service.SizingConfig {
	return service.SizingConfig{
		BaseNotional:      10,
		MinOrderNotional:  1,
		MaxOrderNotional:  50,
		PerInstrumentCap:  100,
		HighConfMin:       0.90,
		HighConfMax:       0.97,
		HighConfNotional:  5,
		OptimalMin:        0.55,
		OptimalMax:        0.80,
		OptimalMultiplier: 1.5,
		HalveFirstFill:    true,
	}
}
