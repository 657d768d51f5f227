package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// StopLossConfig parameterises the StopLossMonitor.
type StopLossConfig struct {
	StopPct float64
	MinHold time.Duration
	Markets []string // case-insensitive slug/title substrings; empty matches all
}

// StreamSubscriber (un)subscribes instruments on the price stream.
type StreamSubscriber interface {
	Subscribe(ids ...string) error
	Unsubscribe(ids ...string) error
}

// OrderExecutor places an order and returns the confirmed response.
type OrderExecutor interface {
	Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error)
}

// StopLossOutcome describes what a tick did to an armed record.
type StopLossOutcome struct {
	Record   domain.StopLossRecord
	Price    float64 // tick price that triggered
	Fired    bool    // a sell filled
	Removed  bool    // the record is gone
	Response domain.OrderResponse
	Err      error
}

// StopLossMonitor protects live positions: each armed instrument is watched
// on the stream and market-sold once its price falls to the trigger.
type StopLossMonitor struct {
	cfg    StopLossConfig
	stream StreamSubscriber
	exec   OrderExecutor
	venue  VenuePositions
	wallet string
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*domain.StopLossRecord
}

// NewStopLossMonitor creates a StopLossMonitor for the given wallet.
func NewStopLossMonitor(
	cfg StopLossConfig,
	stream StreamSubscriber,
	exec OrderExecutor,
	venue VenuePositions,
	wallet string,
	logger *slog.Logger,
) *StopLossMonitor {
	return &StopLossMonitor{
		cfg:     cfg,
		stream:  stream,
		exec:    exec,
		venue:   venue,
		wallet:  wallet,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "stoploss_monitor")),
		records: make(map[string]*domain.StopLossRecord),
	}
}

// SetClock overrides the monitor clock, for tests.
func (m *StopLossMonitor) SetClock(now func() time.Time) { m.now = now }

// Arm starts protecting pos. Arming an instrument that is already armed
// refreshes its entry price and share count. Positions outside the markets
// filter are ignored and false is returned.
func (m *StopLossMonitor) Arm(pos domain.Position) bool {
	if pos.Closed() || pos.AvgPrice <= 0 || !m.matches(pos.Market) {
		return false
	}

	m.mu.Lock()
	rec, exists := m.records[pos.InstrumentID]
	if !exists {
		entry := pos.CreatedAt
		if entry.IsZero() {
			entry = m.now()
		}
		rec = &domain.StopLossRecord{
			InstrumentID: pos.InstrumentID,
			Market:       pos.Market,
			EntryTime:    entry,
		}
		m.records[pos.InstrumentID] = rec
	}
	rec.EntryPrice = pos.AvgPrice
	rec.Shares = pos.Shares
	rec.TriggerPrice = domain.TriggerPrice(pos.AvgPrice, m.cfg.StopPct)
	rec.State = domain.StopLossArmed
	snapshot := *rec
	m.mu.Unlock()

	if !exists {
		if err := m.stream.Subscribe(pos.InstrumentID); err != nil {
			// the stream re-subscribes everything on reconnect
			m.logger.Warn("stream subscribe failed",
				slog.String("instrument", pos.InstrumentID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.Info("stop-loss armed",
		slog.String("instrument", snapshot.InstrumentID),
		slog.String("title", snapshot.Market.Title),
		slog.Float64("entry", snapshot.EntryPrice),
		slog.Float64("trigger", snapshot.TriggerPrice),
		slog.Float64("shares", snapshot.Shares),
	)
	return true
}

// OnTick evaluates one streamed price. It returns false when the tick did
// not concern an armed record past its holding window and below trigger.
func (m *StopLossMonitor) OnTick(ctx context.Context, tick domain.PriceTick) (StopLossOutcome, bool) {
	m.mu.Lock()
	rec, ok := m.records[tick.InstrumentID]
	if !ok || rec.State != domain.StopLossArmed {
		m.mu.Unlock()
		return StopLossOutcome{}, false
	}
	if m.now().Sub(rec.EntryTime) < m.cfg.MinHold || tick.Price > rec.TriggerPrice {
		m.mu.Unlock()
		return StopLossOutcome{}, false
	}
	rec.State = domain.StopLossTriggered
	snapshot := *rec
	m.mu.Unlock()

	out := StopLossOutcome{Record: snapshot, Price: tick.Price}
	log := m.logger.With(
		slog.String("instrument", snapshot.InstrumentID),
		slog.Float64("price", tick.Price),
		slog.Float64("trigger", snapshot.TriggerPrice),
	)
	log.WarnContext(ctx, "stop-loss triggered")

	// The stored share count may be stale; sell what the venue says we hold.
	positions, err := m.venue.Positions(ctx, m.wallet)
	if err != nil {
		out.Err = fmt.Errorf("stoploss: positions: %w", err)
		log.WarnContext(ctx, "position lookup failed, re-arming", slog.String("error", err.Error()))
		m.rearm(snapshot.InstrumentID)
		return out, true
	}
	pos, held := positions[snapshot.InstrumentID]
	if !held || pos.Closed() {
		log.InfoContext(ctx, "position already closed, removing stop-loss")
		out.Removed = true
		m.remove(snapshot.InstrumentID)
		return out, true
	}

	resp, err := m.exec.Execute(ctx, domain.OrderRequest{
		InstrumentID: snapshot.InstrumentID,
		Side:         domain.OrderSideSell,
		Amount:       pos.Shares,
		Type:         domain.OrderTypeFOK,
		NegRisk:      snapshot.Market.NegRisk,
	})
	if err == nil {
		out.Fired = true
		out.Removed = true
		out.Response = resp
		m.remove(snapshot.InstrumentID)
		log.InfoContext(ctx, "stop-loss sold position",
			slog.String("order_id", resp.OrderID),
			slog.Float64("shares", resp.Shares),
			slog.Float64("fill_price", resp.Price),
		)
		return out, true
	}

	out.Err = err
	if domain.FaultKindOf(err) == domain.FaultInsufficientBalance || errors.Is(err, domain.ErrNoPosition) {
		log.InfoContext(ctx, "nothing left to sell, removing stop-loss", slog.String("error", err.Error()))
		out.Removed = true
		m.remove(snapshot.InstrumentID)
		return out, true
	}
	log.ErrorContext(ctx, "stop-loss sell failed, re-arming", slog.String("error", err.Error()))
	m.rearm(snapshot.InstrumentID)
	return out, true
}

// Reconcile drops records whose position has vanished from the venue or
// whose market no longer passes the markets filter. It returns the removed
// instrument ids.
func (m *StopLossMonitor) Reconcile(ctx context.Context) ([]string, error) {
	positions, err := m.venue.Positions(ctx, m.wallet)
	if err != nil {
		return nil, fmt.Errorf("stoploss: reconcile: %w", err)
	}

	m.mu.Lock()
	var stale []string
	for id, rec := range m.records {
		if rec.State == domain.StopLossTriggered {
			continue // a sell is in flight
		}
		pos, ok := positions[id]
		if !ok || pos.Closed() || !m.matches(rec.Market) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.remove(id)
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		m.logger.InfoContext(ctx, "stop-loss reconciled", slog.Any("removed", stale))
	}
	return stale, nil
}

// Records returns copies of every tracked record, sorted by instrument.
func (m *StopLossMonitor) Records() []domain.StopLossRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StopLossRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}

// Stop unsubscribes every armed instrument.
func (m *StopLossMonitor) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	if len(ids) > 0 {
		_ = m.stream.Unsubscribe(ids...)
	}
}

func (m *StopLossMonitor) rearm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Reconcile may have dropped it while the sell was in flight.
	if rec, ok := m.records[id]; ok {
		rec.State = domain.StopLossArmed
	}
}

func (m *StopLossMonitor) remove(id string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if ok {
		rec.State = domain.StopLossRemoved
		delete(m.records, id)
	}
	m.mu.Unlock()
	if ok {
		if err := m.stream.Unsubscribe(id); err != nil {
			m.logger.Warn("stream unsubscribe failed", slog.String("instrument", id), slog.String("error", err.Error()))
		}
	}
}

func (m *StopLossMonitor) matches(md domain.MarketDescriptor) bool {
	if len(m.cfg.Markets) == 0 {
		return true
	}
	slug := strings.ToLower(md.Slug)
	title := strings.ToLower(md.Title)
	for _, f := range m.cfg.Markets {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if strings.Contains(slug, f) || strings.Contains(title, f) {
			return true
		}
	}
	return false
}
