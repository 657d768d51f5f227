// Package feed maintains live orderbook state for the engine: a streamed
// snapshot per instrument with a freshness window, and a REST fallback.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

// tickBuffer is the capacity of the tick channel. Ticks are best-effort; a
// slow consumer loses the oldest undelivered ones.
const tickBuffer = 256

// StreamConn is the websocket surface the stream depends on.
type StreamConn interface {
	Subscribe(assetIDs ...string) error
	Unsubscribe(assetIDs ...string) error
	OnBook(polymarket.BookHandler)
	OnLevelChange(polymarket.LevelChangeHandler)
	OnTrade(polymarket.TradeHandler)
	Run(ctx context.Context) error
}

// Option configures an OrderbookStream.
type Option func(*OrderbookStream)

// WithMirror copies every snapshot and mid price into shared caches so other
// processes (dashboards, a second engine) can read them.
func WithMirror(books domain.OrderbookCache, prices domain.PriceCache) Option {
	return func(s *OrderbookStream) {
		s.bookCache = books
		s.priceCache = prices
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *OrderbookStream) { s.now = now }
}

// OrderbookStream owns the streamed book of every subscribed instrument.
// Consumers only ever receive copies.
type OrderbookStream struct {
	conn      StreamConn
	freshness time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	books map[string]*domain.OrderbookSnapshot

	ticks chan domain.PriceTick

	bookCache  domain.OrderbookCache
	priceCache domain.PriceCache
}

// NewOrderbookStream wires the stream to conn's handlers.
func NewOrderbookStream(conn StreamConn, freshness time.Duration, logger *slog.Logger, opts ...Option) *OrderbookStream {
	s := &OrderbookStream{
		conn:      conn,
		freshness: freshness,
		logger:    logger.With(slog.String("component", "orderbook_stream")),
		now:       time.Now,
		books:     make(map[string]*domain.OrderbookSnapshot),
		ticks:     make(chan domain.PriceTick, tickBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	conn.OnBook(s.applyBook)
	conn.OnLevelChange(s.applyChange)
	conn.OnTrade(s.emit)
	return s
}

// Run drives the underlying connection until ctx is cancelled.
func (s *OrderbookStream) Run(ctx context.Context) error {
	return s.conn.Run(ctx)
}

// Ticks delivers a price tick after every book change and trade print.
func (s *OrderbookStream) Ticks() <-chan domain.PriceTick { return s.ticks }

// Subscribe starts streaming the given instruments.
func (s *OrderbookStream) Subscribe(ids ...string) error {
	return s.conn.Subscribe(ids...)
}

// Unsubscribe stops streaming and forgets the cached books.
func (s *OrderbookStream) Unsubscribe(ids ...string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.books, id)
	}
	s.mu.Unlock()
	return s.conn.Unsubscribe(ids...)
}

// Snapshot returns a copy of the instrument's book if it is younger than
// the freshness window.
func (s *OrderbookStream) Snapshot(id string) (domain.OrderbookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok || b.Age(s.now()) > s.freshness {
		return domain.OrderbookSnapshot{}, false
	}
	return b.Copy(), true
}

func (s *OrderbookStream) applyBook(snap domain.OrderbookSnapshot) {
	// The stream's timestamp is when the book last changed upstream; what
	// matters for staleness is when we last heard about it.
	snap.Timestamp = s.now()
	cp := snap.Copy()

	s.mu.Lock()
	s.books[snap.InstrumentID] = &cp
	s.mu.Unlock()

	s.publish(snap)
}

func (s *OrderbookStream) applyChange(ch polymarket.LevelChange) {
	s.mu.Lock()
	b, ok := s.books[ch.InstrumentID]
	if !ok {
		s.mu.Unlock()
		return // wait for the first full snapshot
	}
	b.ApplyChange(ch.Side, ch.Price, ch.Size)
	b.Timestamp = s.now()
	snap := b.Copy()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *OrderbookStream) publish(snap domain.OrderbookSnapshot) {
	mid := snap.MidPrice()
	if mid > 0 {
		s.emit(domain.PriceTick{InstrumentID: snap.InstrumentID, Price: mid, Timestamp: snap.Timestamp})
	}
	s.mirror(snap, mid)
}

func (s *OrderbookStream) emit(t domain.PriceTick) {
	for {
		select {
		case s.ticks <- t:
			return
		default:
		}
		// drop the oldest tick and retry
		select {
		case <-s.ticks:
		default:
		}
	}
}

func (s *OrderbookStream) mirror(snap domain.OrderbookSnapshot, mid float64) {
	if s.bookCache == nil && s.priceCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if s.bookCache != nil {
		if err := s.bookCache.SetSnapshot(ctx, snap); err != nil {
			s.logger.Debug("mirror book failed", slog.String("instrument", snap.InstrumentID), slog.String("error", err.Error()))
		}
	}
	if s.priceCache != nil && mid > 0 {
		if err := s.priceCache.SetPrice(ctx, snap.InstrumentID, mid, snap.Timestamp); err != nil {
			s.logger.Debug("mirror price failed", slog.String("instrument", snap.InstrumentID), slog.String("error", err.Error()))
		}
	}
}
