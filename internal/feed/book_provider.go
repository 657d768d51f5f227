package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// RESTBooks is the direct-query fallback for books and prices.
type RESTBooks interface {
	GetOrderbook(ctx context.Context, instrumentID string) (domain.OrderbookSnapshot, error)
	GetMidpoint(ctx context.Context, instrumentID string) (float64, error)
}

// Snapshotter returns a fresh streamed book, if there is one.
type Snapshotter interface {
	Snapshot(instrumentID string) (domain.OrderbookSnapshot, bool)
}

// BookProvider answers "what does the book look like right now": the
// streamed snapshot when it is fresh, then the shared redis mirror written by
// any copybot process streaming that instrument, then a REST query.
type BookProvider struct {
	stream Snapshotter
	rest   RESTBooks

	sharedBooks  domain.OrderbookCache
	sharedPrices domain.PriceCache
	freshness    time.Duration
	now          func() time.Time
}

// ProviderOption configures a BookProvider.
type ProviderOption func(*BookProvider)

// WithSharedBooks reads the redis mirror before falling back to REST. Entries
// older than freshness are ignored. Either cache may be nil.
func WithSharedBooks(books domain.OrderbookCache, prices domain.PriceCache, freshness time.Duration) ProviderOption {
	return func(p *BookProvider) {
		p.sharedBooks = books
		p.sharedPrices = prices
		p.freshness = freshness
	}
}

// WithProviderClock overrides the clock used to age mirrored entries.
func WithProviderClock(now func() time.Time) ProviderOption {
	return func(p *BookProvider) { p.now = now }
}

// NewBookProvider creates a provider. stream may be nil (REST only).
func NewBookProvider(stream Snapshotter, rest RESTBooks, opts ...ProviderOption) *BookProvider {
	p := &BookProvider{stream: stream, rest: rest, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FreshBook returns the freshest available book for the instrument.
func (p *BookProvider) FreshBook(ctx context.Context, instrumentID string) (domain.OrderbookSnapshot, error) {
	if p.stream != nil {
		if snap, ok := p.stream.Snapshot(instrumentID); ok {
			return snap, nil
		}
	}
	if snap, ok := p.sharedBook(ctx, instrumentID); ok {
		return snap, nil
	}
	snap, err := p.rest.GetOrderbook(ctx, instrumentID)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("feed: book %s: %w", instrumentID, err)
	}
	return snap, nil
}

// Price returns the current mid price for the instrument, stream first.
func (p *BookProvider) Price(ctx context.Context, instrumentID string) (float64, error) {
	if p.stream != nil {
		if snap, ok := p.stream.Snapshot(instrumentID); ok {
			if mid := snap.MidPrice(); mid > 0 {
				return mid, nil
			}
		}
	}
	if mid, ok := p.sharedPrice(ctx, instrumentID); ok {
		return mid, nil
	}
	mid, err := p.rest.GetMidpoint(ctx, instrumentID)
	if err != nil {
		return 0, fmt.Errorf("feed: price %s: %w", instrumentID, err)
	}
	if mid <= 0 {
		return 0, fmt.Errorf("feed: price %s: %w", instrumentID, domain.ErrNoPrice)
	}
	return mid, nil
}

// sharedBook returns the mirrored book when it is fresh. Cache errors fall
// through to REST.
func (p *BookProvider) sharedBook(ctx context.Context, instrumentID string) (domain.OrderbookSnapshot, bool) {
	if p.sharedBooks == nil {
		return domain.OrderbookSnapshot{}, false
	}
	snap, err := p.sharedBooks.GetSnapshot(ctx, instrumentID)
	if err != nil || snap.Age(p.now()) > p.freshness {
		return domain.OrderbookSnapshot{}, false
	}
	return snap, true
}

func (p *BookProvider) sharedPrice(ctx context.Context, instrumentID string) (float64, bool) {
	if p.sharedPrices == nil {
		return 0, false
	}
	mid, ts, err := p.sharedPrices.GetPrice(ctx, instrumentID)
	if err != nil || mid <= 0 || p.now().Sub(ts) > p.freshness {
		return 0, false
	}
	return mid, true
}
