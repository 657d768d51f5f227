package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OrderbookCache implements domain.OrderbookCache by storing each snapshot
// as a JSON document at "<ns>:book:<instrumentID>". Entries expire after the
// configured TTL so a stalled stream does not leave old books behind.
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

// SetSnapshot replaces the cached book for snap.InstrumentID.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	if snap.InstrumentID == "" {
		return fmt.Errorf("redis: set book: empty instrument id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode book %s: %w", snap.InstrumentID, err)
	}
	if err := oc.c.rdb.Set(ctx, oc.c.Key("book", snap.InstrumentID), raw, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.InstrumentID, err)
	}
	return nil
}

// GetSnapshot loads the cached book. It returns domain.ErrNotFound when the
// entry is missing or has expired.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, instrumentID string) (domain.OrderbookSnapshot, error) {
	raw, err := oc.c.rdb.Get(ctx, oc.c.Key("book", instrumentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get book %s: %w", instrumentID, err)
	}
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: decode book %s: %w", instrumentID, err)
	}
	return snap, nil
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
