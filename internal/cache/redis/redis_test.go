package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/cache/redis"
	"github.com/alanyoungcy/copybot/internal/domain"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.New(context.Background(), redis.ClientConfig{Addr: mr.Addr(), Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestKeyNamespace(t *testing.T) {
	c, _ := newClient(t)
	assert.Equal(t, "test:price:tok", c.Key("price", "tok"))
}

func TestPriceCache(t *testing.T) {
	c, mr := newClient(t)
	pc := redis.NewPriceCache(c, time.Minute)
	ctx := context.Background()

	_, _, err := pc.GetPrice(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Unix(1700000000, 42)
	require.NoError(t, pc.SetPrice(ctx, "tok", 0.42, ts))

	price, got, err := pc.GetPrice(ctx, "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, price, 1e-12)
	assert.True(t, got.Equal(ts))
	assert.Equal(t, time.Minute, mr.TTL("test:price:tok"))
}

func TestOrderbookCacheExpires(t *testing.T) {
	c, mr := newClient(t)
	oc := redis.NewOrderbookCache(c, 30*time.Second)
	ctx := context.Background()

	snap := domain.OrderbookSnapshot{
		InstrumentID: "tok",
		Bids:         []domain.PriceLevel{{Price: 0.39, Size: 100}},
		Asks:         []domain.PriceLevel{{Price: 0.40, Size: 25}, {Price: 0.41, Size: 50}},
		Timestamp:    time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, oc.SetSnapshot(ctx, snap))

	got, err := oc.GetSnapshot(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, snap.Asks, got.Asks)
	assert.True(t, snap.Timestamp.Equal(got.Timestamp))

	mr.FastForward(31 * time.Second)
	_, err = oc.GetSnapshot(ctx, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderbookCacheRejectsEmptyID(t *testing.T) {
	c, _ := newClient(t)
	err := redis.NewOrderbookCache(c, time.Second).SetSnapshot(context.Background(), domain.OrderbookSnapshot{})
	assert.Error(t, err)
}

func TestLockExclusive(t *testing.T) {
	c, _ := newClient(t)
	lm := redis.NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "trader:0xabc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "trader:0xabc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "trader:0xabc", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockReleaseKeepsForeignHolder(t *testing.T) {
	c, mr := newClient(t)
	lm := redis.NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Another process took over after expiry.
	mr.Set("test:lock:k", "someone-else")
	unlock()

	v, err := mr.Get("test:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newClient(t)
	bus := redis.NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "events", []byte(`{"kind":"fill"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "events", []byte(`{"kind":"settle"}`)))

	msgs, err = bus.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"kind":"fill"}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, "events", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"kind":"settle"}`, string(rest[0].Payload))
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newClient(t)
	bus := redis.NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "events")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "events", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
