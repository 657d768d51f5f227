package polymarket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

func TestWSClient_SubscribesAndDispatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub map[string]any
		assert.NoError(t, json.Unmarshal(msg, &sub))
		subscribed <- sub

		conn.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"book","asset_id":"tok","bids":[{"price":"0.5","size":"10"}],"asks":[{"price":"0.52","size":"5"}],"timestamp":"1700000000000"}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"price_change","market":"m","price_changes":[{"asset_id":"tok","price":"0.51","size":"7","side":"BUY"}],"timestamp":"1700000000500"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"last_trade_price","asset_id":"tok","price":"0.52","size":"1","timestamp":"1700000001000"}`))

		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := polymarket.NewWSClient(wsURL, polymarket.WSOptions{PingInterval: time.Second}, quietLogger())
	require.NoError(t, client.Subscribe("tok"))

	var (
		mu      sync.Mutex
		books   []domain.OrderbookSnapshot
		changes []polymarket.LevelChange
		ticks   []domain.PriceTick
	)
	client.OnBook(func(s domain.OrderbookSnapshot) { mu.Lock(); books = append(books, s); mu.Unlock() })
	client.OnLevelChange(func(c polymarket.LevelChange) { mu.Lock(); changes = append(changes, c); mu.Unlock() })
	client.OnTrade(func(p domain.PriceTick) { mu.Lock(); ticks = append(ticks, p); mu.Unlock() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "market", sub["type"])
		assert.Equal(t, []any{"tok"}, sub["assets_ids"])
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(books) == 1 && len(changes) == 1 && len(ticks) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "tok", books[0].InstrumentID)
	assert.Equal(t, time.UnixMilli(1700000000000), books[0].Timestamp)
	assert.Equal(t, domain.OrderSideBuy, changes[0].Side)
	assert.InDelta(t, 0.51, changes[0].Price, 1e-9)
	assert.InDelta(t, 0.52, ticks[0].Price, 1e-9)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestWSClient_KeepsRetryingPastMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := polymarket.NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), polymarket.WSOptions{
		ReconnectDelay:    time.Millisecond,
		MaxReconnectDelay: 2 * time.Millisecond,
		MaxAttempts:       2,
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return dials.Load() > 5 }, 5*time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned during an outage: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestWSClient_SubscriptionSet(t *testing.T) {
	client := polymarket.NewWSClient("ws://unused", polymarket.WSOptions{}, quietLogger())
	require.NoError(t, client.Subscribe("b", "a", "a"))
	assert.Equal(t, []string{"a", "b"}, client.Subscribed())
	require.NoError(t, client.Unsubscribe("a", "zzz"))
	assert.Equal(t, []string{"b"}, client.Subscribed())
}
