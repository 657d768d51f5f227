package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second
)

// BookHandler is called for every full orderbook snapshot.
type BookHandler func(domain.OrderbookSnapshot)

// LevelChangeHandler is called for every incremental level update.
type LevelChangeHandler func(LevelChange)

// TradeHandler is called for every last-trade print.
type TradeHandler func(domain.PriceTick)

// WSOptions tunes reconnection and keep-alive.
type WSOptions struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxAttempts       int // consecutive failures before retrying at MaxReconnectDelay; 0 = never
	PingInterval      time.Duration
}

func (o *WSOptions) defaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 10 * time.Second
	}
}

// WSClient is a client for the CLOB market channel. Run owns the connection
// lifecycle; Subscribe and Unsubscribe may be called at any time and are
// replayed on every reconnect.
type WSClient struct {
	wsURL  string
	opts   WSOptions
	logger *slog.Logger

	connMu sync.Mutex // guards conn and serialises writes
	conn   *websocket.Conn

	subMu  sync.Mutex
	assets map[string]struct{}

	handlerMu      sync.RWMutex
	bookHandlers   []BookHandler
	changeHandlers []LevelChangeHandler
	tradeHandlers  []TradeHandler
}

// NewWSClient creates a market channel client. wsURL is the full endpoint,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, opts WSOptions, logger *slog.Logger) *WSClient {
	opts.defaults()
	return &WSClient{
		wsURL:  wsURL,
		opts:   opts,
		logger: logger.With(slog.String("component", "polymarket_ws")),
		assets: make(map[string]struct{}),
	}
}

// OnBook registers a snapshot handler.
func (w *WSClient) OnBook(h BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, h)
}

// OnLevelChange registers a level update handler.
func (w *WSClient) OnLevelChange(h LevelChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.changeHandlers = append(w.changeHandlers, h)
}

// OnTrade registers a last-trade handler.
func (w *WSClient) OnTrade(h TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, h)
}

// Subscribe adds assets to the subscription set.
func (w *WSClient) Subscribe(assetIDs ...string) error {
	added := w.updateAssets(assetIDs, true)
	if len(added) == 0 {
		return nil
	}
	return w.sendIfConnected(marketOperation{AssetsIDs: added, Operation: "subscribe"})
}

// Unsubscribe removes assets from the subscription set.
func (w *WSClient) Unsubscribe(assetIDs ...string) error {
	removed := w.updateAssets(assetIDs, false)
	if len(removed) == 0 {
		return nil
	}
	return w.sendIfConnected(marketOperation{AssetsIDs: removed, Operation: "unsubscribe"})
}

// Subscribed returns the current subscription set, sorted.
func (w *WSClient) Subscribed() []string {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	out := make([]string, 0, len(w.assets))
	for a := range w.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (w *WSClient) updateAssets(ids []string, add bool) []string {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	var changed []string
	for _, id := range ids {
		_, has := w.assets[id]
		switch {
		case add && !has:
			w.assets[id] = struct{}{}
			changed = append(changed, id)
		case !add && has:
			delete(w.assets, id)
			changed = append(changed, id)
		}
	}
	return changed
}

// Run connects and keeps the connection alive until ctx is cancelled. It
// only returns ctx.Err(). After MaxAttempts consecutive failures the outage
// is logged at error level and reconnects continue at MaxReconnectDelay.
func (w *WSClient) Run(ctx context.Context) error {
	delay := w.opts.ReconnectDelay
	failures := 0

	for {
		established, err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			failures = 0
			delay = w.opts.ReconnectDelay
		}
		failures++

		switch {
		case w.opts.MaxAttempts > 0 && failures == w.opts.MaxAttempts+1:
			w.logger.ErrorContext(ctx, "stream unreachable, retrying at max delay",
				slog.String("error", errString(err)),
				slog.Int("attempts", w.opts.MaxAttempts),
				slog.Duration("delay", w.opts.MaxReconnectDelay),
			)
			delay = w.opts.MaxReconnectDelay
		case w.opts.MaxAttempts > 0 && failures > w.opts.MaxAttempts:
			w.logger.DebugContext(ctx, "stream still unreachable",
				slog.String("error", errString(err)),
				slog.Int("attempt", failures),
			)
		default:
			w.logger.WarnContext(ctx, "stream disconnected, reconnecting",
				slog.String("error", errString(err)),
				slog.Int("attempt", failures),
				slog.Duration("delay", delay),
			)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > w.opts.MaxReconnectDelay {
			delay = w.opts.MaxReconnectDelay
		}
	}
}

// session runs one connection until it fails. established reports whether
// the dial and initial subscription succeeded.
func (w *WSClient) session(ctx context.Context) (established bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	defer func() {
		w.connMu.Lock()
		w.conn = nil
		w.connMu.Unlock()
		conn.Close()
	}()

	if err := w.write(conn, marketSubscribe{AssetsIDs: w.Subscribed(), Type: "market"}); err != nil {
		return false, fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	w.logger.InfoContext(ctx, "stream connected", slog.Int("assets", len(w.Subscribed())))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(sessCtx, conn)
	go func() {
		<-sessCtx.Done()
		conn.Close() // unblocks ReadMessage on shutdown
	}()

	readWait := 3 * w.opts.PingInterval
	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		w.handleMessage(message)
	}
}

// pingLoop sends the text heartbeat the market channel expects.
func (w *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			w.connMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *WSClient) write(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.connMu.Lock()
	defer w.connMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) sendIfConnected(v any) error {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return nil // replayed by the next session
	}
	if err := w.write(conn, v); err != nil {
		return fmt.Errorf("polymarket/ws: send: %w", err)
	}
	return nil
}

// handleMessage routes a frame. Frames are either a single event object or
// an array of them.
func (w *WSClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("PONG")) {
		return
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, it := range items {
			w.handleEvent(it)
		}
		return
	}
	w.handleEvent(raw)
}

func (w *WSClient) handleEvent(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()

	switch envelope.EventType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		snap := BookToDomainSnapshot(&book)
		for _, h := range w.bookHandlers {
			h(snap)
		}
	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		for _, ch := range pc.LevelChanges() {
			for _, h := range w.changeHandlers {
				h(ch)
			}
		}
	case "last_trade_price":
		var lt LastTradeMessage
		if err := json.Unmarshal(raw, &lt); err != nil {
			return
		}
		if tick, ok := lt.ToTick(); ok {
			for _, h := range w.tradeHandlers {
				h(tick)
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
