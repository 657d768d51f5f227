// Package ws pushes operator notifications to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
	replayLimit    = 100
	replayTimeout  = 3 * time.Second
	followBackoff  = 5 * time.Second
)

// ErrHubClosed is returned by Send once Run has returned.
var ErrHubClosed = errors.New("ws: hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the API key.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket connection. kinds is the subscribed event kinds;
// an empty set receives everything.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	kinds map[notify.Kind]bool
}

// subscribeMsg is what a client sends to narrow or widen its feed:
// {"action":"subscribe","kinds":["fill","stoploss"]}.
type subscribeMsg struct {
	Action string        `json:"action"`
	Kinds  []notify.Kind `json:"kinds"`
}

// envelope is the frame written to clients. Replay marks frames read back
// from the journal when a client subscribes.
type envelope struct {
	Type    string       `json:"type"`
	Payload notify.Event `json:"payload"`
	Replay  bool         `json:"replay,omitempty"`
}

// Journal reads the durable event stream written by notify.BusSender.
type Journal interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// Subscriber delivers events published on a bus channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithJournal replays journal entries younger than window to a client when
// it subscribes.
func WithJournal(j Journal, stream string, window time.Duration) Option {
	return func(h *Hub) {
		h.journal = j
		h.stream = stream
		h.window = window
	}
}

// WithClock overrides the hub clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub fans notifications out to connected clients. It implements
// notify.Sender so it sits next to Telegram and Discord in the notifier.
type Hub struct {
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan envelope
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool

	journal Journal
	stream  string
	window  time.Duration
	now     func() time.Time
}

var _ notify.Sender = (*Hub)(nil)

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements notify.Sender.
func (h *Hub) Name() string { return "ws" }

// Send implements notify.Sender. It queues the event for every subscribed
// client and never waits on a slow connection.
func (h *Hub) Send(ctx context.Context, ev notify.Event) error {
	select {
	case h.broadcast <- envelope{Type: string(ev.Kind), Payload: ev}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Follow feeds the hub from a bus channel instead of the local notifier, so
// clients see events from every process publishing there. Subscription
// failures are logged and retried until ctx is cancelled.
func (h *Hub) Follow(ctx context.Context, sub Subscriber, channel string) error {
	for {
		msgs, err := sub.Subscribe(ctx, channel)
		if err != nil {
			h.logger.WarnContext(ctx, "bus subscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		} else if err := h.relay(ctx, msgs); err != nil {
			return err
		}

		t := time.NewTimer(followBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// relay sends bus payloads to the hub until msgs closes or ctx is done.
func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev notify.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				h.logger.Debug("skipping undecodable bus event", slog.String("error", err.Error()))
				continue
			}
			if err := h.Send(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

// replay writes the journal entries of the requested kinds that are younger
// than the replay window to c. Entries the client's buffer cannot take are
// dropped.
func (h *Hub) replay(c *client, kinds []notify.Kind) {
	if h.journal == nil || h.stream == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	// stream ids start with the entry's unix milliseconds
	since := strconv.FormatInt(h.now().Add(-h.window).UnixMilli(), 10) + "-0"
	msgs, err := h.journal.StreamRead(ctx, h.stream, since, replayLimit)
	if err != nil {
		h.logger.Warn("journal replay failed", slog.String("error", err.Error()))
		return
	}

	want := make(map[notify.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	for _, m := range msgs {
		var ev notify.Event
		if json.Unmarshal(m.Payload, &ev) != nil {
			continue
		}
		if len(want) > 0 && !want[ev.Kind] {
			continue
		}
		data, err := json.Marshal(envelope{Type: string(ev.Kind), Payload: ev, Replay: true})
		if err != nil {
			continue
		}
		if !c.offer(data) {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run owns client registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.Error("encode event", slog.String("error", err.Error()))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(env.Payload.Kind) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping event for slow client", slog.String("kind", env.Type))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: make(map[notify.Kind]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(k notify.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[k]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(message, &msg) == nil {
			c.apply(msg)
			if msg.Action == "subscribe" {
				c.hub.replay(c, msg.Kinds)
			}
		}
	}
}

// offer queues data without blocking. It reports false once the client is
// gone or its buffer is full.
func (c *client) offer(data []byte) (ok bool) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
