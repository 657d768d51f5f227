package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultQueueSize is the Dispatcher buffer used when none is given.
	DefaultQueueSize = 256
	drainTimeout     = 5 * time.Second
)

// ErrQueueFull is returned by Dispatcher.Notify when the event is dropped.
var ErrQueueFull = errors.New("notify: dispatch queue full")

// Dispatcher queues events for a Notifier so the caller never waits on a
// slow channel. Run delivers queued events in order.
type Dispatcher struct {
	n      *Notifier
	queue  chan Event
	logger *slog.Logger
}

// NewDispatcher wraps n with a queue of size events.
func NewDispatcher(n *Notifier, size int, logger *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		n:      n,
		queue:  make(chan Event, size),
		logger: logger.With(slog.String("component", "notify_dispatch")),
	}
}

// Notify queues ev without blocking. Kinds the notifier would drop are
// discarded here.
func (d *Dispatcher) Notify(_ context.Context, ev Event) error {
	if !d.n.Enabled(ev.Kind) {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = d.n.now()
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run delivers queued events until ctx is cancelled, then flushes what is
// left under a short deadline. Sender failures are logged by the Notifier.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			_ = d.n.Notify(ctx, ev)
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			_ = d.n.Notify(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			d.logger.Warn("shutdown drain timed out", slog.Int("dropped", len(d.queue)))
			return
		}
	}
}
