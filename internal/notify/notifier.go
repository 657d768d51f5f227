// Package notify fans engine events out to operator channels. Events are
// dispatched to every registered Sender (Telegram, Discord, the Redis bus)
// and can be filtered by kind so operators receive only what they ask for.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind classifies an engine event.
type Kind string

const (
	KindFill     Kind = "fill"
	KindSkip     Kind = "skip"
	KindFault    Kind = "fault"
	KindSettle   Kind = "settle"
	KindStopLoss Kind = "stoploss"
)

// Event is one notification. Fields carries machine-readable detail for
// senders that forward structured payloads.
type Event struct {
	Kind    Kind           `json:"kind"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Notifier dispatches events to its senders, dropping kinds outside the
// configured allow list. An empty list allows every kind.
type Notifier struct {
	senders []Sender
	allowed map[Kind]bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewNotifier creates a Notifier for the given senders and allowed kinds.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Kind]bool, len(events))
	for _, e := range events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			allowed[Kind(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
		now:     time.Now,
	}
}

// Enabled reports whether events of kind k would be delivered.
func (n *Notifier) Enabled(k Kind) bool {
	return len(n.senders) > 0 && (len(n.allowed) == 0 || n.allowed[k])
}

// Notify delivers ev to every sender. A failing sender does not stop
// delivery to the rest; their errors are joined into the result.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if !n.Enabled(ev.Kind) {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = n.now()
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", ev.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
