package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// BusSender publishes events as JSON on a SignalBus channel and appends
// them to a stream for late consumers. Either name may be empty to skip it.
type BusSender struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewBusSender creates a BusSender.
func NewBusSender(bus domain.SignalBus, channel, stream string) *BusSender {
	return &BusSender{bus: bus, channel: channel, stream: stream}
}

// Send encodes ev and writes it to the channel and the stream.
func (b *BusSender) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if b.channel != "" {
		if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
			return fmt.Errorf("bus: %w", err)
		}
	}
	if b.stream != "" {
		if err := b.bus.StreamAppend(ctx, b.stream, payload); err != nil {
			return fmt.Errorf("bus: %w", err)
		}
	}
	return nil
}

// Name returns the sender identifier.
func (b *BusSender) Name() string { return "bus" }
