package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedgerStore keeps the saved document in memory.
type memLedgerStore struct {
	mu      sync.Mutex
	state   *domain.LedgerState
	saves   int
	failErr error
}

func (m *memLedgerStore) Load(_ context.Context) (domain.LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.LedgerState{}, domain.ErrNotFound
	}
	return m.state.Clone(), nil
}

func (m *memLedgerStore) Save(_ context.Context, s domain.LedgerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	cp := s.Clone()
	m.state = &cp
	m.saves++
	return nil
}

// venueStub serves a fixed positions map.
type venueStub struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	err       error
	calls     int
}

func (v *venueStub) Positions(_ context.Context, _ string) (map[string]domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	out := make(map[string]domain.Position, len(v.positions))
	for k, p := range v.positions {
		out[k] = p
	}
	return out, nil
}

func (v *venueStub) set(id string, p domain.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.positions == nil {
		v.positions = map[string]domain.Position{}
	}
	v.positions[id] = p
}

// traderStub answers the tracked trader's remaining shares.
type traderStub struct {
	shares float64
	err    error
}

func (t traderStub) PositionShares(_ context.Context, _, _ string) (float64, error) {
	return t.shares, t.err
}

var errBoom = errors.New("boom")
