package executor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticBooks struct {
	snap  domain.OrderbookSnapshot
	err   error
	calls int
}

func (s *staticBooks) FreshBook(_ context.Context, _ string) (domain.OrderbookSnapshot, error) {
	s.calls++
	return s.snap.Copy(), s.err
}

// scriptedSubmitter returns the queued errors in order, then succeeds.
type scriptedSubmitter struct {
	mu   sync.Mutex
	errs []error
	subs []domain.Submission
}

func (s *scriptedSubmitter) Submit(_ context.Context, sub domain.Submission) (domain.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return domain.OrderResponse{}, err
	}
	return domain.OrderResponse{Success: true, OrderID: "0xabc", Status: "matched"}, nil
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func testConfig() executor.Config {
	return executor.Config{
		BufferFactor:     1.3,
		MinOrderNotional: 1,
		MaxLevelAttempts: 3,
		NonceRetries:     2,
		EdgeRetries:      2,
		EdgeBackoff:      time.Second,
		EdgeMaxBackoff:   10 * time.Second,
	}
}

func asks(levels ...domain.PriceLevel) *staticBooks {
	return &staticBooks{snap: domain.OrderbookSnapshot{InstrumentID: "tok", Asks: levels}}
}

func newExecutor(sub executor.Submitter, books executor.BookSource, sleeps *recordedSleeps) *executor.Executor {
	if sleeps == nil {
		sleeps = &recordedSleeps{}
	}
	return executor.New(sub, books, testConfig(), quietLogger(), executor.WithSleep(sleeps.sleep))
}

func marketBuy(notional float64) domain.OrderRequest {
	return domain.OrderRequest{InstrumentID: "tok", Side: domain.OrderSideBuy, Amount: notional, Type: domain.OrderTypeFOK}
}

func TestExecute_WalkSelectsFirstLevelWhenDepthCoversBuffer(t *testing.T) {
	sub := &scriptedSubmitter{}
	books := asks(domain.PriceLevel{Price: 0.40, Size: 10}, domain.PriceLevel{Price: 0.45, Size: 50})
	ex := newExecutor(sub, books, nil)

	resp, err := ex.Execute(context.Background(), marketBuy(12))
	require.NoError(t, err)
	require.Len(t, sub.subs, 1)

	got := sub.subs[0]
	assert.Equal(t, domain.OrderTypeFOK, got.Type)
	assert.InDelta(t, 0.40, got.Price, 1e-9)
	assert.InDelta(t, 30, got.Shares, 1e-9, "no truncation: $12 at 0.40")
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Attempts)
	assert.InDelta(t, 12, resp.Notional, 1e-9)
}

func TestExecute_ShrinksToAvailableDepth(t *testing.T) {
	sub := &scriptedSubmitter{}
	books := asks(domain.PriceLevel{Price: 0.40, Size: 10}, domain.PriceLevel{Price: 0.45, Size: 10})
	ex := newExecutor(sub, books, nil)

	_, err := ex.Execute(context.Background(), marketBuy(12))
	require.NoError(t, err)
	require.Len(t, sub.subs, 1)
	// 4.00 + 4.50 available, below the 15.60 buffered target
	assert.InDelta(t, 8.5/0.40, sub.subs[0].Shares, 1e-9)
}

func TestExecute_InsufficientLiquidityIsTerminal(t *testing.T) {
	sub := &scriptedSubmitter{}
	books := asks(domain.PriceLevel{Price: 0.50, Size: 1})
	ex := newExecutor(sub, books, nil)

	_, err := ex.Execute(context.Background(), marketBuy(12))
	require.Error(t, err)
	assert.Equal(t, domain.FaultInsufficientLiquidity, domain.FaultKindOf(err))
	assert.Empty(t, sub.subs)
}

func TestExecute_UnfilledAdvancesLevel(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{domain.NewFault(domain.FaultUnfilled, "order couldn't be fully filled")}}
	books := asks(
		domain.PriceLevel{Price: 0.40, Size: 100},
		domain.PriceLevel{Price: 0.45, Size: 100},
	)
	ex := newExecutor(sub, books, nil)

	resp, err := ex.Execute(context.Background(), marketBuy(12))
	require.NoError(t, err)
	require.Len(t, sub.subs, 2)
	assert.InDelta(t, 0.40, sub.subs[0].Price, 1e-9)
	assert.InDelta(t, 0.45, sub.subs[1].Price, 1e-9)
	assert.NotEqual(t, sub.subs[0].Nonce, sub.subs[1].Nonce)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, 2, books.calls, "book is re-read on every attempt")
}

func TestExecute_UnfilledExhaustsLevels(t *testing.T) {
	unfilled := domain.NewFault(domain.FaultUnfilled, "not filled")
	sub := &scriptedSubmitter{errs: []error{unfilled, unfilled, unfilled, unfilled}}
	books := asks(
		domain.PriceLevel{Price: 0.40, Size: 100},
		domain.PriceLevel{Price: 0.45, Size: 100},
		domain.PriceLevel{Price: 0.50, Size: 100},
		domain.PriceLevel{Price: 0.55, Size: 100},
	)
	ex := newExecutor(sub, books, nil)

	resp, err := ex.Execute(context.Background(), marketBuy(12))
	require.Error(t, err)
	assert.Equal(t, domain.FaultUnfilled, domain.FaultKindOf(err))
	assert.Len(t, sub.subs, 3, "bounded by max level attempts")
	assert.Equal(t, 3, resp.Attempts)
}

func TestExecute_InvalidNonceGetsFreshNonce(t *testing.T) {
	bad := domain.NewFault(domain.FaultInvalidNonce, "invalid nonce")
	sub := &scriptedSubmitter{errs: []error{bad}}
	books := asks(domain.PriceLevel{Price: 0.40, Size: 100})
	sleeps := &recordedSleeps{}
	ex := newExecutor(sub, books, sleeps)

	_, err := ex.Execute(context.Background(), marketBuy(12))
	require.NoError(t, err)
	require.Len(t, sub.subs, 2)
	assert.Greater(t, sub.subs[1].Nonce, sub.subs[0].Nonce)
	assert.Equal(t, sub.subs[0].Price, sub.subs[1].Price, "same level")
	assert.Empty(t, sleeps.delays)
}

func TestExecute_InvalidNonceBounded(t *testing.T) {
	bad := domain.NewFault(domain.FaultInvalidNonce, "invalid nonce")
	sub := &scriptedSubmitter{errs: []error{bad, bad, bad, bad, bad}}
	ex := newExecutor(sub, asks(domain.PriceLevel{Price: 0.40, Size: 100}), nil)

	_, err := ex.Execute(context.Background(), marketBuy(12))
	require.Error(t, err)
	assert.Equal(t, domain.FaultInvalidNonce, domain.FaultKindOf(err))
	assert.Len(t, sub.subs, 3, "first attempt plus two nonce retries")
}

func TestExecute_EdgeBlockedBacksOffThenSurfacesHint(t *testing.T) {
	blocked := domain.NewFault(domain.FaultEdgeBlocked, "403 cloudflare")
	sub := &scriptedSubmitter{errs: []error{blocked, blocked, blocked}}
	sleeps := &recordedSleeps{}
	ex := newExecutor(sub, asks(domain.PriceLevel{Price: 0.40, Size: 100}), sleeps)

	_, err := ex.Execute(context.Background(), marketBuy(12))
	require.Error(t, err)

	var f *domain.Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, domain.FaultEdgeBlocked, f.Kind)
	assert.Equal(t, "403 cloudflare", f.Message)
	assert.NotEmpty(t, f.Hint)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
	assert.Len(t, sub.subs, 3)
}

func TestExecute_UnknownRetriesOnce(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	sleeps := &recordedSleeps{}
	ex := newExecutor(sub, asks(domain.PriceLevel{Price: 0.40, Size: 100}), sleeps)

	_, err := ex.Execute(context.Background(), marketBuy(12))
	require.Error(t, err)
	assert.Equal(t, domain.FaultUnknown, domain.FaultKindOf(err))
	assert.Len(t, sub.subs, 2)
	assert.Len(t, sleeps.delays, 1)
}

func TestExecute_TerminalFaultsAbortImmediately(t *testing.T) {
	for _, kind := range []domain.FaultKind{domain.FaultInsufficientBalance, domain.FaultNotReady} {
		t.Run(string(kind), func(t *testing.T) {
			sub := &scriptedSubmitter{errs: []error{domain.NewFault(kind, "nope")}}
			ex := newExecutor(sub, asks(domain.PriceLevel{Price: 0.40, Size: 100}), nil)

			_, err := ex.Execute(context.Background(), marketBuy(12))
			require.Error(t, err)
			assert.Equal(t, kind, domain.FaultKindOf(err))
			assert.Len(t, sub.subs, 1)
		})
	}
}

func TestExecute_SellWalksBids(t *testing.T) {
	sub := &scriptedSubmitter{}
	books := &staticBooks{snap: domain.OrderbookSnapshot{
		InstrumentID: "tok",
		Bids: []domain.PriceLevel{
			{Price: 0.50, Size: 100},
			{Price: 0.55, Size: 100},
		},
	}}
	ex := newExecutor(sub, books, nil)

	resp, err := ex.Execute(context.Background(), domain.OrderRequest{
		InstrumentID: "tok", Side: domain.OrderSideSell, Amount: 20, Type: domain.OrderTypeFOK,
	})
	require.NoError(t, err)
	require.Len(t, sub.subs, 1)
	assert.InDelta(t, 0.55, sub.subs[0].Price, 1e-9, "best bid first")
	assert.InDelta(t, 20, sub.subs[0].Shares, 1e-9)
	assert.InDelta(t, 11, resp.Notional, 1e-9)
}

func TestExecute_LimitOrderSkipsWalk(t *testing.T) {
	sub := &scriptedSubmitter{}
	books := &staticBooks{err: errors.New("must not be called")}
	ex := newExecutor(sub, books, nil)

	_, err := ex.Execute(context.Background(), domain.OrderRequest{
		InstrumentID: "tok", Side: domain.OrderSideBuy, Amount: 10, Price: 0.25, Type: domain.OrderTypeGTC,
	})
	require.NoError(t, err)
	assert.Zero(t, books.calls)
	require.Len(t, sub.subs, 1)
	assert.Equal(t, domain.OrderTypeGTC, sub.subs[0].Type)
	assert.InDelta(t, 40, sub.subs[0].Shares, 1e-9)
}

func TestExecute_RejectsInvalidRequests(t *testing.T) {
	ex := newExecutor(&scriptedSubmitter{}, asks(), nil)
	cases := []domain.OrderRequest{
		{Side: domain.OrderSideBuy, Amount: 1},
		{InstrumentID: "tok", Side: "HOLD", Amount: 1},
		{InstrumentID: "tok", Side: domain.OrderSideBuy},
		{InstrumentID: "tok", Side: domain.OrderSideBuy, Amount: 1, Type: domain.OrderTypeGTC, Price: 1.2},
	}
	for _, req := range cases {
		_, err := ex.Execute(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	}
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	blocked := domain.NewFault(domain.FaultEdgeBlocked, "403")
	sub := &scriptedSubmitter{errs: []error{blocked, blocked, blocked}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := executor.New(sub, asks(domain.PriceLevel{Price: 0.40, Size: 100}), testConfig(), quietLogger())
	_, err := ex.Execute(ctx, marketBuy(12))
	require.Error(t, err)
	assert.Equal(t, domain.FaultEdgeBlocked, domain.FaultKindOf(err))
	assert.Len(t, sub.subs, 1, "submission still ran, backoff did not")
}

func TestNonceSource_Monotonic(t *testing.T) {
	n := executor.NewNonceSource()
	prev := n.Next()
	for i := 0; i < 100; i++ {
		next := n.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}
