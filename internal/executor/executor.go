// Package executor turns order requests into submitted orders. Market orders
// go through a liquidity walk over the freshest book; every failed attempt is
// classified by fault kind and handled by the retry table.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Submitter signs and posts a single order. Rejections come back as
// *domain.Fault errors.
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.OrderResponse, error)
}

// BookSource returns the freshest available orderbook for an instrument.
type BookSource interface {
	FreshBook(ctx context.Context, instrumentID string) (domain.OrderbookSnapshot, error)
}

// Config tunes the walk and the retry budgets.
type Config struct {
	BufferFactor     float64
	MinOrderNotional float64
	MaxLevelAttempts int
	NonceRetries     int
	EdgeRetries      int
	EdgeBackoff      time.Duration
	EdgeMaxBackoff   time.Duration
}

func (c *Config) defaults() {
	if c.BufferFactor < 1 {
		c.BufferFactor = 1.3
	}
	if c.MaxLevelAttempts <= 0 {
		c.MaxLevelAttempts = 3
	}
	if c.EdgeBackoff <= 0 {
		c.EdgeBackoff = 2 * time.Second
	}
	if c.EdgeMaxBackoff <= 0 {
		c.EdgeMaxBackoff = 30 * time.Second
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the backoff timer, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithNonceSource shares a nonce source between executors.
func WithNonceSource(n *NonceSource) Option {
	return func(e *Executor) { e.nonces = n }
}

// Executor places orders with bounded, fault-specific retries.
type Executor struct {
	sub    Submitter
	books  BookSource
	cfg    Config
	nonces *NonceSource
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// New creates an Executor.
func New(sub Submitter, books BookSource, cfg Config, logger *slog.Logger, opts ...Option) *Executor {
	cfg.defaults()
	e := &Executor{
		sub:    sub,
		books:  books,
		cfg:    cfg,
		nonces: NewNonceSource(),
		sleep:  sleepCtx,
		logger: logger.With(slog.String("component", "executor")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute places req and returns the confirmed response. On failure the
// error wraps the last *domain.Fault so callers can switch on its kind.
//
// Backoff waits honour ctx; the submission itself does not, so an order
// already on the wire is allowed to complete and its result is returned.
func (e *Executor) Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	if err := validate(req); err != nil {
		return domain.OrderResponse{}, err
	}

	log := e.logger.With(
		slog.String("instrument", req.InstrumentID),
		slog.String("side", string(req.Side)),
		slog.String("type", string(req.Type)),
	)

	retries := newRetryState(e.cfg)
	nonce := e.nonces.Next()
	level := 0
	var lastErr error

	for attempt := 1; ; attempt++ {
		sub, err := e.prepare(ctx, req, level, nonce)
		if err == nil {
			log.InfoContext(ctx, "submitting order",
				slog.Int("attempt", attempt),
				slog.Int("level", level),
				slog.Float64("price", sub.Price),
				slog.Float64("shares", sub.Shares),
			)
			var resp domain.OrderResponse
			resp, err = e.submit(ctx, sub)
			if err == nil {
				resp.Attempts = attempt
				log.InfoContext(ctx, "order filled",
					slog.Int("attempt", attempt),
					slog.String("order_id", resp.OrderID),
					slog.Float64("price", resp.Price),
					slog.Float64("shares", resp.Shares),
				)
				return resp, nil
			}
		}
		lastErr = err

		kind := domain.FaultKindOf(err)
		if kind == domain.FaultUnfilled && !req.Type.IsMarket() {
			return domain.OrderResponse{Attempts: attempt}, e.fail(req, kind, err)
		}
		act, delay := retries.next(kind)
		log.WarnContext(ctx, "order attempt failed",
			slog.Int("attempt", attempt),
			slog.String("fault", string(kind)),
			slog.String("action", act.String()),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		switch act {
		case actionAbort:
			return domain.OrderResponse{Attempts: attempt}, e.fail(req, kind, lastErr)
		case actionFreshNonce:
			nonce = e.nonces.Next()
		case actionAdvanceLevel:
			level++
			nonce = e.nonces.Next()
		case actionBackoff:
			if err := e.sleep(ctx, delay); err != nil {
				return domain.OrderResponse{Attempts: attempt}, e.fail(req, kind, lastErr)
			}
		}
	}
}

// prepare builds the submission for one attempt. Market orders re-read the
// book every time so a retry never acts on a stale walk.
func (e *Executor) prepare(ctx context.Context, req domain.OrderRequest, level int, nonce uint64) (domain.Submission, error) {
	sub := domain.Submission{
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Type:         req.Type,
		Nonce:        nonce,
		NegRisk:      req.NegRisk,
	}

	if !req.Type.IsMarket() {
		sub.Price = req.Price
		sub.Shares = req.Amount
		if req.Side == domain.OrderSideBuy {
			sub.Shares = req.Amount / req.Price
		}
		return sub, nil
	}

	sub.Type = domain.OrderTypeFOK
	book, err := e.books.FreshBook(ctx, req.InstrumentID)
	if err != nil {
		return sub, domain.NewFault(domain.FaultInsufficientLiquidity, fmt.Sprintf("no orderbook: %v", err))
	}
	levels := book.SortedLevels(req.Side)
	res, err := walk(levels, level, req.Side, req.Amount, e.cfg.BufferFactor, e.cfg.MinOrderNotional)
	if err != nil {
		return sub, err
	}
	if res.Shrunk {
		e.logger.Warn("order shrunk to available depth",
			slog.String("instrument", req.InstrumentID),
			slog.Float64("requested", req.Amount),
			slog.Float64("notional", res.Notional),
			slog.Float64("shares", res.Shares),
		)
	}

	sub.Price = res.Price
	if req.Side == domain.OrderSideBuy {
		sub.Shares = res.Notional / res.Price
	} else {
		sub.Shares = res.Shares
	}
	return sub, nil
}

func (e *Executor) submit(ctx context.Context, sub domain.Submission) (domain.OrderResponse, error) {
	resp, err := e.sub.Submit(context.WithoutCancel(ctx), sub)
	if err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, domain.NewFault(domain.FaultUnknown, "order not accepted: status "+resp.Status)
	}
	if resp.Price == 0 {
		resp.Price = sub.Price
	}
	if resp.Shares == 0 {
		resp.Shares = sub.Shares
	}
	if resp.Notional == 0 {
		resp.Notional = resp.Shares * resp.Price
	}
	return resp, nil
}

// fail wraps the final fault. An edge block that exhausted its retries
// carries an operator hint.
func (e *Executor) fail(req domain.OrderRequest, kind domain.FaultKind, err error) error {
	var f *domain.Fault
	if !errors.As(err, &f) {
		f = &domain.Fault{Kind: kind, Message: "submission failed", Err: err}
	}
	if f.Kind == domain.FaultEdgeBlocked && f.Hint == "" {
		f.Hint = edgeBlockedHint
	}
	e.logger.Error("order failed",
		slog.String("instrument", req.InstrumentID),
		slog.String("side", string(req.Side)),
		slog.String("fault", string(f.Kind)),
		slog.String("error", f.Error()),
	)
	return fmt.Errorf("executor: %s %s: %w", req.Side, req.InstrumentID, f)
}

func validate(req domain.OrderRequest) error {
	switch {
	case req.InstrumentID == "":
		return fmt.Errorf("executor: missing instrument: %w", domain.ErrInvalidOrder)
	case req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell:
		return fmt.Errorf("executor: side %q: %w", req.Side, domain.ErrInvalidOrder)
	case req.Amount <= 0:
		return fmt.Errorf("executor: amount %.6f: %w", req.Amount, domain.ErrInvalidOrder)
	case !req.Type.IsMarket() && (req.Price <= 0 || req.Price >= 1):
		return fmt.Errorf("executor: limit price %.4f: %w", req.Price, domain.ErrInvalidOrder)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
