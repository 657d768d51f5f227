package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/service"
)

// HandleTrade drives one trade event through sizing, admission and
// execution, records the outcome and returns it. Failures never escape:
// they are reflected in the returned record.
func (e *Engine) HandleTrade(ctx context.Context, ev domain.TradeEvent) domain.CopyTrade {
	ct := domain.CopyTrade{
		EventID:        ev.ID,
		InstrumentID:   ev.InstrumentID,
		Side:           ev.Side,
		TraderPrice:    ev.Price,
		TraderNotional: ev.Notional,
		CreatedAt:      e.now(),
	}
	log := e.logger.With(
		slog.String("event", ev.ID),
		slog.String("instrument", ev.InstrumentID),
		slog.String("side", string(ev.Side)),
	)

	pos, _, err := e.deps.Risk.Position(ctx, ev.InstrumentID)
	if err != nil {
		return e.finish(ctx, ev, e.failed(ct, "position lookup: "+err.Error()), err)
	}

	dec := e.deps.Sizer.Size(ctx, ev, pos.EntryValue, pos.Shares)
	ct.Tier = dec.Tier
	if dec.Skip {
		log.InfoContext(ctx, "trade skipped", slog.String("reason", dec.Reason))
		ct.Status, ct.Reason = domain.CopyTradeSkipped, dec.Reason
		return e.finish(ctx, ev, ct, nil)
	}

	notional := dec.Notional
	if ev.Side == domain.OrderSideSell {
		notional = dec.Shares * ev.Price
	}
	ct.IntendedNotional = notional

	adm, err := e.deps.Risk.Admit(ctx, ev.Side, notional, ev.InstrumentID)
	if err != nil {
		return e.finish(ctx, ev, e.failed(ct, "admission: "+err.Error()), err)
	}
	if !adm.Allowed {
		ct.Status, ct.Reason = domain.CopyTradeSkipped, adm.Reason
		return e.finish(ctx, ev, ct, nil)
	}

	// The submission below may outlive ctx; whatever it returns is applied.
	applyCtx := context.WithoutCancel(ctx)

	var execErr error
	if e.cfg.Mode == ModeLive {
		ct, execErr = e.executeLive(ctx, ev, dec, ct)
	} else {
		ct, execErr = e.executePaper(applyCtx, ev, dec, ct)
	}
	if execErr != nil {
		log.WarnContext(ctx, "copy failed", slog.String("error", execErr.Error()))
		return e.finish(applyCtx, ev, e.failed(ct, execErr.Error()), execErr)
	}

	e.deps.Sizer.Commit(ev.InstrumentID, dec.Tier)
	ct.Status = domain.CopyTradeExecuted
	log.InfoContext(ctx, "copy filled",
		slog.String("tier", string(dec.Tier)),
		slog.Float64("price", ct.FilledPrice),
		slog.Float64("shares", ct.FilledShares),
		slog.Float64("notional", ct.FilledNotional),
	)
	return e.finish(applyCtx, ev, ct, nil)
}

func (e *Engine) executeLive(ctx context.Context, ev domain.TradeEvent, dec domain.SizingDecision, ct domain.CopyTrade) (domain.CopyTrade, error) {
	req := domain.OrderRequest{
		InstrumentID: ev.InstrumentID,
		Side:         ev.Side,
		Amount:       dec.Notional,
		Type:         ev.OrderTypeHint,
		NegRisk:      ev.Market.NegRisk,
	}
	if ev.Side == domain.OrderSideSell {
		req.Amount = dec.Shares
	}
	if !req.Type.IsMarket() {
		req.Price = ev.Price
	}

	resp, err := e.deps.Executor.Execute(ctx, req)
	if err != nil {
		return ct, err
	}
	ct.OrderID = resp.OrderID
	ct.FilledPrice = resp.Price
	ct.FilledShares = resp.Shares
	ct.FilledNotional = resp.Notional

	if ev.Side == domain.OrderSideBuy && e.deps.StopLoss != nil {
		e.armAfterBuy(context.WithoutCancel(ctx), ev, resp)
	}
	return ct, nil
}

// armAfterBuy protects the position the venue now reports, falling back to
// the fill itself when the positions query lags.
func (e *Engine) armAfterBuy(ctx context.Context, ev domain.TradeEvent, resp domain.OrderResponse) {
	pos, ok, err := e.deps.Risk.Position(ctx, ev.InstrumentID)
	if err != nil || !ok {
		pos = domain.Position{
			InstrumentID: ev.InstrumentID,
			Shares:       resp.Shares,
			AvgPrice:     resp.Price,
			EntryValue:   resp.Notional,
			CreatedAt:    e.now(),
		}
	}
	if pos.Market.ConditionID == "" {
		pos.Market = ev.Market
	}
	if pos.Outcome == "" {
		pos.Outcome = ev.Outcome
	}
	e.deps.StopLoss.Arm(pos)
}

func (e *Engine) executePaper(ctx context.Context, ev domain.TradeEvent, dec domain.SizingDecision, ct domain.CopyTrade) (domain.CopyTrade, error) {
	price := e.paperPrice(ctx, ev)

	var (
		fill domain.Fill
		err  error
	)
	if ev.Side == domain.OrderSideBuy {
		fill, err = e.deps.Paper.Buy(ctx, ev.InstrumentID, dec.Notional, price, service.BuyMeta{Market: ev.Market, Outcome: ev.Outcome})
	} else {
		fill, err = e.deps.Paper.Sell(ctx, ev.InstrumentID, dec.Shares, price)
	}
	if err != nil {
		return ct, err
	}

	ct.FilledPrice = fill.Price
	ct.FilledShares = fill.Shares
	ct.FilledNotional = fill.Cost
	if ev.Side == domain.OrderSideSell {
		ct.FilledNotional = fill.Proceeds
	}

	if ev.Side == domain.OrderSideBuy {
		e.watch(ev.InstrumentID)
	} else if open, err := e.deps.Paper.OpenPositions(ctx); err == nil {
		if _, held := open[ev.InstrumentID]; !held {
			e.unwatch(ev.InstrumentID)
		}
	}
	return ct, nil
}

// paperPrice uses the current market price when one is available so paper
// fills do not inherit the trader's stale print.
func (e *Engine) paperPrice(ctx context.Context, ev domain.TradeEvent) float64 {
	if e.deps.Prices == nil {
		return ev.Price
	}
	p, err := e.deps.Prices.Price(ctx, ev.InstrumentID)
	if err != nil || p <= 0 || p >= 1 {
		return ev.Price
	}
	return p
}

func (e *Engine) failed(ct domain.CopyTrade, reason string) domain.CopyTrade {
	ct.Status = domain.CopyTradeFailed
	ct.Reason = reason
	return ct
}

// finish persists the record and emits its notification and audit entry.
func (e *Engine) finish(ctx context.Context, ev domain.TradeEvent, ct domain.CopyTrade, cause error) domain.CopyTrade {
	if e.deps.CopyTrades != nil {
		if err := e.deps.CopyTrades.Insert(ctx, ct); err != nil {
			e.logger.WarnContext(ctx, "copy trade record failed",
				slog.String("event", ct.EventID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.reportCopy(ctx, ev, ct, cause)
	return ct
}

// isLedgerReject reports errors the paper ledger raises for an order it
// cannot take, as opposed to storage failures.
func isLedgerReject(err error) bool {
	return errors.Is(err, domain.ErrCapExceeded) ||
		errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrNoPosition)
}
