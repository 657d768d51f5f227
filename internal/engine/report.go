package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/service"
)

func (e *Engine) reportCopy(ctx context.Context, ev domain.TradeEvent, ct domain.CopyTrade, cause error) {
	title := ev.Market.Title
	if title == "" {
		title = ev.InstrumentID
	}
	fields := map[string]any{
		"event_id":   ct.EventID,
		"instrument": ct.InstrumentID,
		"side":       string(ct.Side),
		"tier":       string(ct.Tier),
		"mode":       string(e.cfg.Mode),
	}

	switch {
	case ct.Status == domain.CopyTradeExecuted:
		fields["price"] = ct.FilledPrice
		fields["shares"] = ct.FilledShares
		fields["notional"] = ct.FilledNotional
		fields["order_id"] = ct.OrderID
		e.audit(ctx, "copy.fill", fields)
		e.notify(ctx, notify.Event{
			Kind:  notify.KindFill,
			Title: fmt.Sprintf("%s %s", ct.Side, title),
			Message: fmt.Sprintf("%s: %.2f shares @ %.3f ($%.2f), tier %s. Trader paid %.3f.",
				ev.Outcome, ct.FilledShares, ct.FilledPrice, ct.FilledNotional, ct.Tier, ct.TraderPrice),
			Fields: fields,
		})

	case ct.Status == domain.CopyTradeSkipped || (cause != nil && isLedgerReject(cause)):
		fields["reason"] = ct.Reason
		e.notify(ctx, notify.Event{
			Kind:    notify.KindSkip,
			Title:   fmt.Sprintf("Skipped %s %s", ct.Side, title),
			Message: fmt.Sprintf("%s: %s (intended $%.2f)", ev.Outcome, ct.Reason, ct.IntendedNotional),
			Fields:  fields,
		})

	default:
		kind := domain.FaultKindOf(cause)
		fields["reason"] = ct.Reason
		fields["fault"] = string(kind)
		e.audit(ctx, "copy.fault", fields)
		e.notify(ctx, notify.Event{
			Kind:    notify.KindFault,
			Title:   fmt.Sprintf("Copy failed: %s %s", ct.Side, title),
			Message: ct.Reason,
			Fields:  fields,
		})
	}
}

func (e *Engine) reportStopLoss(ctx context.Context, out service.StopLossOutcome) {
	fields := map[string]any{
		"instrument": out.Record.InstrumentID,
		"entry":      out.Record.EntryPrice,
		"trigger":    out.Record.TriggerPrice,
		"price":      out.Price,
		"removed":    out.Removed,
	}
	title := out.Record.Market.Title
	if title == "" {
		title = out.Record.InstrumentID
	}

	switch {
	case out.Fired:
		fields["order_id"] = out.Response.OrderID
		fields["shares"] = out.Response.Shares
		fields["fill_price"] = out.Response.Price
		e.audit(ctx, "stoploss.fired", fields)
		e.notify(ctx, notify.Event{
			Kind:  notify.KindStopLoss,
			Title: "Stop-loss: " + title,
			Message: fmt.Sprintf("Sold %.2f shares @ %.3f (entry %.3f, trigger %.3f).",
				out.Response.Shares, out.Response.Price, out.Record.EntryPrice, out.Record.TriggerPrice),
			Fields: fields,
		})
	case out.Err != nil:
		fields["error"] = out.Err.Error()
		e.audit(ctx, "stoploss.fault", fields)
		e.notify(ctx, notify.Event{
			Kind:    notify.KindFault,
			Title:   "Stop-loss sell failed: " + title,
			Message: out.Err.Error(),
			Fields:  fields,
		})
	}
}

func (e *Engine) reportSettlement(ctx context.Context, s service.Settlement) {
	title := s.Position.Market.Title
	if title == "" {
		title = s.Position.InstrumentID
	}
	result := "LOST"
	if s.Price >= 1 {
		result = "WON"
	}
	fields := map[string]any{
		"instrument": s.Position.InstrumentID,
		"observed":   s.Observed,
		"price":      s.Price,
		"source":     s.Source,
		"inverted":   s.Inverted,
		"shares":     s.Fill.Shares,
		"pnl":        s.Fill.PnL,
		"balance":    s.Fill.Balance,
	}
	e.audit(ctx, "paper.settle", fields)
	e.notify(ctx, notify.Event{
		Kind:  notify.KindSettle,
		Title: fmt.Sprintf("Settled %s: %s", result, title),
		Message: fmt.Sprintf("%s: %.2f shares at %.0f, PnL %+.2f, balance $%.2f.",
			s.Position.Outcome, s.Fill.Shares, s.Price, s.Fill.PnL, s.Fill.Balance),
		Fields: fields,
	})
}

func (e *Engine) audit(ctx context.Context, event string, detail map[string]any) {
	if e.deps.Audit == nil {
		return
	}
	if err := e.deps.Audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if e.deps.Notifier == nil {
		return
	}
	ev.Time = e.now()
	if err := e.deps.Notifier.Notify(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "notify failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
	}
}
