package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// PositionSource lists open positions (paper ledger or venue wallet).
type PositionSource interface {
	OpenPositions(ctx context.Context) (map[string]domain.Position, error)
}

// LedgerSnapshotter returns a copy of the paper ledger.
type LedgerSnapshotter interface {
	Snapshot() domain.LedgerState
}

// StatusInfo describes the running session.
type StatusInfo struct {
	Mode      string
	Trader    string
	Wallet    string
	StartedAt time.Time
}

// StatusHandler serves the session, position, ledger and record endpoints.
// Every collaborator except info is optional; a missing one answers 404.
type StatusHandler struct {
	info       StatusInfo
	positions  PositionSource
	ledger     LedgerSnapshotter
	copyTrades domain.CopyTradeStore
	audit      domain.AuditStore
	now        func() time.Time
	logger     *slog.Logger
}

// StatusDeps are the optional collaborators of a StatusHandler.
type StatusDeps struct {
	Positions  PositionSource
	Ledger     LedgerSnapshotter
	CopyTrades domain.CopyTradeStore
	Audit      domain.AuditStore
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(info StatusInfo, deps StatusDeps, logger *slog.Logger) *StatusHandler {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	return &StatusHandler{
		info:       info,
		positions:  deps.Positions,
		ledger:     deps.Ledger,
		copyTrades: deps.CopyTrades,
		audit:      deps.Audit,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(slog.String("handler", "status")),
	}
}

// SetClock overrides the handler clock, for tests.
func (h *StatusHandler) SetClock(now func() time.Time) { h.now = now }

// GetStatus reports mode, trader and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.info.Mode,
		"trader":         h.info.Trader,
		"wallet":         h.info.Wallet,
		"started_at":     h.info.StartedAt.Format(time.RFC3339),
		"uptime_seconds": int64(h.now().Sub(h.info.StartedAt).Seconds()),
	})
}

// ListPositions returns the open positions sorted by instrument.
// GET /api/positions
func (h *StatusHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	if h.positions == nil {
		writeError(w, http.StatusNotFound, "positions unavailable")
		return
	}
	open, err := h.positions.OpenPositions(r.Context())
	if err != nil {
		h.fail(w, r, "list positions", err)
		return
	}
	out := make([]domain.Position, 0, len(open))
	for _, p := range open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	writeJSON(w, http.StatusOK, out)
}

// GetLedger returns the paper ledger document.
// GET /api/ledger
func (h *StatusHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusNotFound, "no paper ledger in this mode")
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.Snapshot())
}

type copyTradeView struct {
	EventID          string    `json:"event_id"`
	InstrumentID     string    `json:"instrument_id"`
	Side             string    `json:"side"`
	Tier             string    `json:"tier,omitempty"`
	TraderPrice      float64   `json:"trader_price"`
	TraderNotional   float64   `json:"trader_notional"`
	IntendedNotional float64   `json:"intended_notional"`
	FilledNotional   float64   `json:"filled_notional"`
	FilledPrice      float64   `json:"filled_price"`
	FilledShares     float64   `json:"filled_shares"`
	OrderID          string    `json:"order_id,omitempty"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListCopyTrades returns the newest copy-trade records.
// GET /api/copytrades?limit=N
func (h *StatusHandler) ListCopyTrades(w http.ResponseWriter, r *http.Request) {
	if h.copyTrades == nil {
		writeError(w, http.StatusNotFound, "copy trade store unavailable")
		return
	}
	trades, err := h.copyTrades.ListRecent(r.Context(), queryLimit(r, 50))
	if err != nil {
		h.fail(w, r, "list copy trades", err)
		return
	}
	out := make([]copyTradeView, 0, len(trades))
	for _, ct := range trades {
		out = append(out, copyTradeView{
			EventID:          ct.EventID,
			InstrumentID:     ct.InstrumentID,
			Side:             string(ct.Side),
			Tier:             string(ct.Tier),
			TraderPrice:      ct.TraderPrice,
			TraderNotional:   ct.TraderNotional,
			IntendedNotional: ct.IntendedNotional,
			FilledNotional:   ct.FilledNotional,
			FilledPrice:      ct.FilledPrice,
			FilledShares:     ct.FilledShares,
			OrderID:          ct.OrderID,
			Status:           string(ct.Status),
			Reason:           ct.Reason,
			CreatedAt:        ct.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAudit returns the newest audit entries.
// GET /api/audit?limit=N
func (h *StatusHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log unavailable")
		return
	}
	entries, err := h.audit.List(r.Context(), domain.ListOpts{Limit: queryLimit(r, 50)})
	if err != nil {
		h.fail(w, r, "list audit", err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StatusHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, op+" failed")
}
