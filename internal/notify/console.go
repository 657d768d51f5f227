package notify

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Console writes events as single lines and renders ledger tables for the
// status command.
type Console struct {
	out io.Writer
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Send prints ev on one line.
func (c *Console) Send(_ context.Context, ev Event) error {
	ts := ""
	if !ev.Time.IsZero() {
		ts = ev.Time.UTC().Format("15:04:05") + " "
	}
	_, err := fmt.Fprintf(c.out, "%s[%s] %s: %s\n", ts, strings.ToUpper(string(ev.Kind)), ev.Title, oneLine(ev.Message))
	return err
}

// Name returns the sender identifier.
func (c *Console) Name() string { return "console" }

// RenderLedger prints the balance summary, the open positions and the last
// historyN history rows, newest first.
func (c *Console) RenderLedger(state domain.LedgerState, historyN int) {
	fmt.Fprintf(c.out, "\nBalance $%.2f | Exposure $%.2f | Realized PnL $%+.2f | Positions %d\n",
		state.Balance, state.Exposure(), state.RealizedPnL, len(state.Positions))

	ids := make([]string, 0, len(state.Positions))
	for id := range state.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Market", "Outcome", "Shares", "Avg", "Entry$", "Opened")
		for _, id := range ids {
			p := state.Positions[id]
			table.Append(
				label(p.Market.Title, id),
				p.Outcome,
				fmt.Sprintf("%.2f", p.Shares),
				fmt.Sprintf("%.3f", p.AvgPrice),
				fmt.Sprintf("$%.2f", p.EntryValue),
				p.CreatedAt.UTC().Format("2006-01-02 15:04"),
			)
		}
		table.Render()
	}

	rows := state.History
	if historyN > 0 && len(rows) > historyN {
		rows = rows[len(rows)-historyN:]
	}
	if len(rows) == 0 {
		return
	}

	fmt.Fprintln(c.out, "\nRecent history")
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Kind", "Market", "Price", "Shares", "Notional", "PnL", "Balance")
	for i := len(rows) - 1; i >= 0; i-- {
		e := rows[i]
		table.Append(
			e.Time.UTC().Format("01-02 15:04"),
			string(e.Kind),
			label(e.Title, e.InstrumentID),
			fmt.Sprintf("%.3f", e.Price),
			fmt.Sprintf("%.2f", e.Shares),
			fmt.Sprintf("$%.2f", e.Notional),
			fmt.Sprintf("%+.2f", e.PnL),
			fmt.Sprintf("$%.2f", e.BalanceAfter),
		)
	}
	table.Render()
}

// RenderCopyTrades prints recorded copy decisions, newest first as given.
func (c *Console) RenderCopyTrades(trades []domain.CopyTrade) {
	if len(trades) == 0 {
		return
	}
	fmt.Fprintln(c.out, "\nRecent copy decisions")
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Side", "Instrument", "Tier", "Intended$", "Filled$", "Status", "Reason")
	for _, t := range trades {
		table.Append(
			t.CreatedAt.UTC().Format("01-02 15:04"),
			string(t.Side),
			label("", t.InstrumentID),
			string(t.Tier),
			fmt.Sprintf("$%.2f", t.IntendedNotional),
			fmt.Sprintf("$%.2f", t.FilledNotional),
			string(t.Status),
			t.Reason,
		)
	}
	table.Render()
}

// label prefers the market title and truncates long identifiers.
func label(title, id string) string {
	s := title
	if s == "" {
		s = id
	}
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " | ")
}
