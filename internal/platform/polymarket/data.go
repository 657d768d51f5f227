package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DataClient reads the public Data API: a trader's activity feed and
// current positions.
type DataClient struct {
	baseURL string
	rest    *restClient
}

// NewDataClient creates a new Data API client.
func NewDataClient(baseURL string, limiter *rate.Limiter, logger *slog.Logger) *DataClient {
	return &DataClient{baseURL: baseURL, rest: newRESTClient(limiter, logger)}
}

// maxActivityPages bounds how far RecentTrades pages back through a burst.
const maxActivityPages = 10

// RecentTrades returns the user's TRADE activity since the given time,
// oldest first. The activity feed is newest first, so when since is set a
// full page means older trades may remain and the next page is fetched.
func (d *DataClient) RecentTrades(ctx context.Context, user string, since time.Time, limit int) ([]domain.TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("user", strings.ToLower(user))
	params.Set("type", "TRADE")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortDirection", "DESC")
	if !since.IsZero() {
		params.Set("start", strconv.FormatInt(since.Unix(), 10))
	}

	var events []domain.TradeEvent
	for page := 0; ; page++ {
		params.Set("offset", strconv.Itoa(page*limit))
		var rows []APIActivity
		if err := d.rest.getJSON(ctx, d.baseURL+"/activity?"+params.Encode(), &rows); err != nil {
			return nil, fmt.Errorf("polymarket/data: activity for %s: %w", user, err)
		}
		for i := range rows {
			if ev, ok := rows[i].ToTradeEvent(); ok {
				events = append(events, ev)
			}
		}
		// without a cursor only the latest page matters
		if len(rows) < limit || since.IsZero() {
			break
		}
		if page+1 == maxActivityPages {
			d.rest.logger.WarnContext(ctx, "activity burst exceeds page cap, older trades skipped",
				slog.String("user", user),
				slog.Int("pages", maxActivityPages),
				slog.Int("limit", limit),
			)
			break
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

// Positions returns the user's open positions keyed by token id.
func (d *DataClient) Positions(ctx context.Context, user string) (map[string]domain.Position, error) {
	params := url.Values{}
	params.Set("user", strings.ToLower(user))
	params.Set("sizeThreshold", "0")
	params.Set("limit", "500")

	var rows []APIPosition
	if err := d.rest.getJSON(ctx, d.baseURL+"/positions?"+params.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: positions for %s: %w", user, err)
	}

	out := make(map[string]domain.Position, len(rows))
	for i := range rows {
		if rows[i].Size < domain.PositionEpsilon {
			continue
		}
		out[rows[i].Asset] = rows[i].ToDomain()
	}
	return out, nil
}

// PositionShares returns the user's current share count for one token.
// A token the user does not hold yields 0 and no error.
func (d *DataClient) PositionShares(ctx context.Context, user, tokenID string) (float64, error) {
	positions, err := d.Positions(ctx, user)
	if err != nil {
		return 0, err
	}
	return positions[tokenID].Shares, nil
}
