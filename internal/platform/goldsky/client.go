// Package goldsky reads the tracked trader's on-chain fills from the Goldsky
// subgraph of the CTF exchange. It is an alternative trade source for when
// the Data API activity feed lags.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

// collateralAssetID is the asset id the exchange uses for USDC.
const collateralAssetID = "0"

// amountScale converts on-chain amounts (6 decimals for both USDC and
// outcome tokens) to units.
const amountScale = 1e6

// MarketLookup resolves the market that lists a token.
type MarketLookup interface {
	MarketByToken(ctx context.Context, tokenID string) (polymarket.Market, error)
}

// Client is a GraphQL client for the Goldsky subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	markets    MarketLookup
	logger     *slog.Logger

	mu    sync.Mutex
	known map[string]polymarket.Market // token id -> market
}

// NewClient creates a Client. markets may be nil, in which case events carry
// no market descriptor.
func NewClient(graphqlURL, apiKey string, limiter *rate.Limiter, markets MarketLookup, logger *slog.Logger) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		markets:    markets,
		logger:     logger.With(slog.String("component", "goldsky")),
		known:      make(map[string]polymarket.Market),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// orderFill is one orderFilledEvent row.
type orderFill struct {
	TransactionHash   string `json:"transactionHash"`
	Timestamp         string `json:"timestamp"`
	Maker             string `json:"maker"`
	MakerAssetID      string `json:"makerAssetId"`
	MakerAmountFilled string `json:"makerAmountFilled"`
	Taker             string `json:"taker"`
	TakerAssetID      string `json:"takerAssetId"`
	TakerAmountFilled string `json:"takerAmountFilled"`
}

// fillsQuery is parameterised on the role the user played in the fill.
const fillsQuery = `
query Fills($user: String!, $since: BigInt!, $first: Int!) {
  orderFilledEvents(
    first: $first
    orderBy: timestamp
    orderDirection: asc
    where: { %s: $user, timestamp_gte: $since }
  ) {
    transactionHash
    timestamp
    maker
    makerAssetId
    makerAmountFilled
    taker
    takerAssetId
    takerAmountFilled
  }
}`

// RecentTrades returns user's fills since the given time, oldest first. Fills
// where the user was maker and taker are merged; event ids match the Data
// API so the two sources dedup against each other.
func (c *Client) RecentTrades(ctx context.Context, user string, since time.Time, limit int) ([]domain.TradeEvent, error) {
	user = strings.ToLower(user)
	var events []domain.TradeEvent
	seen := make(map[string]bool)

	for _, role := range []string{"maker", "taker"} {
		fills, err := c.fetchFills(ctx, role, user, since, limit)
		if err != nil {
			return nil, err
		}
		for _, f := range fills {
			ev, ok := toTradeEvent(f, user)
			if !ok || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			c.describe(ctx, &ev)
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (c *Client) fetchFills(ctx context.Context, role, user string, since time.Time, first int) ([]orderFill, error) {
	if first <= 0 {
		first = 100
	}
	data, err := c.doQuery(ctx, fmt.Sprintf(fillsQuery, role), map[string]any{
		"user":  user,
		"since": strconv.FormatInt(since.Unix(), 10),
		"first": first,
	})
	if err != nil {
		return nil, fmt.Errorf("goldsky: %s fills for %s: %w", role, user, err)
	}

	var result struct {
		OrderFilledEvents []orderFill `json:"orderFilledEvents"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode fills: %w", err)
	}
	return result.OrderFilledEvents, nil
}

// toTradeEvent converts a fill into the user's side of the trade. Whoever
// gives collateral is buying the other asset.
func toTradeEvent(f orderFill, user string) (domain.TradeEvent, bool) {
	makerAmt, err1 := strconv.ParseFloat(f.MakerAmountFilled, 64)
	takerAmt, err2 := strconv.ParseFloat(f.TakerAmountFilled, 64)
	ts, err3 := strconv.ParseInt(f.Timestamp, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || makerAmt <= 0 || takerAmt <= 0 {
		return domain.TradeEvent{}, false
	}

	// gave/got are from the user's point of view
	var gaveAsset, gotAsset string
	var gave, got float64
	switch user {
	case strings.ToLower(f.Maker):
		gaveAsset, gave, gotAsset, got = f.MakerAssetID, makerAmt, f.TakerAssetID, takerAmt
	case strings.ToLower(f.Taker):
		gaveAsset, gave, gotAsset, got = f.TakerAssetID, takerAmt, f.MakerAssetID, makerAmt
	default:
		return domain.TradeEvent{}, false
	}

	ev := domain.TradeEvent{
		Timestamp:     time.Unix(ts, 0).UTC(),
		OrderTypeHint: domain.OrderTypeFOK,
	}
	switch {
	case gaveAsset == collateralAssetID && gotAsset != collateralAssetID:
		ev.Side = domain.OrderSideBuy
		ev.InstrumentID = gotAsset
		ev.Size = got / amountScale
		ev.Notional = gave / amountScale
	case gotAsset == collateralAssetID && gaveAsset != collateralAssetID:
		ev.Side = domain.OrderSideSell
		ev.InstrumentID = gaveAsset
		ev.Size = gave / amountScale
		ev.Notional = got / amountScale
	default:
		// token-for-token merges and splits are not trades
		return domain.TradeEvent{}, false
	}
	ev.Price = ev.Notional / ev.Size
	ev.ID = f.TransactionHash + ":" + ev.InstrumentID + ":" + string(ev.Side)
	return ev, true
}

// describe attaches the market descriptor and outcome, caching lookups per
// token. A failed lookup leaves the event undescribed.
func (c *Client) describe(ctx context.Context, ev *domain.TradeEvent) {
	if c.markets == nil {
		return
	}
	c.mu.Lock()
	m, ok := c.known[ev.InstrumentID]
	c.mu.Unlock()
	if !ok {
		var err error
		m, err = c.markets.MarketByToken(ctx, ev.InstrumentID)
		if err != nil {
			c.logger.WarnContext(ctx, "market lookup failed",
				slog.String("instrument", ev.InstrumentID),
				slog.String("error", err.Error()),
			)
			return
		}
		c.mu.Lock()
		c.known[ev.InstrumentID] = m
		c.mu.Unlock()
	}

	ev.Market = m.Descriptor()
	ev.OutcomeIndex = m.TokenIndex(ev.InstrumentID)
	if ev.OutcomeIndex >= 0 && ev.OutcomeIndex < len(m.Outcomes) {
		ev.Outcome = m.Outcomes[ev.OutcomeIndex]
	}
}

// doQuery executes a GraphQL query and returns the "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var gql graphqlResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gql.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gql.Errors[0].Message)
	}
	return gql.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
