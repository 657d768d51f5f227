package goldsky_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/goldsky"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

const user = "0xabc0000000000000000000000000000000000001"

type marketsStub struct{ calls int }

func (m *marketsStub) MarketByToken(_ context.Context, tokenID string) (polymarket.Market, error) {
	m.calls++
	if tokenID != "tok1" {
		return polymarket.Market{}, domain.ErrNotFound
	}
	return polymarket.Market{
		ConditionID: "0xcond",
		Question:    "Will it rain?",
		Slug:        "will-it-rain",
		Outcomes:    []string{"Yes", "No"},
		TokenIDs:    []string{"tok1", "tok2"},
	}, nil
}

func fill(hash, ts, maker, makerAsset, makerAmt, taker, takerAsset, takerAmt string) map[string]string {
	return map[string]string{
		"transactionHash":   hash,
		"timestamp":         ts,
		"maker":             maker,
		"makerAssetId":      makerAsset,
		"makerAmountFilled": makerAmt,
		"taker":             taker,
		"takerAssetId":      takerAsset,
		"takerAmountFilled": takerAmt,
	}
}

func newGraphQL(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, user, req.Variables["user"])
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var rows []map[string]string
		if strings.Contains(req.Query, "maker: $user") {
			rows = []map[string]string{
				// user buys 10 tok1 for 4 USDC
				fill("0xh1", "1772600000", user, "0", "4000000", "0xother", "tok1", "10000000"),
				// token-for-token, ignored
				fill("0xh3", "1772600010", user, "tok1", "1000000", "0xother", "tok2", "1000000"),
			}
		} else {
			rows = []map[string]string{
				// user sells 5 tok2 for 3 USDC as taker
				fill("0xh2", "1772599000", "0xother", "0", "3000000", user, "tok2", "5000000"),
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"orderFilledEvents": rows}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecentTradesMergesRoles(t *testing.T) {
	srv := newGraphQL(t)
	markets := &marketsStub{}
	c := goldsky.NewClient(srv.URL, "key", nil, markets, slog.New(slog.NewTextHandler(io.Discard, nil)))

	events, err := c.RecentTrades(context.Background(), strings.ToUpper(user[:2])+user[2:], time.Unix(1772590000, 0), 50)
	require.NoError(t, err)
	require.Len(t, events, 2)

	sell := events[0]
	assert.Equal(t, "0xh2:tok2:SELL", sell.ID)
	assert.Equal(t, domain.OrderSideSell, sell.Side)
	assert.InDelta(t, 5, sell.Size, 1e-9)
	assert.InDelta(t, 0.6, sell.Price, 1e-9)
	assert.Empty(t, sell.Market.ConditionID)

	buy := events[1]
	assert.Equal(t, "0xh1:tok1:BUY", buy.ID)
	assert.Equal(t, domain.OrderSideBuy, buy.Side)
	assert.InDelta(t, 10, buy.Size, 1e-9)
	assert.InDelta(t, 4, buy.Notional, 1e-9)
	assert.InDelta(t, 0.4, buy.Price, 1e-9)
	assert.Equal(t, "0xcond", buy.Market.ConditionID)
	assert.Equal(t, "Yes", buy.Outcome)
	assert.Equal(t, 0, buy.OutcomeIndex)
	assert.Equal(t, time.Unix(1772600000, 0).UTC(), buy.Timestamp)
}

func TestRecentTradesCachesMarkets(t *testing.T) {
	srv := newGraphQL(t)
	markets := &marketsStub{}
	c := goldsky.NewClient(srv.URL, "key", nil, markets, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 2; i++ {
		_, err := c.RecentTrades(context.Background(), user, time.Time{}, 50)
		require.NoError(t, err)
	}
	// tok1 resolves once and is cached; tok2 fails and is retried each poll
	assert.Equal(t, 3, markets.calls)
}

func TestGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexer unavailable"}]}`))
	}))
	defer srv.Close()

	c := goldsky.NewClient(srv.URL, "", nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.RecentTrades(context.Background(), user, time.Time{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexer unavailable")
}
