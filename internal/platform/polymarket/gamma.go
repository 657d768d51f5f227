package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market metadata and resolution state.
type GammaClient struct {
	baseURL string
	rest    *restClient
}

// NewGammaClient creates a new Gamma API client.
func NewGammaClient(baseURL string, limiter *rate.Limiter, logger *slog.Logger) *GammaClient {
	return &GammaClient{baseURL: baseURL, rest: newRESTClient(limiter, logger)}
}

// MarketByCondition returns the market with the given condition id.
func (g *GammaClient) MarketByCondition(ctx context.Context, conditionID string) (Market, error) {
	return g.first(ctx, "condition_ids", conditionID)
}

// MarketByToken returns the market that lists tokenID among its outcomes.
func (g *GammaClient) MarketByToken(ctx context.Context, tokenID string) (Market, error) {
	return g.first(ctx, "clob_token_ids", tokenID)
}

func (g *GammaClient) first(ctx context.Context, param, value string) (Market, error) {
	params := url.Values{}
	params.Set(param, value)

	var apiMarkets []APIMarket
	if err := g.rest.getJSON(ctx, g.baseURL+"/markets?"+params.Encode(), &apiMarkets); err != nil {
		return Market{}, fmt.Errorf("polymarket/gamma: get market %s=%s: %w", param, value, err)
	}
	if len(apiMarkets) == 0 {
		return Market{}, fmt.Errorf("polymarket/gamma: %w: %s=%s", domain.ErrNotFound, param, value)
	}
	return apiMarkets[0].toMarket(), nil
}

// ResolveInstrument maps an outcome label of a market to its tradable token id.
func (g *GammaClient) ResolveInstrument(ctx context.Context, conditionID, outcome string) (string, domain.MarketDescriptor, error) {
	m, err := g.MarketByCondition(ctx, conditionID)
	if err != nil {
		return "", domain.MarketDescriptor{}, err
	}
	for i, o := range m.Outcomes {
		if strings.EqualFold(o, outcome) && i < len(m.TokenIDs) {
			return m.TokenIDs[i], m.Descriptor(), nil
		}
	}
	return "", domain.MarketDescriptor{}, fmt.Errorf("polymarket/gamma: %w: outcome %q in %s", domain.ErrNotFound, outcome, conditionID)
}

// MarketResolution is the settlement view of a market for one token.
type MarketResolution struct {
	Closed bool
	Price  float64 // the token's final (or current) outcome price
	Known  bool    // false when the token is not listed by the market
}

// Resolution returns whether the market is closed and the price of tokenID.
// The token is matched against the market's own token list, so the price
// always belongs to the held outcome.
func (g *GammaClient) Resolution(ctx context.Context, conditionID, tokenID string) (MarketResolution, error) {
	var (
		m   Market
		err error
	)
	if conditionID != "" {
		m, err = g.MarketByCondition(ctx, conditionID)
	} else {
		m, err = g.MarketByToken(ctx, tokenID)
	}
	if err != nil {
		return MarketResolution{}, err
	}
	res := MarketResolution{Closed: m.Closed}
	if idx := m.TokenIndex(tokenID); idx >= 0 && idx < len(m.OutcomePrices) {
		res.Price = m.OutcomePrices[idx]
		res.Known = true
	}
	return res, nil
}
