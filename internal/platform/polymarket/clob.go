package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. Book and midpoint reads are public; order placement
// needs both a signer and L2 credentials.
type ClobClient struct {
	baseURL string
	rest    *restClient
	signer  *crypto.Signer

	mu       sync.RWMutex
	hmacAuth *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client. signer and hmac may be nil
// for read-only use (paper mode).
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, limiter *rate.Limiter, logger *slog.Logger) *ClobClient {
	return &ClobClient{
		baseURL:  baseURL,
		rest:     newRESTClient(limiter, logger),
		signer:   signer,
		hmacAuth: hmac,
	}
}

// Ready reports whether orders can be signed and authenticated.
func (c *ClobClient) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer != nil && !c.hmacAuth.Empty()
}

// Signer returns the order signer, or nil in read-only mode.
func (c *ClobClient) Signer() *crypto.Signer { return c.signer }

// APIKey returns the L2 API key used as the order owner.
func (c *ClobClient) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hmacAuth == nil {
		return ""
	}
	return c.hmacAuth.Key
}

// GetOrderbook fetches the current book for a token via REST.
func (c *ClobClient) GetOrderbook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	var book APIBook
	u := c.baseURL + "/book?token_id=" + url.QueryEscape(tokenID)
	if err := c.rest.getJSON(ctx, u, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return book.ToSnapshot(time.Now()), nil
}

// GetMidpoint returns the midpoint price for a token.
func (c *ClobClient) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	var resp struct {
		Mid string `json:"mid"`
	}
	u := c.baseURL + "/midpoint?token_id=" + url.QueryEscape(tokenID)
	if err := c.rest.getJSON(ctx, u, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}
	mid, err := strconv.ParseFloat(resp.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse midpoint %q: %w", resp.Mid, err)
	}
	return mid, nil
}

// PostOrder submits a signed order. A rejected order returns a *domain.Fault
// so callers can switch on its kind.
func (c *ClobClient) PostOrder(ctx context.Context, p crypto.OrderPayload, signature string, orderType domain.OrderType) (APIOrderResult, error) {
	if !c.Ready() {
		return APIOrderResult{}, domain.NewFault(domain.FaultNotReady, "signer or API credentials unavailable")
	}

	side := "BUY"
	if p.Side == 1 {
		side = "SELL"
	}
	body := map[string]any{
		"order": map[string]any{
			"salt":          json.Number(p.Salt),
			"maker":         p.Maker,
			"signer":        p.Signer,
			"taker":         p.Taker,
			"tokenId":       p.TokenID,
			"makerAmount":   p.MakerAmount,
			"takerAmount":   p.TakerAmount,
			"expiration":    p.Expiration,
			"nonce":         p.Nonce,
			"feeRateBps":    p.FeeRateBps,
			"side":          side,
			"signatureType": p.SignatureType,
			"signature":     signature,
		},
		"owner":     c.APIKey(),
		"orderType": string(orderType),
	}

	status, contentType, respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return APIOrderResult{}, domain.NewFault(domain.FaultUnknown, err.Error())
	}

	var res APIOrderResult
	decodeErr := json.Unmarshal(respBody, &res)
	if status < 200 || status >= 300 {
		if decodeErr != nil {
			return APIOrderResult{}, classifyReject(status, contentType, respBody, nil)
		}
		return res, classifyReject(status, contentType, respBody, &res)
	}
	if decodeErr != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", decodeErr)
	}
	if !res.Success {
		return res, classifyReject(status, contentType, respBody, &res)
	}
	return res, nil
}

// DeriveAPIKey obtains L2 credentials with wallet-signed L1 headers. It
// tries the derive endpoint first and creates a key when none exists. On
// success the client starts using the credentials.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (*crypto.HMACAuth, error) {
	if c.signer == nil {
		return nil, domain.NewFault(domain.FaultNotReady, "no signer configured")
	}

	auth, err := c.l1Request(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrUnauthorized) {
			return nil, err
		}
		auth, err = c.l1Request(ctx, http.MethodPost, "/auth/api-key")
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.hmacAuth = auth
	c.mu.Unlock()
	return auth, nil
}

func (c *ClobClient) l1Request(ctx context.Context, method, path string) (*crypto.HMACAuth, error) {
	headers, err := c.signer.L1Headers(time.Now().Unix(), 0)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.rest.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, fmt.Errorf("polymarket/clob: %s %s: %w", method, path, err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	if authResp.APIKey == "" {
		return nil, fmt.Errorf("polymarket/clob: %s returned no api key", path)
	}
	return &crypto.HMACAuth{Key: authResp.APIKey, Secret: authResp.Secret, Passphrase: authResp.Passphrase}, nil
}

// doAuthenticatedRequest sends an L2-signed request and returns the status,
// content type and body without interpreting them.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) (int, string, []byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, "", nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	if err := c.rest.limiter.Wait(ctx); err != nil {
		return 0, "", nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, "", nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	auth := c.hmacAuth
	c.mu.RUnlock()
	if auth != nil && c.signer != nil {
		for k, v := range auth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.rest.http.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), respBody, nil
}
