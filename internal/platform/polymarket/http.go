package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// restClient is the transport shared by the read-only Polymarket APIs. Reads
// are rate limited and retried on 429 / 5xx; writes are never retried here.
type restClient struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newRESTClient(limiter *rate.Limiter, logger *slog.Logger) *restClient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &restClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		logger:  logger,
	}
}

// NewLimiter builds the shared request limiter for all REST clients.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// getJSON performs a GET with retries and decodes the JSON body into out.
func (c *restClient) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *restClient) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = checkHTTPStatus(resp.StatusCode, body)
			c.logger.Warn("retrying request",
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
			)
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
			return nil, err
		}
		return body, nil
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// sleep waits with exponential backoff and reports false if ctx ended first.
func (c *restClient) sleep(ctx context.Context, attempt int) bool {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := truncate(string(body), 512)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
