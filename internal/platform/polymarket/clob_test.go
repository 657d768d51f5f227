package polymarket_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLiveClob(t *testing.T, url string) *polymarket.ClobClient {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	auth := &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	return polymarket.NewClobClient(url, signer, auth, nil, quietLogger())
}

func TestClob_GetOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token_id"))
		w.Write([]byte(`{"asset_id":"tok","bids":[{"price":"0.38","size":"100"}],"asks":[{"price":"0.45","size":"50"},{"price":"0.40","size":"10"}]}`))
	}))
	defer srv.Close()

	c := polymarket.NewClobClient(srv.URL, nil, nil, nil, quietLogger())
	snap, err := c.GetOrderbook(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", snap.InstrumentID)
	assert.InDelta(t, 0.40, snap.BestAsk(), 1e-9)
	assert.InDelta(t, 0.38, snap.BestBid(), 1e-9)
	assert.False(t, snap.Timestamp.IsZero())
	assert.False(t, c.Ready())
}

func TestClob_GetMidpointRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"mid":"0.615"}`))
	}))
	defer srv.Close()

	c := polymarket.NewClobClient(srv.URL, nil, nil, nil, quietLogger())
	mid, err := c.GetMidpoint(context.Background(), "tok")
	require.NoError(t, err)
	assert.InDelta(t, 0.615, mid, 1e-9)
	assert.Equal(t, 2, calls)
}

func TestClob_PostOrderFaults(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        domain.FaultKind
	}{
		{"fok not filled", 400, "application/json", `{"success":false,"errorMsg":"order couldn't be fully filled, FOK orders are fully filled or killed"}`, domain.FaultUnfilled},
		{"balance", 400, "application/json", `{"success":false,"errorMsg":"not enough balance / allowance"}`, domain.FaultInsufficientBalance},
		{"nonce", 400, "application/json", `{"error":"invalid nonce"}`, domain.FaultInvalidNonce},
		{"edge", 403, "text/html", `<html>Attention Required! | Cloudflare</html>`, domain.FaultEdgeBlocked},
		{"auth", 401, "application/json", `{"error":"Unauthorized/Invalid api key"}`, domain.FaultNotReady},
		{"unknown", 500, "application/json", `{"error":"boom"}`, domain.FaultUnknown},
		{"rejected 200", 200, "application/json", `{"success":false,"errorMsg":"no orders found to match with FOK order"}`, domain.FaultInsufficientLiquidity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newLiveClob(t, srv.URL).PostOrder(context.Background(), crypto.OrderPayload{Salt: "1"}, "0xsig", domain.OrderTypeFOK)
			require.Error(t, err)
			assert.Equal(t, tc.want, domain.FaultKindOf(err))
		})
	}
}

func TestClob_PostOrderSendsSignedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.Equal(t, "k", r.Header.Get("POLY_API_KEY"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "FOK", body["orderType"])
		assert.Equal(t, "k", body["owner"])
		order := body["order"].(map[string]any)
		assert.Equal(t, "BUY", order["side"])
		assert.Equal(t, float64(42), order["salt"])

		w.Write([]byte(`{"success":true,"orderID":"0xorder","status":"matched","makingAmount":"4","takingAmount":"10"}`))
	}))
	defer srv.Close()

	res, err := newLiveClob(t, srv.URL).PostOrder(context.Background(), crypto.OrderPayload{Salt: "42", Side: 0}, "0xsig", domain.OrderTypeFOK)
	require.NoError(t, err)
	assert.Equal(t, "0xorder", res.OrderID)
}

func TestClob_PostOrderNotReady(t *testing.T) {
	c := polymarket.NewClobClient("http://unused", nil, nil, nil, quietLogger())
	_, err := c.PostOrder(context.Background(), crypto.OrderPayload{}, "", domain.OrderTypeFOK)
	assert.Equal(t, domain.FaultNotReady, domain.FaultKindOf(err))
}

func TestClob_DeriveAPIKeyFallsBackToCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.Equal(t, "0", r.Header.Get("POLY_NONCE"))
		switch r.URL.Path {
		case "/auth/derive-api-key":
			w.WriteHeader(http.StatusNotFound)
		case "/auth/api-key":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"apiKey":"new","secret":"c2VjcmV0","passphrase":"pp"}`))
		}
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	c := polymarket.NewClobClient(srv.URL, signer, nil, nil, quietLogger())
	require.False(t, c.Ready())

	auth, err := c.DeriveAPIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", auth.Key)
	assert.True(t, c.Ready())
	assert.Equal(t, "new", c.APIKey())
}

func TestGateway_SubmitMapsFill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"orderID":"o1","status":"matched","makingAmount":"4","takingAmount":"10"}`))
	}))
	defer srv.Close()

	gw := polymarket.NewOrderGateway(newLiveClob(t, srv.URL), "", 0)
	resp, err := gw.Submit(context.Background(), domain.Submission{
		InstrumentID: "123", Side: domain.OrderSideBuy, Price: 0.40, Shares: 10, Type: domain.OrderTypeFOK, Nonce: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, "o1", resp.OrderID)
	assert.InDelta(t, 10, resp.Shares, 1e-9)
	assert.InDelta(t, 4, resp.Notional, 1e-9)
	assert.InDelta(t, 0.40, resp.Price, 1e-9)
}

func TestGateway_NotReady(t *testing.T) {
	gw := polymarket.NewOrderGateway(polymarket.NewClobClient("http://unused", nil, nil, nil, quietLogger()), "", 0)
	_, err := gw.Submit(context.Background(), domain.Submission{InstrumentID: "1", Price: 0.5, Shares: 2})
	assert.Equal(t, domain.FaultNotReady, domain.FaultKindOf(err))
}
