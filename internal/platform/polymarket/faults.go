package polymarket

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// edgeBlockedHint is attached to the final EdgeBlocked failure.
const edgeBlockedHint = "the CLOB edge proxy rejected the request; check that the host IP is not geo-blocked and rotate to an allowed region or proxy"

// rejectCodes maps CLOB rejection codes and their documented messages to
// fault kinds. Keys are matched case-insensitively against errorMsg.
var rejectCodes = []struct {
	match string
	kind  domain.FaultKind
}{
	{"not enough balance", domain.FaultInsufficientBalance},
	{"not_enough_balance", domain.FaultInsufficientBalance},
	{"allowance", domain.FaultInsufficientBalance},
	{"fok_order_not_filled", domain.FaultUnfilled},
	{"couldn't be fully filled", domain.FaultUnfilled},
	{"could not be fully filled", domain.FaultUnfilled},
	{"no orders found to match", domain.FaultInsufficientLiquidity},
	{"invalid nonce", domain.FaultInvalidNonce},
	{"invalid_order_nonce", domain.FaultInvalidNonce},
	{"duplicated", domain.FaultInvalidNonce},
	{"api key", domain.FaultNotReady},
	{"unauthorized", domain.FaultNotReady},
}

// classifyReject converts an order rejection into a structured fault.
func classifyReject(status int, contentType string, body []byte, res *APIOrderResult) *domain.Fault {
	msg := ""
	if res != nil {
		msg = res.message()
	}
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(body)), 300)
	}

	switch {
	case status == http.StatusForbidden && isEdgePage(contentType, body):
		return &domain.Fault{Kind: domain.FaultEdgeBlocked, Message: msg, Hint: edgeBlockedHint}
	case status == http.StatusTooManyRequests:
		return &domain.Fault{Kind: domain.FaultEdgeBlocked, Message: msg, Hint: "rate limited by the CLOB; lower requests_per_second"}
	case status == http.StatusUnauthorized:
		return domain.NewFault(domain.FaultNotReady, msg)
	}

	lower := strings.ToLower(msg)
	for _, rc := range rejectCodes {
		if strings.Contains(lower, rc.match) {
			return domain.NewFault(rc.kind, msg)
		}
	}
	if status == http.StatusForbidden {
		return domain.NewFault(domain.FaultNotReady, msg)
	}
	return domain.NewFault(domain.FaultUnknown, msg)
}

// isEdgePage reports whether a 403 came from the edge proxy (an HTML
// challenge page) rather than the CLOB application itself.
func isEdgePage(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	b := strings.ToLower(string(body))
	return strings.Contains(b, "cloudflare") || strings.Contains(b, "<html")
}
