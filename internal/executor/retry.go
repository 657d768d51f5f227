package executor

import (
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// action is what the executor does after a failed attempt.
type action int

const (
	actionAbort action = iota
	actionFreshNonce
	actionBackoff
	actionAdvanceLevel
)

func (a action) String() string {
	switch a {
	case actionFreshNonce:
		return "fresh_nonce"
	case actionBackoff:
		return "backoff"
	case actionAdvanceLevel:
		return "advance_level"
	default:
		return "abort"
	}
}

// retryPolicy maps every fault kind to its recovery action. Kinds missing
// from the table abort.
var retryPolicy = map[domain.FaultKind]action{
	domain.FaultInvalidNonce:          actionFreshNonce,
	domain.FaultEdgeBlocked:           actionBackoff,
	domain.FaultUnfilled:              actionAdvanceLevel,
	domain.FaultUnknown:               actionBackoff,
	domain.FaultInsufficientLiquidity: actionAbort,
	domain.FaultInsufficientBalance:   actionAbort,
	domain.FaultNotReady:              actionAbort,
}

const edgeBlockedHint = "requests are being rejected by the venue's edge proxy; " +
	"check the host's IP reputation or route order traffic through an allowed region"

// retryState counts retries per fault kind for one Execute call.
type retryState struct {
	cfg  Config
	used map[domain.FaultKind]int
}

func newRetryState(cfg Config) *retryState {
	return &retryState{cfg: cfg, used: make(map[domain.FaultKind]int)}
}

func (r *retryState) budget(kind domain.FaultKind) int {
	switch kind {
	case domain.FaultInvalidNonce:
		return r.cfg.NonceRetries
	case domain.FaultEdgeBlocked:
		return r.cfg.EdgeRetries
	case domain.FaultUnfilled:
		return r.cfg.MaxLevelAttempts - 1
	case domain.FaultUnknown:
		return 1
	default:
		return 0
	}
}

// next consumes one retry for kind and reports the action and the delay
// before the next attempt. It returns actionAbort once the budget is spent.
func (r *retryState) next(kind domain.FaultKind) (action, time.Duration) {
	act, ok := retryPolicy[kind]
	if !ok || act == actionAbort {
		return actionAbort, 0
	}
	if r.used[kind] >= r.budget(kind) {
		return actionAbort, 0
	}
	r.used[kind]++

	if act != actionBackoff {
		return act, 0
	}
	delay := r.cfg.EdgeBackoff
	if kind == domain.FaultEdgeBlocked {
		for i := 1; i < r.used[kind]; i++ {
			delay *= 2
			if r.cfg.EdgeMaxBackoff > 0 && delay >= r.cfg.EdgeMaxBackoff {
				delay = r.cfg.EdgeMaxBackoff
				break
			}
		}
	}
	return act, delay
}
