package domain

import (
	"errors"
	"fmt"
)

// FaultKind classifies an execution failure returned by the venue boundary.
type FaultKind string

const (
	FaultNotReady              FaultKind = "not_ready"
	FaultInsufficientLiquidity FaultKind = "insufficient_liquidity"
	FaultInvalidNonce          FaultKind = "invalid_nonce"
	FaultEdgeBlocked           FaultKind = "edge_blocked"
	FaultInsufficientBalance   FaultKind = "insufficient_balance"
	FaultUnfilled              FaultKind = "unfilled" // FOK order could not be fully filled
	FaultUnknown               FaultKind = "unknown"
)

// Fault is a structured execution error. Message carries the upstream text
// verbatim; Hint is an optional remediation the operator can act on.
type Fault struct {
	Kind    FaultKind
	Message string
	Hint    string
	Err     error
}

// NewFault builds a Fault of the given kind.
func NewFault(kind FaultKind, msg string) *Fault {
	return &Fault{Kind: kind, Message: msg}
}

func (f *Fault) Error() string {
	s := string(f.Kind)
	if f.Message != "" {
		s += ": " + f.Message
	}
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	if f.Hint != "" {
		s += fmt.Sprintf(" (hint: %s)", f.Hint)
	}
	return s
}

func (f *Fault) Unwrap() error { return f.Err }

// FaultKindOf extracts the fault kind from err. Balance sentinels map to
// FaultInsufficientBalance; anything unstructured is FaultUnknown.
func FaultKindOf(err error) FaultKind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return FaultInsufficientBalance
	}
	return FaultUnknown
}
