package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrSigningFailed       = errors.New("signing failed")
	ErrLockHeld            = errors.New("lock already held")
	ErrNoPosition          = errors.New("no position")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCapExceeded         = errors.New("per-instrument cap exceeded")
	ErrStaleBook           = errors.New("orderbook snapshot is stale")
	ErrNoPrice             = errors.New("no price available")
)
