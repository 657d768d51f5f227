package executor

import (
	"sync/atomic"
	"time"
)

// NonceSource hands out strictly increasing order nonces for the lifetime of
// the process. It is seeded from the wall clock so a restart does not reuse
// values from the previous run.
type NonceSource struct {
	last atomic.Uint64
}

// NewNonceSource creates a source seeded at the current time in nanoseconds.
func NewNonceSource() *NonceSource {
	n := &NonceSource{}
	n.last.Store(uint64(time.Now().UnixNano()))
	return n
}

// Next returns the next nonce.
func (n *NonceSource) Next() uint64 {
	return n.last.Add(1)
}
