package engine

import (
	"sync"
	"time"
)

// Dedup admits each trade event id at most once within the TTL window. It
// is safe for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // event id -> first seen
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup. A nil clock uses time.Now.
func NewDedup(ttl time.Duration, now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{seen: make(map[string]time.Time), ttl: ttl, now: now}
}

// Seen reports whether id was already admitted within the TTL. An unseen or
// expired id is recorded and false is returned.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Cleanup drops expired ids and returns how many were removed.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	n := 0
	for id, first := range d.seen {
		if now.Sub(first) >= d.ttl {
			delete(d.seen, id)
			n++
		}
	}
	return n
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
