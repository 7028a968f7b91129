// Package clock implements the Lamport logical clock used by every replica
// and client to establish the total order consumed by the stability
// selector (internal/replica) and the broadcast coordinator (internal/client).
package clock

import "sync"

// Clock is a monotonic, mutex-guarded Lamport timestamp. New replicas
// and clients both start counting from zero.
type Clock struct {
	mu    sync.Mutex
	value uint64
}

// New returns a Clock starting at the given value.
func New(initial uint64) *Clock {
	return &Clock{value: initial}
}

// Tick increments the clock and returns the new value, used on every
// local event that needs a fresh timestamp (message send, request
// execution).
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe folds a received timestamp into the clock: the clock becomes
// max(current, v) + 1, the standard Lamport receive rule. Returns the new
// value.
func (c *Clock) Observe(v uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.value {
		c.value = v
	}
	c.value++
	return c.value
}

// Current returns the clock's present value without advancing it.
func (c *Clock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
