package engine

import "sync"

// BalanceCache is the single shared coin balance every currency surface
// reads. Only confirmed server responses write to it; surfaces never mutate
// it ad hoc and never decrement optimistically.
type BalanceCache struct {
	mu        sync.RWMutex
	balance   int64
	confirmed bool
	next      int
	listeners map[int]func(int64)
}

// NewBalanceCache constructs an empty cache with no confirmed balance.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{listeners: make(map[int]func(int64))}
}

// Update records a confirmed balance and notifies listeners. This is the
// single write path.
func (c *BalanceCache) Update(balance int64) {
	c.mu.Lock()
	c.balance = balance
	c.confirmed = true
	listeners := make([]func(int64), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(balance)
	}
}

// Balance returns the last confirmed balance; ok is false until the first
// confirmed update arrives.
func (c *BalanceCache) Balance() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance, c.confirmed
}

// Subscribe registers a listener for balance updates and returns its cancel
// function.
func (c *BalanceCache) Subscribe(fn func(int64)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}
