package stream

import (
	"sync"
	"time"
)

// DefaultCooldownWindow is the minimum gap between two start announcements
// for the same user.
const DefaultCooldownWindow = 5 * time.Minute

// Cooldown tracks the last successful start announcement per user.
//
// Entries are never removed; expiry is computed on read against the window.
type Cooldown struct {
	mu     sync.Mutex
	clock  Clock
	window time.Duration
	last   map[string]time.Time
}

func NewCooldown(window time.Duration, clock Clock) *Cooldown {
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	if clock == nil {
		clock = systemClock
	}
	return &Cooldown{
		clock:  clock,
		window: window,
		last:   map[string]time.Time{},
	}
}

// OnCooldown reports whether userID was announced less than the window ago.
// Absence of an entry means false.
func (c *Cooldown) OnCooldown(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.last[userID]
	if !ok {
		return false
	}
	return c.clock().Sub(at) < c.window
}

// Set records "now" as the last announcement time, overwriting any prior value.
func (c *Cooldown) Set(userID string) {
	c.mu.Lock()
	c.last[userID] = c.clock()
	c.mu.Unlock()
}

// Remaining returns how long userID stays on cooldown (0 when not cooling down).
func (c *Cooldown) Remaining(userID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.last[userID]
	if !ok {
		return 0
	}
	rem := c.window - c.clock().Sub(at)
	if rem < 0 {
		return 0
	}
	return rem
}

func (c *Cooldown) Window() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// SetWindow applies a new window (hot reload). Zero or negative keeps the default.
func (c *Cooldown) SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldownWindow
	}
	c.mu.Lock()
	c.window = d
	c.mu.Unlock()
}

// Snapshot returns a copy of the tracked entries (including expired ones).
func (c *Cooldown) Snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
