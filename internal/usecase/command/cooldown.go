package command

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type cooldownEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Cooldown is a per-sender token bucket: one command per interval, with no
// burst beyond the first.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	entries  map[string]*cooldownEntry
	now      func() time.Time
}

// NewCooldown creates a cooldown table. A non-positive interval allows
// everything.
func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{
		interval: interval,
		entries:  make(map[string]*cooldownEntry),
		now:      time.Now,
	}
}

// Allow reports whether key may run a command now and consumes its token.
func (c *Cooldown) Allow(key string) bool {
	if c.interval <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok {
		e = &cooldownEntry{limiter: rate.NewLimiter(rate.Every(c.interval), 1)}
		c.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune drops senders idle for longer than maxIdle and returns how many were
// removed.
func (c *Cooldown) Prune(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked senders.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
