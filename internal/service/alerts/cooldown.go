package alerts

import (
	"sync"
	"time"
)

// Cooldown remembers when each alert key last fired so repeated stock alerts
// for the same type and level are not re-sent within the window.
type Cooldown struct {
	window time.Duration
	last   map[string]time.Time
	mu     sync.Mutex
}

// NewCooldown creates a tracker. A zero window disables suppression.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether key may fire at now and records it when it does.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.last[key]; ok && now.Sub(at) < c.window {
		return false
	}
	c.last[key] = now
	return true
}
