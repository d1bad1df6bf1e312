// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package diagnostics

import (
	"sync"
	"time"
)

// LKGCache remembers when each subsystem was last healthy. In-memory only.
type LKGCache struct {
	mu     sync.RWMutex
	lastOK map[Subsystem]time.Time
}

// NewLKGCache creates a new Last-Known-Good cache.
func NewLKGCache() *LKGCache {
	return &LKGCache{lastOK: make(map[Subsystem]time.Time)}
}

// Observe records an OK measurement, or fills h.LastOK from the cache when
// the subsystem is not healthy.
func (c *LKGCache) Observe(h *SubsystemHealth) {
	if h.Status == OK {
		at := h.MeasuredAt
		c.mu.Lock()
		c.lastOK[h.Subsystem] = at
		c.mu.Unlock()
		h.LastOK = &at
		return
	}
	c.mu.RLock()
	at, ok := c.lastOK[h.Subsystem]
	c.mu.RUnlock()
	if ok && h.LastOK == nil {
		h.LastOK = &at
	}
}

// LastOK returns when s was last healthy.
func (c *LKGCache) LastOK(s Subsystem) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	at, ok := c.lastOK[s]
	return at, ok
}
