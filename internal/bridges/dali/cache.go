package dali

import "sync"

// LevelCache remembers the last arc power level sent to or read from each
// target. It lets the bridge skip redundant ON/OFF traffic.
//
// Thread Safety: All methods are safe for concurrent use.
type LevelCache struct {
	mu     sync.RWMutex
	levels map[Target]uint8
}

// NewLevelCache creates an empty cache.
func NewLevelCache() *LevelCache {
	return &LevelCache{levels: make(map[Target]uint8)}
}

// Get returns the cached level and whether one exists.
func (c *LevelCache) Get(t Target) (uint8, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	level, ok := c.levels[t]
	return level, ok
}

// Set stores the level for a target.
func (c *LevelCache) Set(t Target, level uint8) {
	c.mu.Lock()
	c.levels[t] = level
	c.mu.Unlock()
}

// Forget drops the cached level for a target.
func (c *LevelCache) Forget(t Target) {
	c.mu.Lock()
	delete(c.levels, t)
	c.mu.Unlock()
}

// Reset drops every cached level. Called after commissioning, when short
// addresses may have moved.
func (c *LevelCache) Reset() {
	c.mu.Lock()
	clear(c.levels)
	c.mu.Unlock()
}

// Snapshot returns a copy keyed by the target's string form ("light/3").
func (c *LevelCache) Snapshot() map[string]uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]uint8, len(c.levels))
	for t, level := range c.levels {
		out[t.String()] = level
	}
	return out
}
