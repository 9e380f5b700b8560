package utils

import (
	"sync"
	"time"
)

// ValueCache is a small TTL cache of last-seen telemetry values keyed by
// command name. Thread-safe; used to suppress persisting samples whose
// value has not changed since the last write.
type ValueCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	data map[string]entry
}

type entry struct {
	v  float64
	at time.Time
}

// NewValueCache creates a cache with the given TTL. ttl <= 0 defaults to 1h.
func NewValueCache(ttl time.Duration) *ValueCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache{ttl: ttl, data: make(map[string]entry, 16)}
}

// Unchanged reports whether v equals the cached value for key and the cached
// value has not expired. Exact comparison: telemetry values arrive already
// quantized by the PID decoders.
func (c *ValueCache) Unchanged(key string, v float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return false
	}
	if time.Since(e.at) > c.ttl {
		delete(c.data, key)
		return false
	}
	return e.v == v
}

// Remember stores v for key with the current timestamp.
func (c *ValueCache) Remember(key string, v float64) {
	c.mu.Lock()
	c.data[key] = entry{v: v, at: time.Now()}
	c.mu.Unlock()
}

// Clear drops all cached values. Called when a trip ends so the next trip
// re-logs the first sample of every command.
func (c *ValueCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]entry, 16)
	c.mu.Unlock()
}
