package auth

import (
	"sync"
	"time"
)

// Cache is a TTL set of verified API keys. Uses sync.Map for lock-free reads
// on the hot path.
type Cache struct {
	store sync.Map // map[string]time.Time (expiry)
	ttl   time.Duration
	now   func() time.Time
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// Valid reports whether key was verified within the TTL. Expired entries are
// dropped, so the next call pays for a full verification.
func (c *Cache) Valid(key string) bool {
	val, ok := c.store.Load(key)
	if !ok {
		return false
	}
	if c.now().Before(val.(time.Time)) {
		return true
	}
	c.store.CompareAndDelete(key, val)
	return false
}

// Set marks key as verified for one TTL.
func (c *Cache) Set(key string) {
	c.store.Store(key, c.now().Add(c.ttl))
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}
