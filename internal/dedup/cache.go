// Package dedup provides the TTL-bounded fingerprint cache used to
// suppress duplicate events.
package dedup

import (
	"sync"
	"time"
)

const janitorInterval = 30 * time.Second

// Cache maps fingerprints to expiry timestamps. Expired entries are
// swept lazily on access and by a background janitor.
type Cache struct {
	mu     sync.Mutex
	items  map[string]time.Time
	done   chan struct{}
	closed sync.Once

	// now is swappable for tests
	now func() time.Time
}

// New creates a dedup cache and starts its janitor.
func New() *Cache {
	c := &Cache{
		items: make(map[string]time.Time),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go c.janitor()
	return c
}

// CheckAndRemember reports whether the fingerprint is fresh. A fresh
// fingerprint is remembered for ttl; a duplicate leaves the cache
// untouched. Re-inserting after expiry resets the timer. A ttl of zero
// or less effectively disables suppression for this fingerprint.
func (c *Cache) CheckAndRemember(fp string, ttl time.Duration) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.items[fp]; ok && now.Before(expiry) {
		return false
	}
	c.items[fp] = now.Add(ttl)
	return true
}

// Has reports whether a non-expired entry exists for the fingerprint.
func (c *Cache) Has(fp string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.items[fp]
	if !ok {
		return false
	}
	if !now.Before(expiry) {
		delete(c.items, fp)
		return false
	}
	return true
}

// Size returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]time.Time)
	c.mu.Unlock()
}

// Close stops the janitor. The cache stays usable afterwards.
func (c *Cache) Close() {
	c.closed.Do(func() { close(c.done) })
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for fp, expiry := range c.items {
		if !now.Before(expiry) {
			delete(c.items, fp)
		}
	}
}
