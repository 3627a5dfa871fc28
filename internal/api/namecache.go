package api

import (
	"sync"
	"time"
)

// nameCache is a bounded display-name cache keyed by target id. It is owned
// by the API handler and lives for the process lifetime; entries expire after
// a TTL so renamed groups converge without restarts.
type nameCache struct {
	mu         sync.Mutex
	entries    map[string]nameEntry
	maxEntries int
	ttl        time.Duration
}

type nameEntry struct {
	name     string
	cachedAt time.Time
}

func newNameCache(maxEntries int, ttl time.Duration) *nameCache {
	return &nameCache{
		entries:    make(map[string]nameEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *nameCache) get(target string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[target]
	if !ok || time.Since(e.cachedAt) > c.ttl {
		delete(c.entries, target)
		return "", false
	}
	return e.name, true
}

func (c *nameCache) put(target, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Crude bound: dropping the whole map on overflow keeps the cache small
	// without tracking recency; it refills on the next listing.
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]nameEntry)
	}
	c.entries[target] = nameEntry{name: name, cachedAt: time.Now()}
}
