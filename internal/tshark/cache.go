package tshark

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CatalogCache keeps `tshark -G fields` output per tshark binary.
// Dumping the catalog takes seconds, and one browse session or a timeline
// with several bad fields would otherwise run it repeatedly.
//
// Entries are keyed by tshark path and tagged with a hash of the
// preferences the catalog was produced under; a different tag is a miss.
// Entries older than the TTL are misses too, so an upgraded tshark is
// picked up eventually.
type CatalogCache struct {
	mu      sync.RWMutex
	entries map[string]*catalogEntry // keyed by tshark path
	ttl     time.Duration
	now     func() time.Time
}

type catalogEntry struct {
	tag      string
	catalog  string
	cachedAt time.Time
	hits     int
}

// NewCatalogCache creates a cache with the given TTL.
// A TTL of 0 disables caching.
func NewCatalogCache(ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		entries: make(map[string]*catalogEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns the cached catalog for tshark if it was stored under the
// same tag and has not expired.
func (c *CatalogCache) Lookup(tshark, tag string) (string, bool) {
	if c == nil || c.ttl <= 0 {
		return "", false
	}
	h := hashTag(tag)

	c.mu.RLock()
	entry, ok := c.entries[tshark]
	c.mu.RUnlock()

	if !ok || entry.tag != h {
		return "", false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		return "", false
	}

	c.mu.Lock()
	entry.hits++
	c.mu.Unlock()
	return entry.catalog, true
}

// Store saves a catalog for tshark under tag.
func (c *CatalogCache) Store(tshark, tag, catalog string) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tshark] = &catalogEntry{
		tag:      hashTag(tag),
		catalog:  catalog,
		cachedAt: c.now(),
	}
}

// Invalidate drops the entry for tshark.
func (c *CatalogCache) Invalidate(tshark string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, tshark)
	c.mu.Unlock()
}

// Hits returns how often the entry for tshark was served.
func (c *CatalogCache) Hits(tshark string) int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[tshark]; ok {
		return e.hits
	}
	return 0
}

func hashTag(tag string) string {
	h := sha256.Sum256([]byte(tag))
	return fmt.Sprintf("%x", h)
}
