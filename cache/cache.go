// Package cache holds the conditional-request cache for feeds and the
// short-lived cache of lane previews.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/madeddie/mebooks/catalog"
)

// DefaultMaxEntries bounds the ETag cache.
const DefaultMaxEntries = 64

// ETagCache remembers the last validator and parsed result per feed URL so
// refetches can be conditional.
type ETagCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
	logger     *slog.Logger
}

// Entry is a single cached feed.
type Entry struct {
	ETag      string
	Result    *catalog.Result
	UpdatedAt time.Time
}

// NewETagCache creates an empty cache holding at most maxEntries feeds.
func NewETagCache(maxEntries int, logger *slog.Logger) *ETagCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ETagCache{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Put stores the validator and result for url, evicting the oldest entry
// when full. Entries without an ETag are not stored.
func (c *ETagCache) Put(url, etag string, result *catalog.Result) {
	if etag == "" || result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[url] = &Entry{
		ETag:      etag,
		Result:    result,
		UpdatedAt: time.Now(),
	}
	c.logger.Debug("feed cached", "url", url, "etag", etag)
}

func (c *ETagCache) evictOldest() {
	var oldest string
	var at time.Time
	for k, e := range c.entries {
		if oldest == "" || e.UpdatedAt.Before(at) {
			oldest, at = k, e.UpdatedAt
		}
	}
	delete(c.entries, oldest)
}

// Get retrieves the cached entry for url.
func (c *ETagCache) Get(url string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e, ok
}

// Len returns the number of cached feeds.
func (c *ETagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Remove deletes a cached feed.
func (c *ETagCache) Remove(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}
