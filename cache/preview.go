package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/madeddie/mebooks/catalog"
)

// PreviewTTL is how long a lane preview stays fresh.
const PreviewTTL = 5 * time.Minute

// PreviewLoaderFunc loads a lane preview on a cache miss.
type PreviewLoaderFunc = otter.LoaderFunc[string, *catalog.Result]

// PreviewCache keeps lane previews by URL for PreviewTTL. Concurrent loads
// of the same URL share one fetch; failed loads are not cached.
type PreviewCache struct {
	cache *otter.Cache[string, *catalog.Result]
}

// NewPreviewCache creates a cache holding up to maxSize previews.
func NewPreviewCache(maxSize int) *PreviewCache {
	if maxSize <= 0 {
		maxSize = 1_000
	}
	return &PreviewCache{
		cache: otter.Must(&otter.Options[string, *catalog.Result]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryWriting[string, *catalog.Result](PreviewTTL),
		}),
	}
}

// Get returns the fresh preview for url, loading it when missing or stale.
func (c *PreviewCache) Get(ctx context.Context, url string, loader PreviewLoaderFunc) (*catalog.Result, error) {
	return c.cache.Get(ctx, url, loader)
}

// Peek returns the cached preview without loading.
func (c *PreviewCache) Peek(url string) (*catalog.Result, bool) {
	return c.cache.GetIfPresent(url)
}

// Invalidate drops the preview for url.
func (c *PreviewCache) Invalidate(url string) {
	c.cache.Invalidate(url)
}
