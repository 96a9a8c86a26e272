// Package preview loads the first few books of many catalog lanes with a
// bounded number of fetches in flight.
package preview

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/madeddie/mebooks/cache"
	"github.com/madeddie/mebooks/catalog"
	"github.com/madeddie/mebooks/opds"
)

const (
	DefaultWorkers = 3
	DefaultLimit   = 10
)

// Loader fetches a catalog page. *fetch.Fetcher satisfies it.
type Loader interface {
	FetchCatalog(ctx context.Context, url string, version opds.Version) (*catalog.Result, error)
}

// LaneRef names a lane to preview.
type LaneRef struct {
	Key   string `json:"key,omitempty"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (l LaneRef) key() string {
	if l.Key != "" {
		return l.Key
	}
	return l.URL
}

// Preview is the settled state of one lane.
type Preview struct {
	Lane  LaneRef        `json:"lane"`
	Books []catalog.Book `json:"books"`
	// Total is the number of books on the fetched page before Limit.
	Total int    `json:"total"`
	Error string `json:"error,omitempty"`
}

// Options configures a Pool.
type Options struct {
	Workers int
	Limit   int
	// Cache, when set, serves fresh previews without refetching.
	Cache *cache.PreviewCache
	// OnSettled is called as each lane settles, from the worker goroutine.
	OnSettled func(Preview)
	// Message renders a fetch error for Preview.Error.
	Message func(error) string
	Logger  *slog.Logger
}

// Pool runs lane preview fetches.
type Pool struct {
	loader Loader
	opts   Options
	logger *slog.Logger
}

// NewPool creates a Pool.
func NewPool(loader Loader, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Message == nil {
		opts.Message = func(err error) string { return err.Error() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{loader: loader, opts: opts, logger: opts.Logger}
}

// Fetch previews lanes with at most Workers fetches in flight, starting
// them in lane order as slots free up. A failed lane settles with an error
// and never stops its siblings. Lanes that settle after ctx is done are
// left out of the result.
func (p *Pool) Fetch(ctx context.Context, lanes []LaneRef) map[string]Preview {
	results := make(map[string]Preview, len(lanes))
	var mu sync.Mutex

	// A plain Group: lane errors are recorded in the Preview, not returned.
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for _, lane := range lanes {
		if lane.URL == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			pv := p.load(ctx, lane)
			if ctx.Err() != nil {
				p.logger.Debug("discarding preview settled after cancellation", "url", lane.URL)
				return nil
			}
			mu.Lock()
			results[lane.key()] = pv
			mu.Unlock()
			if p.opts.OnSettled != nil {
				p.opts.OnSettled(pv)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pool) load(ctx context.Context, lane LaneRef) Preview {
	pv := Preview{Lane: lane, Books: []catalog.Book{}}
	res, err := p.fetch(ctx, lane.URL)
	if err != nil {
		p.logger.Warn("lane preview failed", "url", lane.URL, "error", err)
		pv.Error = p.opts.Message(err)
		return pv
	}
	pv.Total = len(res.Books)
	n := min(len(res.Books), p.opts.Limit)
	pv.Books = append(pv.Books, res.Books[:n]...)
	return pv
}

func (p *Pool) fetch(ctx context.Context, url string) (*catalog.Result, error) {
	load := func(ctx context.Context, key string) (*catalog.Result, error) {
		return p.loader.FetchCatalog(ctx, key, opds.VersionAuto)
	}
	if p.opts.Cache == nil {
		return load(ctx, url)
	}
	return p.opts.Cache.Get(ctx, url, cache.PreviewLoaderFunc(load))
}

// LanesFromResult turns a result's catalog navigation links into lanes.
func LanesFromResult(res *catalog.Result) []LaneRef {
	var lanes []LaneRef
	for _, l := range res.NavigationLinks {
		if l.IsCatalog && l.URL != "" {
			lanes = append(lanes, LaneRef{Title: l.Title, URL: l.URL})
		}
	}
	return lanes
}
