// Package crawler walks OPDS catalogs beyond a single page: it follows
// navigation links down to a fixed depth and pagination links across pages.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/madeddie/mebooks/catalog"
	"github.com/madeddie/mebooks/opds"
)

// Loader fetches one catalog page. *fetch.Fetcher satisfies it.
type Loader interface {
	FetchCatalog(ctx context.Context, url string, version opds.Version) (*catalog.Result, error)
}

// Tree is a fetched catalog page and the navigation feeds reachable from it.
type Tree struct {
	URL      string           `json:"url"`
	Title    string           `json:"title,omitempty"`
	Result   *catalog.Result  `json:"result"`
	Children map[string]*Tree `json:"children,omitempty"` // keyed by path relative to the crawl root
}

// Crawler fetches catalog trees and paged feeds.
type Crawler struct {
	loader Loader
	logger *slog.Logger
}

// New creates a new Crawler over loader.
func New(loader Loader, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{loader: loader, logger: logger}
}

// Crawl fetches root and the catalog navigation links below it, up to
// depth levels. Child failures are logged and skipped; only a failure of
// the root is returned.
func (c *Crawler) Crawl(ctx context.Context, root string, version opds.Version, depth int) (*Tree, error) {
	c.logger.Info("crawling catalog", "url", root, "depth", depth)

	res, err := c.loader.FetchCatalog(ctx, root, version)
	if err != nil {
		return nil, fmt.Errorf("crawler: fetch root %s: %w", root, err)
	}
	tree := &Tree{URL: root, Result: res, Children: make(map[string]*Tree)}
	seen := map[string]bool{root: true}
	if depth > 0 {
		c.crawlChildren(ctx, tree, root, version, 1, depth, seen)
	}

	c.logger.Info("crawl complete", "url", root, "children", len(tree.Children))
	return tree, nil
}

func (c *Crawler) crawlChildren(ctx context.Context, tree *Tree, root string, version opds.Version, level, depth int, seen map[string]bool) {
	for _, link := range tree.Result.NavigationLinks {
		if ctx.Err() != nil {
			return
		}
		if !isNavigable(link) || seen[link.URL] {
			continue
		}
		seen[link.URL] = true

		res, err := c.loader.FetchCatalog(ctx, link.URL, version)
		if err != nil {
			c.logger.Warn("skipping child catalog", "url", link.URL, "error", err)
			continue
		}
		child := &Tree{URL: link.URL, Title: link.Title, Result: res, Children: make(map[string]*Tree)}
		tree.Children[relativePath(root, link.URL)] = child

		if level < depth && len(res.NavigationLinks) > 0 {
			c.crawlChildren(ctx, child, root, version, level+1, depth, seen)
		}
	}
}

// Pages is the result of a paginated fetch.
type Pages struct {
	Result  *catalog.Result `json:"result"`
	Pages   int             `json:"pages"`
	HasMore bool            `json:"hasMore"`           // true if there are more upstream pages
	NextURL string          `json:"nextUrl,omitempty"` // next upstream page, if HasMore
}

// FetchWithLimit fetches feedURL and follows up to maxPages of "next"
// pagination links, merging the books of every page. If maxPages is 0,
// all pages are followed. Navigation and facets come from the first page.
func (c *Crawler) FetchWithLimit(ctx context.Context, feedURL string, version opds.Version, maxPages int) (*Pages, error) {
	first, err := c.loader.FetchCatalog(ctx, feedURL, version)
	if err != nil {
		return nil, err
	}

	merged := *first
	books := append([]catalog.Book(nil), first.Books...)
	out := &Pages{Result: &merged, Pages: 1}
	seen := map[string]bool{feedURL: true}

	current := first
	for {
		next := current.Pagination.Next
		if next == "" || seen[next] {
			break
		}
		if maxPages > 0 && out.Pages >= maxPages {
			out.HasMore, out.NextURL = true, next
			break
		}
		seen[next] = true

		page, err := c.loader.FetchCatalog(ctx, next, version)
		if err != nil {
			c.logger.Warn("pagination fetch failed", "url", next, "error", err)
			break
		}
		books = append(books, page.Books...)
		current = page
		out.Pages++
	}

	merged.Books = catalog.MergeBooks(books)
	merged.Pagination = current.Pagination
	if !out.HasMore {
		merged.Pagination.Next = ""
	}
	return out, nil
}

func isNavigable(l catalog.NavigationLink) bool {
	if l.URL == "" {
		return false
	}
	return l.IsCatalog || strings.Contains(l.Type, "opds")
}

func relativePath(base, full string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return full
	}
	fullURL, err := url.Parse(full)
	if err != nil {
		return full
	}
	if fullURL.Host != baseURL.Host {
		return full
	}
	rel := strings.TrimPrefix(fullURL.Path, strings.TrimSuffix(baseURL.Path, "/"))
	rel = strings.TrimPrefix(rel, "/")
	if fullURL.RawQuery != "" {
		rel += "?" + fullURL.RawQuery
	}
	return rel
}
