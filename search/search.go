// Package search runs OpenSearch queries against OPDS catalogs.
package search

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html/charset"

	"github.com/madeddie/mebooks/catalog"
	"github.com/madeddie/mebooks/fetch"
	"github.com/madeddie/mebooks/opds"
)

const acceptDescription = opds.MediaTypeOpenSearch + ", application/xml;q=0.9, */*;q=0.5"

// Description is the subset of an OpenSearch description document we use.
type Description struct {
	ShortName   string
	Description string
	URLs        []URLTemplate
}

// URLTemplate is one <Url> element of a description.
type URLTemplate struct {
	Template string
	Type     string
}

// Template returns the template to use for catalog results: an OPDS or
// Atom one when present, otherwise the first.
func (d *Description) Template() (string, error) {
	for _, u := range d.URLs {
		t := strings.ToLower(u.Type)
		if strings.Contains(t, "opds") || strings.Contains(t, "atom") {
			return u.Template, nil
		}
	}
	if len(d.URLs) > 0 {
		return d.URLs[0].Template, nil
	}
	return "", fmt.Errorf("search: no URL template in OpenSearch description")
}

// ParseDescription decodes an OpenSearch description document. Elements
// are matched by local name so undeclared prefixes are tolerated.
func ParseDescription(data []byte) (*Description, error) {
	type osURL struct {
		Template string `xml:"template,attr"`
		Type     string `xml:"type,attr"`
	}
	type osDesc struct {
		XMLName     xml.Name
		ShortName   string  `xml:"ShortName"`
		Description string  `xml:"Description"`
		URLs        []osURL `xml:"Url"`
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	var raw osDesc
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("search: parse OpenSearch description: %w", err)
	}
	if raw.XMLName.Local != "OpenSearchDescription" {
		return nil, fmt.Errorf("search: unexpected root element <%s>", raw.XMLName.Local)
	}
	d := &Description{ShortName: strings.TrimSpace(raw.ShortName), Description: strings.TrimSpace(raw.Description)}
	for _, u := range raw.URLs {
		if u.Template = strings.TrimSpace(u.Template); u.Template != "" {
			d.URLs = append(d.URLs, URLTemplate{Template: u.Template, Type: u.Type})
		}
	}
	return d, nil
}

// Query is a search request.
type Query struct {
	Terms string
	// StartIndex and Count page through results when the template
	// accepts them. Zero leaves them out.
	StartIndex int
	Count      int
}

func (q Query) params() map[string]string {
	p := map[string]string{
		"searchTerms": q.Terms,
		"query":       q.Terms,
	}
	if q.StartIndex > 0 {
		p["startIndex"] = strconv.Itoa(q.StartIndex)
	}
	if q.Count > 0 {
		p["count"] = strconv.Itoa(q.Count)
	}
	return p
}

// Source is a catalog that can be searched.
type Source struct {
	Name string
	// SearchURL is either an OpenSearch description URL or, for OPDS 2
	// catalogs, a URL template.
	SearchURL string
}

// Searcher fetches descriptions and results through the fetcher, so
// searches take the same proxy route as browsing.
type Searcher struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// New creates a Searcher.
func New(fetcher *fetch.Fetcher, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{fetcher: fetcher, logger: logger}
}

// ResolveTemplate returns the URL template for searchURL, fetching and
// parsing the OpenSearch description unless searchURL is already a
// template.
func (s *Searcher) ResolveTemplate(ctx context.Context, searchURL string) (string, error) {
	if strings.Contains(searchURL, "{") {
		return searchURL, nil
	}
	body, err := s.fetcher.FetchDocument(ctx, searchURL, acceptDescription)
	if err != nil {
		return "", fmt.Errorf("search: fetch description: %w", err)
	}
	desc, err := ParseDescription(body.Data)
	if err != nil {
		return "", err
	}
	tmpl, err := desc.Template()
	if err != nil {
		return "", err
	}
	return opds.ResolveTemplate(body.Route.Upstream, tmpl), nil
}

// Search runs q against one catalog.
func (s *Searcher) Search(ctx context.Context, searchURL string, q Query) (*catalog.Result, error) {
	tmpl, err := s.ResolveTemplate(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	target, err := BuildOpenSearchURL(tmpl, q.params())
	if err != nil {
		return nil, err
	}
	s.logger.Debug("searching catalog", "template", tmpl, "url", target)
	res, err := s.fetcher.FetchCatalog(ctx, target, opds.VersionAuto)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return res, nil
}

// SearchAll fans q out to every source and merges the books. Sources that
// fail are logged and skipped.
func (s *Searcher) SearchAll(ctx context.Context, sources []Source, q Query) *catalog.Result {
	merged := catalog.NewResult()
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range sources {
		if src.SearchURL == "" {
			continue
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			res, err := s.Search(ctx, src.SearchURL, q)
			if err != nil {
				s.logger.Warn("search failed for source", "name", src.Name, "error", err)
				return
			}
			// res may be shared with the fetcher's cache; tag a copy.
			books := slices.Clone(res.Books)
			for i := range books {
				if books[i].Distributor == "" {
					books[i].Distributor = src.Name
				}
			}
			mu.Lock()
			merged.Books = append(merged.Books, books...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	merged.Books = catalog.MergeBooks(merged.Books)
	return merged
}
