// Package fetch retrieves OPDS catalogs from the network: it decides when
// a CORS proxy is needed, negotiates the format, sniffs mislabelled bodies,
// and classifies failures for the UI.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/madeddie/mebooks/cache"
	"github.com/madeddie/mebooks/catalog"
	"github.com/madeddie/mebooks/credentials"
	"github.com/madeddie/mebooks/opds"
)

// Accept headers for catalog requests.
const (
	AcceptOPDS1 = "application/atom+xml;profile=opds-catalog;kind=acquisition, " +
		"application/atom+xml;profile=opds-catalog;kind=navigation, " +
		"application/atom+xml;q=0.9, application/xml;q=0.8, text/xml;q=0.7"
	AcceptOPDS2 = "application/opds+json, application/json;q=0.9"
	AcceptAny   = "application/opds+json, application/atom+xml;profile=opds-catalog;q=0.9, " +
		"application/atom+xml;q=0.8, application/json;q=0.7, application/xml;q=0.6, */*;q=0.1"
)

// DefaultMaxRedirects bounds manually followed redirects.
const DefaultMaxRedirects = 5

// Options configures a Fetcher.
type Options struct {
	Proxy        ProxyConfig
	Credentials  credentials.Store
	Cache        *cache.ETagCache
	MaxRedirects int
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Fetcher loads and parses catalogs.
type Fetcher struct {
	client       Doer
	cfg          ProxyConfig
	creds        credentials.Store
	cache        *cache.ETagCache
	maxRedirects int
	maxBody      int64
	logger       *slog.Logger
}

// NewFetcher creates a Fetcher. client must not follow redirects; see
// NewHTTPClient.
func NewFetcher(client Doer, opts Options) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{
		client:       client,
		cfg:          opts.Proxy,
		creds:        opts.Credentials,
		cache:        opts.Cache,
		maxRedirects: opts.MaxRedirects,
		maxBody:      opts.MaxBodyBytes,
		logger:       opts.Logger,
	}
}

// Load is the UI boundary: it never fails, reporting problems in
// Result.Error as a readable sentence.
func (f *Fetcher) Load(ctx context.Context, feedURL string, version opds.Version) *catalog.Result {
	res, err := f.FetchCatalog(ctx, feedURL, version)
	if err != nil {
		f.logger.Warn("catalog load failed", "url", feedURL, "error", err)
		res = catalog.NewResult()
		res.Error = UserMessage(err)
	}
	return res
}

// FetchCatalog fetches feedURL and parses it as OPDS. version forces a
// parser; VersionAuto negotiates and sniffs.
func (f *Fetcher) FetchCatalog(ctx context.Context, feedURL string, version opds.Version) (*catalog.Result, error) {
	accept := f.acceptFor(feedURL, version)
	cred := f.credentialFor(ctx, feedURL)

	var etag string
	var cached *cache.Entry
	if f.cache != nil {
		if e, ok := f.cache.Get(feedURL); ok {
			cached, etag = e, e.ETag
		}
	}

	resp, route, err := f.exchange(ctx, "fetch catalog", feedURL, accept, cred, etag)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified && cached != nil {
		drain(resp)
		f.logger.Debug("catalog not modified", "url", feedURL)
		return cached.Result, nil
	}
	body, err := ReadBodyOnce(resp, route, f.maxBody)
	if err != nil {
		return nil, TransportError("read catalog", feedURL, route.Proxied(), err)
	}
	if !isSuccess(body.Status) {
		return nil, ClassifyResponse("fetch catalog", feedURL, resp, body.Data, route)
	}

	res, err := parseCatalog(body, version)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			fe.URL = feedURL
			fe.ProxyUsed = route.Proxied()
		}
		return nil, err
	}
	if f.cache != nil {
		f.cache.Put(feedURL, body.Header.Get("ETag"), res)
	}
	return res, nil
}

// FetchDocument fetches an auxiliary document, such as an OpenSearch
// description, through the same direct-or-proxy strategy.
func (f *Fetcher) FetchDocument(ctx context.Context, docURL, accept string) (*Body, error) {
	cred := f.credentialFor(ctx, docURL)
	resp, route, err := f.exchange(ctx, "fetch document", docURL, accept, cred, "")
	if err != nil {
		return nil, err
	}
	body, err := ReadBodyOnce(resp, route, f.maxBody)
	if err != nil {
		return nil, TransportError("read document", docURL, route.Proxied(), err)
	}
	if !isSuccess(body.Status) {
		return nil, ClassifyResponse("fetch document", docURL, resp, body.Data, route)
	}
	return body, nil
}

func (f *Fetcher) acceptFor(feedURL string, version opds.Version) string {
	switch {
	case version == opds.Version1, f.cfg.IsVendorHost(feedURL):
		return AcceptOPDS1
	case version == opds.Version2:
		return AcceptOPDS2
	}
	return AcceptAny
}

func (f *Fetcher) credentialFor(ctx context.Context, target string) *credentials.Credential {
	if f.creds == nil {
		return nil
	}
	c, ok, err := f.creds.FindCredentialForURL(ctx, target)
	if err != nil {
		f.logger.Warn("credential lookup failed", "url", target, "error", err)
		return nil
	}
	if !ok || c.IsZero() {
		return nil
	}
	return &c
}

// exchange performs the request, retrying once through the proxy when a
// direct response is a redirect or lacks CORS headers, then follows any
// remaining redirects by hand. The returned response has an unread body.
func (f *Fetcher) exchange(ctx context.Context, op, target, accept string, cred *credentials.Credential, etag string) (*http.Response, Route, error) {
	route := Direct(target)
	if f.cfg.ForceProxy || f.cfg.IsVendorHost(target) {
		route = f.cfg.Proxied(target)
	}

	resp, err := f.send(ctx, route, accept, cred, etag)
	if err != nil && !route.Proxied() {
		if proxied := f.cfg.Proxied(target); proxied.Proxied() {
			f.logger.Debug("direct fetch failed, retrying through proxy", "url", target, "error", err)
			route = proxied
			resp, err = f.send(ctx, route, accept, cred, etag)
		}
	} else if err == nil && !route.Proxied() && f.needsProxy(resp) {
		if proxied := f.cfg.Proxied(target); proxied.Proxied() {
			drain(resp)
			route = proxied
			resp, err = f.send(ctx, route, accept, cred, etag)
		}
	}
	if err != nil {
		return nil, route, TransportError(op, target, route.Proxied(), err)
	}

	for i := 0; isRedirect(resp.StatusCode) && resp.StatusCode != http.StatusNotModified; i++ {
		loc := resp.Header.Get("Location")
		if loc == "" || i >= f.maxRedirects {
			break
		}
		drain(resp)
		next := opds.ResolveURL(route.Upstream, loc)
		route = f.cfg.Via(next, route.Proxy)
		f.logger.Debug("following redirect", "from", target, "to", next)
		resp, err = f.send(ctx, route, accept, cred, etag)
		if err != nil {
			return nil, route, TransportError(op, next, route.Proxied(), err)
		}
	}
	return resp, route, nil
}

// needsProxy reports whether a direct response would be unusable from a
// browser origin.
func (f *Fetcher) needsProxy(resp *http.Response) bool {
	if resp.StatusCode == http.StatusNotModified {
		return false
	}
	if isRedirect(resp.StatusCode) {
		return true
	}
	return !f.cfg.SkipCORSCheck && resp.Header.Get("Access-Control-Allow-Origin") == ""
}

func (f *Fetcher) send(ctx context.Context, route Route, accept string, cred *credentials.Credential, etag string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if f.cfg.Origin != "" {
		req.Header.Set("Origin", f.cfg.Origin)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	// Public proxies drop or leak Authorization; only send it direct or
	// through our own proxy.
	if cred != nil && route.Proxy != ProxyPublic {
		req.Header.Set("Authorization", cred.BasicAuth())
	}
	return f.client.Do(req)
}

// parseCatalog picks a parser from the version hint, the Content-Type and
// finally the body itself.
func parseCatalog(body *Body, version opds.Version) (*catalog.Result, error) {
	base := body.Route.Upstream
	ct := strings.ToLower(body.ContentType)
	sniffed := opds.DetectVersion(body.Data)

	switch {
	case version == opds.Version1:
		return parseOPDS1(body.Data, base)
	case version == opds.Version2:
		return parseOPDS2(body.Data, base, body.ContentType, sniffed)
	case strings.Contains(ct, "json"):
		return parseOPDS2(body.Data, base, body.ContentType, sniffed)
	case strings.Contains(ct, "xml"):
		res, err := opds.ParseOPDS1(body.Data, base)
		if err != nil && sniffed == opds.Version2 {
			return parseOPDS2(body.Data, base, body.ContentType, sniffed)
		}
		if err != nil {
			return nil, &Error{Kind: KindMalformed, Op: "parse catalog", ContentType: body.ContentType, Err: err}
		}
		return res, nil
	}

	var res *catalog.Result
	var err error
	switch sniffed {
	case opds.Version2:
		res, err = opds.ParseOPDS2Bytes(body.Data, base)
	case opds.Version1:
		res, err = opds.ParseOPDS1(body.Data, base)
	default:
		err = errors.New("body is neither XML nor JSON")
	}
	if err != nil {
		return nil, &Error{Kind: KindAmbiguousFormat, Op: "parse catalog", ContentType: body.ContentType, Err: err}
	}
	return res, nil
}

func parseOPDS1(data []byte, base string) (*catalog.Result, error) {
	res, err := opds.ParseOPDS1(data, base)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Op: "parse catalog", Err: err}
	}
	return res, nil
}

// parseOPDS2 parses JSON, falling back to XML when the body is really an
// Atom document. A body that is neither is reported with its Content-Type.
func parseOPDS2(data []byte, base, contentType string, sniffed opds.Version) (*catalog.Result, error) {
	res, err := opds.ParseOPDS2Bytes(data, base)
	if err == nil {
		return res, nil
	}
	if sniffed == opds.Version1 || bytes.HasPrefix(bytes.TrimSpace(data), []byte("<")) {
		res, xmlErr := opds.ParseOPDS1(data, base)
		if xmlErr != nil {
			return nil, &Error{Kind: KindAmbiguousFormat, Op: "parse catalog", ContentType: contentType, Err: xmlErr}
		}
		return res, nil
	}
	return nil, &Error{Kind: KindMalformed, Op: "parse catalog", Err: err}
}
