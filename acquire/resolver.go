// Package acquire walks acquisition and borrow links to the URL the
// publication can actually be downloaded from.
package acquire

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/madeddie/mebooks/credentials"
	"github.com/madeddie/mebooks/fetch"
	"github.com/madeddie/mebooks/opds"
)

// DefaultMaxRedirects bounds the number of request attempts per resolution.
const DefaultMaxRedirects = 5

// Options configures a Resolver.
type Options struct {
	MaxRedirects int
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Resolver resolves acquisition chains.
type Resolver struct {
	client       fetch.Doer
	prober       *fetch.Prober
	cfg          fetch.ProxyConfig
	maxRedirects int
	maxBody      int64
	logger       *slog.Logger
}

// NewResolver creates a Resolver. client must not follow redirects.
func NewResolver(client fetch.Doer, prober *fetch.Prober, cfg fetch.ProxyConfig, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if prober == nil {
		prober = fetch.NewProber(client, cfg, opts.Logger)
	}
	return &Resolver{
		client:       client,
		prober:       prober,
		cfg:          cfg,
		maxRedirects: opts.MaxRedirects,
		maxBody:      opts.MaxBodyBytes,
		logger:       opts.Logger,
	}
}

// link is a candidate found in an acquisition response.
type link struct {
	href string
	typ  string
}

// variant holds what differs between the OPDS 1 and OPDS 2 resolvers.
type variant struct {
	name   string
	accept string
	// extract finds the next link in a successful response body.
	extract func(data []byte) (link, bool)
}

// ResolveOPDS1 resolves an OPDS 1 acquisition link. An empty string with
// a nil error means the chain could not be resolved.
func (r *Resolver) ResolveOPDS1(ctx context.Context, href string, cred *credentials.Credential) (string, error) {
	return r.resolve(ctx, href, cred, opds1Variant)
}

// ResolveOPDS2 resolves an OPDS 2 acquisition link. An empty string with
// a nil error means the chain could not be resolved.
func (r *Resolver) ResolveOPDS2(ctx context.Context, href string, cred *credentials.Credential) (string, error) {
	return r.resolve(ctx, href, cred, opds2Variant)
}

// Resolve dispatches on version. With VersionAuto the acquisition link's
// media type decides, and a link of unknown type is resolved as OPDS 1.
func (r *Resolver) Resolve(ctx context.Context, href string, version opds.Version, mediaType string, cred *credentials.Credential) (string, error) {
	if version == opds.VersionAuto || version == "" {
		version = opds.VersionForMediaType(mediaType)
	}
	if version == opds.Version2 {
		return r.ResolveOPDS2(ctx, href, cred)
	}
	return r.ResolveOPDS1(ctx, href, cred)
}

func (r *Resolver) resolve(ctx context.Context, href string, cred *credentials.Credential, v variant) (string, error) {
	if cred != nil && cred.IsZero() {
		cred = nil
	}
	op := "resolve " + v.name + " acquisition"
	route, err := r.routeFor(ctx, op, href, cred)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < r.maxRedirects; attempt++ {
		resp, err := r.request(ctx, route, cred, v.accept)
		if err != nil {
			return "", fetch.TransportError(op, route.Upstream, route.Proxied(), err)
		}
		logger := r.logger.With("url", route.Upstream, "status", resp.StatusCode, "proxy", route.Proxy.String())

		switch {
		case resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != "":
			drainBody(resp)
			final := opds.ResolveURL(route.Upstream, resp.Header.Get("Location"))
			logger.Debug("acquisition redirected", "location", final)
			return final, nil

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if isContentType(resp.Header.Get("Content-Type")) {
				drainBody(resp)
				return route.Upstream, nil
			}
			body, err := fetch.ReadBodyOnce(resp, route, r.maxBody)
			if err != nil {
				return "", fetch.TransportError(op, route.Upstream, route.Proxied(), err)
			}
			next, ok := v.extract(body.Data)
			if !ok {
				if loc := body.Header.Get("Location"); loc != "" {
					return opds.ResolveURL(route.Upstream, loc), nil
				}
				logger.Warn("acquisition response has no usable link")
				return "", nil
			}
			target := opds.ResolveURL(route.Upstream, next.href)
			if !isAcquisitionDocument(next.typ) {
				return target, nil
			}
			logger.Debug("following acquisition document", "next", target, "type", next.typ)
			if route, err = r.routeFor(ctx, op, target, cred); err != nil {
				return "", err
			}

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			if !route.Proxied() && !r.cfg.SkipCORSCheck && resp.Header.Get("Access-Control-Allow-Origin") == "" {
				drainBody(resp)
				switch r.cfg.PreferredProxy() {
				case fetch.ProxyOwn:
					logger.Debug("auth challenge unreadable directly, retrying through own proxy")
					route = r.cfg.Via(route.Upstream, fetch.ProxyOwn)
					continue
				case fetch.ProxyPublic:
					return "", &fetch.Error{
						Kind: fetch.KindProxyCapability, Op: op, URL: route.Upstream, Status: resp.StatusCode,
						ProxyUsed: true, Hint: "the public proxy cannot forward credentials; configure your own proxy",
					}
				}
				return "", &fetch.Error{
					Kind: fetch.KindProxyCapability, Op: op, URL: route.Upstream, Status: resp.StatusCode,
					Hint: "no CORS proxy is configured; set OWN_PROXY_URL",
				}
			}
			return "", r.classify(op, route, resp)

		default:
			return "", r.classify(op, route, resp)
		}
	}
	r.logger.Warn("acquisition chain exhausted", "url", href, "attempts", r.maxRedirects)
	return "", nil
}

// routeFor picks direct or proxied transport for href. The public proxy
// strips Authorization, so it cannot carry a credentialed request.
func (r *Resolver) routeFor(ctx context.Context, op, href string, cred *credentials.Credential) (fetch.Route, error) {
	route := r.prober.MaybeProxyForCors(ctx, href, fetch.ProbeOptions{Credential: cred})
	if route.Proxy == fetch.ProxyPublic && cred != nil {
		return route, &fetch.Error{
			Kind: fetch.KindProxyCapability, Op: op, URL: href, ProxyUsed: true,
			Hint: "the public proxy strips Authorization headers",
		}
	}
	return route, nil
}

// request sends the borrow request. Credentialed endpoints usually expect
// GET; anonymous OPDS borrow links expect POST. A 405 swaps the method.
func (r *Resolver) request(ctx context.Context, route fetch.Route, cred *credentials.Credential, accept string) (*http.Response, error) {
	methods := [2]string{http.MethodPost, http.MethodGet}
	if cred != nil {
		methods = [2]string{http.MethodGet, http.MethodPost}
	}
	resp, err := r.send(ctx, methods[0], route, cred, accept)
	if err != nil || resp.StatusCode != http.StatusMethodNotAllowed {
		return resp, err
	}
	drainBody(resp)
	return r.send(ctx, methods[1], route, cred, accept)
}

func (r *Resolver) send(ctx context.Context, method string, route fetch.Route, cred *credentials.Credential, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, route.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if r.cfg.Origin != "" {
		req.Header.Set("Origin", r.cfg.Origin)
	}
	if cred != nil && route.Proxy != fetch.ProxyPublic {
		req.Header.Set("Authorization", cred.BasicAuth())
	}
	return r.client.Do(req)
}

func (r *Resolver) classify(op string, route fetch.Route, resp *http.Response) error {
	body, err := fetch.ReadBodyOnce(resp, route, r.maxBody)
	var data []byte
	if err == nil {
		data = body.Data
	}
	return fetch.ClassifyResponse(op, route.Upstream, resp, data, route)
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}

// isContentType reports whether a response is the publication itself.
func isContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, opds.MediaTypeEPUB) ||
		strings.Contains(ct, opds.MediaTypePDF) ||
		strings.Contains(ct, "application/octet-stream")
}

// isAcquisitionDocument reports whether a link points at another OPDS
// document rather than content.
func isAcquisitionDocument(typ string) bool {
	typ = strings.ToLower(typ)
	return strings.Contains(typ, opds.MediaTypeAtom) ||
		strings.Contains(typ, opds.MediaTypeOPDSPub) ||
		strings.HasPrefix(typ, opds.MediaTypeOPDS2)
}

// preferredType reports whether typ is content or a DRM wrapper around it.
func preferredType(typ string) bool {
	typ = strings.ToLower(typ)
	for _, t := range []string{"epub", "pdf", "adobe.adept", "readium.lcp"} {
		if strings.Contains(typ, t) {
			return true
		}
	}
	return false
}
