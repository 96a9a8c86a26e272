package fetch

import (
	"net/url"
	"strings"
)

// DefaultPublicProxyURL is the public CORS proxy used when allowed.
const DefaultPublicProxyURL = "https://corsproxy.io/?url="

// DefaultVendorHosts are catalog hosts that are always reached through a
// proxy and asked for XML.
var DefaultVendorHosts = []string{"palaceproject.io", "thepalaceproject.org"}

// ProxyKind identifies which proxy, if any, a request goes through.
type ProxyKind int

const (
	ProxyNone ProxyKind = iota
	ProxyOwn
	ProxyPublic
)

func (k ProxyKind) String() string {
	switch k {
	case ProxyOwn:
		return "own"
	case ProxyPublic:
		return "public"
	}
	return "none"
}

// ProxyConfig controls how cross-origin catalogs are reached.
type ProxyConfig struct {
	// OwnProxyURL is a proxy we operate, addressed as <OwnProxyURL>?url=<target>.
	// It forwards Authorization headers.
	OwnProxyURL string
	// PublicProxyURL is a prefix the encoded target is appended to.
	PublicProxyURL   string
	AllowPublicProxy bool
	// ForceProxy sends every request through a proxy.
	ForceProxy bool
	// SkipCORSCheck disables probing and treats every host as CORS-enabled.
	SkipCORSCheck bool
	VendorHosts   []string
	// Origin is sent on probes and compared against Access-Control-Allow-Origin.
	Origin string
}

// DefaultProxyConfig returns the defaults: no own proxy, the public proxy
// configured but disabled, and the Palace vendor hosts.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		PublicProxyURL: DefaultPublicProxyURL,
		VendorHosts:    append([]string(nil), DefaultVendorHosts...),
	}
}

// Route is the URL a request should actually be sent to.
type Route struct {
	URL      string
	Upstream string
	Proxy    ProxyKind
}

// Proxied reports whether the route goes through a proxy.
func (r Route) Proxied() bool {
	return r.Proxy != ProxyNone
}

// Direct returns a route straight to target.
func Direct(target string) Route {
	return Route{URL: target, Upstream: target, Proxy: ProxyNone}
}

// IsVendorHost reports whether rawURL's host is, or is a subdomain of, one
// of the vendor hosts.
func (c ProxyConfig) IsVendorHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, v := range c.VendorHosts {
		v = strings.ToLower(strings.TrimPrefix(v, "."))
		if host == v || strings.HasSuffix(host, "."+v) {
			return true
		}
	}
	return false
}

// PreferredProxy returns the best available proxy: ours, then the public
// one when allowed.
func (c ProxyConfig) PreferredProxy() ProxyKind {
	switch {
	case c.OwnProxyURL != "":
		return ProxyOwn
	case c.AllowPublicProxy && c.PublicProxyURL != "":
		return ProxyPublic
	}
	return ProxyNone
}

// Via returns the route for target through proxy kind k. ProxyNone, or a
// proxy that is not configured, yields a direct route.
func (c ProxyConfig) Via(target string, k ProxyKind) Route {
	switch {
	case k == ProxyOwn && c.OwnProxyURL != "":
		sep := "?"
		if strings.Contains(c.OwnProxyURL, "?") {
			sep = "&"
		}
		return Route{URL: c.OwnProxyURL + sep + "url=" + url.QueryEscape(target), Upstream: target, Proxy: ProxyOwn}
	case k == ProxyPublic && c.PublicProxyURL != "":
		return Route{URL: c.PublicProxyURL + url.QueryEscape(target), Upstream: target, Proxy: ProxyPublic}
	}
	return Direct(target)
}

// Proxied returns target routed through the preferred proxy.
func (c ProxyConfig) Proxied(target string) Route {
	return c.Via(target, c.PreferredProxy())
}
