package acquire

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madeddie/mebooks/credentials"
	"github.com/madeddie/mebooks/fetch"
	"github.com/madeddie/mebooks/opds"
)

func newResolver(cfg fetch.ProxyConfig, opts Options) *Resolver {
	client := fetch.NewHTTPClient(fetch.ClientConfig{RetryMax: 0}, nil)
	return NewResolver(client, nil, cfg, opts)
}

func cred() *credentials.Credential {
	return &credentials.Credential{Username: "reader", Password: "secret"}
}

func TestResolveRedirectResolvesAgainstUpstream(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.Header().Set("Location", "../content/book.epub")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	got, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS2(context.Background(), srv.URL+"/loans/1/borrow", nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/loans/content/book.epub", got)
	assert.Equal(t, http.MethodPost, method.Load(), "anonymous borrow starts with POST")
}

func TestResolveMethodOrder(t *testing.T) {
	tests := []struct {
		name    string
		cred    *credentials.Credential
		allowed string
		calls   []string
	}{
		{"anonymous post accepted", nil, http.MethodPost, []string{"POST"}},
		{"anonymous falls back to get", nil, http.MethodGet, []string{"POST", "GET"}},
		{"credentialed get accepted", cred(), http.MethodGet, []string{"GET"}},
		{"credentialed falls back to post", cred(), http.MethodPost, []string{"GET", "POST"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, r.Method)
				if r.Method != tt.allowed {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, `{"url": "/files/book.epub"}`)
			}))
			defer srv.Close()

			got, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS2(context.Background(), srv.URL+"/borrow", tt.cred)
			require.NoError(t, err)
			assert.Equal(t, srv.URL+"/files/book.epub", got)
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestResolveOPDS2DirectContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/epub+zip")
		io.WriteString(w, "PK")
	}))
	defer srv.Close()

	got, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS2(context.Background(), srv.URL+"/book.epub", nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/book.epub", got)
}

func TestResolveOPDS1FollowsAcquisitionDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/borrow", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opds.MediaTypeOPDSEntry)
		io.WriteString(w, `<entry xmlns="http://www.w3.org/2005/Atom">
  <title>Loan</title>
  <link rel="self" href="/borrow"/>
  <link rel="http://opds-spec.org/acquisition" type="application/atom+xml;type=entry;profile=opds-catalog" href="/fulfill"/>
</entry>`)
	})
	mux.HandleFunc("/fulfill", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opds.MediaTypeOPDSEntry)
		io.WriteString(w, `<entry xmlns="http://www.w3.org/2005/Atom">
  <link rel="http://opds-spec.org/acquisition" type="text/html" href="/read-online"/>
  <link rel="http://opds-spec.org/acquisition" type="application/vnd.adobe.adept+xml" href="/license.acsm"/>
</entry>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS1(context.Background(), srv.URL+"/borrow", nil)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/license.acsm", got)
}

func TestResolveExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, `<entry><link rel="http://opds-spec.org/acquisition/borrow" type="application/atom+xml" href="/again"/></entry>`)
	}))
	defer srv.Close()

	got, err := newResolver(fetch.ProxyConfig{}, Options{MaxRedirects: 3}).ResolveOPDS1(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(3), hits.Load())
}

func TestResolveNoUsableLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status": "ok"}`)
	}))
	defer srv.Close()

	got, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS2(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveAuthChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", opds.MediaTypeAuthDoc)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"title":"Library","authentication":[{"type":"http://opds-spec.org/auth/basic","labels":{"login":"Card"}}]}`)
	}))
	defer srv.Close()

	_, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS2(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetch.ErrAuthRequired))
	fe, ok := fetch.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, fe.Status)
	require.NotNil(t, fe.AuthDocument)
	assert.Equal(t, "Card", fe.AuthDocument.Authentication[0].Labels.Login)
	assert.False(t, fe.ProxyUsed)
}

func TestResolveRetriesUnreadableChallengeThroughOwnProxy(t *testing.T) {
	var auth atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			return
		}
		if r.Header.Get("X-Test-Proxied") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Location", "/files/book.epub")
		w.WriteHeader(http.StatusSeeOther)
	}))
	defer upstream.Close()

	inner := fetch.NewHTTPClient(fetch.ClientConfig{RetryMax: 0}, nil)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := http.NewRequestWithContext(r.Context(), r.Method, r.URL.Query().Get("url"), nil)
		req.Header = r.Header.Clone()
		req.Header.Set("X-Test-Proxied", "1")
		resp, err := inner.Do(req)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.StatusCode)
	}))
	defer proxy.Close()

	r := newResolver(fetch.ProxyConfig{OwnProxyURL: proxy.URL}, Options{})
	got, err := r.ResolveOPDS1(context.Background(), upstream.URL+"/borrow", cred())
	require.NoError(t, err)
	assert.Equal(t, upstream.URL+"/files/book.epub", got)
	assert.Equal(t, cred().BasicAuth(), auth.Load(), "Authorization survives the own proxy")
}

func TestResolveProxyCapabilityErrors(t *testing.T) {
	challenge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer challenge.Close()

	t.Run("no proxy configured", func(t *testing.T) {
		_, err := newResolver(fetch.ProxyConfig{}, Options{}).ResolveOPDS1(context.Background(), challenge.URL, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fetch.ErrProxyCapability))
		fe, _ := fetch.AsError(err)
		assert.False(t, fe.ProxyUsed)
		assert.Contains(t, fe.Hint, "OWN_PROXY_URL")
	})

	t.Run("public proxy only", func(t *testing.T) {
		cfg := fetch.ProxyConfig{PublicProxyURL: "https://public.example/?u=", AllowPublicProxy: true}
		client := fetch.NewHTTPClient(fetch.ClientConfig{RetryMax: 0}, nil)
		// A prober that trusts every host keeps the first attempt direct.
		trusting := cfg
		trusting.SkipCORSCheck = true
		r := NewResolver(client, fetch.NewProber(client, trusting, nil), cfg, Options{})
		_, err := r.ResolveOPDS1(context.Background(), challenge.URL, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fetch.ErrProxyCapability))
		fe, _ := fetch.AsError(err)
		assert.True(t, fe.ProxyUsed)
	})

	t.Run("credentials through public proxy", func(t *testing.T) {
		cfg := fetch.ProxyConfig{PublicProxyURL: "https://public.example/?u=", AllowPublicProxy: true, ForceProxy: true}
		_, err := newResolver(cfg, Options{}).ResolveOPDS2(context.Background(), "https://lib.example/borrow", cred())
		require.Error(t, err)
		assert.True(t, errors.Is(err, fetch.ErrProxyCapability))
		fe, _ := fetch.AsError(err)
		assert.True(t, fe.ProxyUsed)
	})
}

func TestExtractOPDS2(t *testing.T) {
	tests := []struct {
		name string
		body string
		want link
		ok   bool
	}{
		{"location field", `{"contentLocation": "/c.pdf"}`, link{href: "/c.pdf"}, true},
		{"url beats links", `{"url": "/u", "links": [{"rel": "content", "href": "/l"}]}`, link{href: "/u"}, true},
		{"preferred type", `{"links": [
			{"rel": "http://opds-spec.org/acquisition", "href": "/web", "type": "text/html"},
			{"rel": ["http://opds-spec.org/acquisition"], "href": "/lcpl", "type": "application/vnd.readium.lcp.license.v1.0+json"}
		]}`, link{href: "/lcpl", typ: "application/vnd.readium.lcp.license.v1.0+json"}, true},
		{"self last", `{"links": [
			{"rel": "self", "href": "/me", "type": "application/opds-publication+json"},
			{"rel": "content", "href": "/book"}
		]}`, link{href: "/book"}, true},
		{"only self", `{"links": [{"rel": "self", "href": "/me"}]}`, link{href: "/me"}, true},
		{"unrelated rels", `{"links": [{"rel": "cover", "href": "/c.jpg"}]}`, link{}, false},
		{"not json", `<entry/>`, link{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractOPDS2([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractOPDS1(t *testing.T) {
	got, ok := extractOPDS1([]byte(`<feed><entry>
  <link rel="alternate" href="/page"/>
  <link rel="http://opds-spec.org/acquisition/loan" type="text/html" href="/loan"/>
  <link rel="http://opds-spec.org/acquisition" type="application/pdf" href="/book.pdf"/>
</entry></feed>`))
	require.True(t, ok)
	assert.Equal(t, "/book.pdf", got.href)

	got, ok = extractOPDS1([]byte(`<entry><link rel="borrow" href="/first"/><link rel="loan" href="/second"/></entry>`))
	require.True(t, ok)
	assert.Equal(t, "/first", got.href)

	_, ok = extractOPDS1([]byte(`<entry><link rel="alternate" href="/x"/></entry>`))
	assert.False(t, ok)
}

func TestResolveChoosesVariantFromLinkType(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		version   opds.Version
		mediaType string
		accept    string
	}{
		{"atom link on json-looking path", "/feed.json/borrow", opds.VersionAuto, "application/atom+xml;type=entry;profile=opds-catalog", opds1Variant.accept},
		{"publication link", "/borrow", opds.VersionAuto, "application/opds-publication+json", opds2Variant.accept},
		{"unknown type", "/books.json", opds.VersionAuto, "", opds1Variant.accept},
		{"explicit version wins", "/borrow", opds.Version2, "application/atom+xml", opds2Variant.accept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var accept atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				accept.Store(r.Header.Get("Accept"))
				w.Header().Set("Content-Type", "application/epub+zip")
				io.WriteString(w, "PK")
			}))
			defer srv.Close()

			got, err := newResolver(fetch.ProxyConfig{}, Options{}).Resolve(context.Background(), srv.URL+tt.path, tt.version, tt.mediaType, nil)
			require.NoError(t, err)
			assert.Equal(t, srv.URL+tt.path, got)
			assert.Equal(t, tt.accept, accept.Load())
		})
	}
}
