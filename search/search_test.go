package search

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madeddie/mebooks/cache"
	"github.com/madeddie/mebooks/fetch"
	"github.com/madeddie/mebooks/opds"
)

func TestBuildOpenSearchURL(t *testing.T) {
	params := map[string]string{"searchTerms": "science fiction", "startIndex": "11"}
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"query form", "https://x/search{?searchTerms,count?,startIndex?}", "https://x/search?searchTerms=science%20fiction&startIndex=11"},
		{"query form after query", "https://x/search?lang=en{?searchTerms}", "https://x/search?lang=en&searchTerms=science%20fiction"},
		{"simple", "https://x/s?q={searchTerms}&start={startIndex?}&n={count?}", "https://x/s?q=science%20fiction&start=11&n="},
		{"prefixed", "https://x/s?q={searchTerms}&l={os:language?}&i={os:startIndex?}", "https://x/s?q=science%20fiction&l=&i=11"},
		{"no expressions", "https://x/all", "https://x/all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildOpenSearchURL(tt.template, params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildOpenSearchURLErrors(t *testing.T) {
	_, err := BuildOpenSearchURL("https://x/s?q={searchTerms}", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"searchTerms"`)

	_, err = BuildOpenSearchURL("https://x/s{?searchTerms}", map[string]string{"searchTerms": ""})
	assert.Error(t, err)

	_, err = BuildOpenSearchURL("https://x/s?q={searchTerms", map[string]string{"searchTerms": "a"})
	assert.Error(t, err)
}

func TestParseDescription(t *testing.T) {
	desc, err := ParseDescription([]byte(`<?xml version="1.0"?>
<OpenSearchDescription xmlns="http://a9.com/-/spec/opensearch/1.1/">
  <ShortName>Library</ShortName>
  <Url type="text/html" template="https://x/html?q={searchTerms}"/>
  <Url type="application/atom+xml;profile=opds-catalog" template=" /opds/search?q={searchTerms} "/>
</OpenSearchDescription>`))
	require.NoError(t, err)
	assert.Equal(t, "Library", desc.ShortName)
	tmpl, err := desc.Template()
	require.NoError(t, err)
	assert.Equal(t, "/opds/search?q={searchTerms}", tmpl)

	_, err = ParseDescription([]byte(`<feed/>`))
	assert.Error(t, err)

	_, err = (&Description{}).Template()
	assert.Error(t, err)
}

func TestSearchThroughDescription(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/osd.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/opensearchdescription+xml")
		io.WriteString(w, `<OpenSearchDescription><Url type="application/atom+xml" template="/search?q={searchTerms}&amp;start={startIndex?}"/></OpenSearchDescription>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/atom+xml")
		q := r.URL.Query().Get("q") + r.URL.Query().Get("query")
		io.WriteString(w, `<feed xmlns="http://www.w3.org/2005/Atom"><title>Results</title>
<entry><id>urn:1</id><title>Found: `+q+`</title>
<link rel="http://opds-spec.org/acquisition" type="application/epub+zip" href="/1.epub"/></entry></feed>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := fetch.NewFetcher(fetch.NewHTTPClient(fetch.ClientConfig{RetryMax: 0}, nil), fetch.Options{})
	s := New(f, nil)

	res, err := s.Search(context.Background(), srv.URL+"/osd.xml", Query{Terms: "dune"})
	require.NoError(t, err)
	require.Len(t, res.Books, 1)
	assert.Equal(t, "Found: dune", res.Books[0].Title)

	all := s.SearchAll(context.Background(), []Source{
		{Name: "Local", SearchURL: srv.URL + "/search{?query}"},
		{Name: "Broken", SearchURL: srv.URL + "/missing.xml"},
		{Name: "Unsearchable"},
	}, Query{Terms: "dune"})
	require.Len(t, all.Books, 1)
	assert.Equal(t, "Local", all.Books[0].Distributor)
}

func TestSearchAllLeavesCachedResultsUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		io.WriteString(w, `<feed xmlns="http://www.w3.org/2005/Atom"><title>Results</title>
<entry><id>urn:1</id><title>Dune</title>
<link rel="http://opds-spec.org/acquisition" type="application/epub+zip" href="/1.epub"/></entry></feed>`)
	}))
	defer srv.Close()

	f := fetch.NewFetcher(fetch.NewHTTPClient(fetch.ClientConfig{RetryMax: 0}, nil), fetch.Options{
		Cache: cache.NewETagCache(4, nil),
	})
	all := New(f, nil).SearchAll(context.Background(), []Source{
		{Name: "Library A", SearchURL: srv.URL + "/search{?searchTerms}"},
	}, Query{Terms: "dune"})
	require.Len(t, all.Books, 1)
	assert.Equal(t, "Library A", all.Books[0].Distributor)

	res, err := f.FetchCatalog(context.Background(), srv.URL+"/search?searchTerms=dune", opds.VersionAuto)
	require.NoError(t, err)
	require.Len(t, res.Books, 1)
	assert.Empty(t, res.Books[0].Distributor)
}
