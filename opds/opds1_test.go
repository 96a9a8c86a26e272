package opds

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madeddie/mebooks/catalog"
)

const base = "https://library.example.org/opds/feed.xml"

func TestParseOPDS1StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want string
	}{
		{"unterminated", `<feed><entry><title>Missing end`, "invalid XML"},
		{"wrong root", `<notfeed></notfeed>`, "root <feed>"},
		{"empty feed", `<feed></feed>`, "no entries"},
		{"content free entry", `<feed><entry></entry></feed>`, "no recognizable OPDS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOPDS1([]byte(tt.xml), base)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestParseOPDS1MetadataOnlyFeed(t *testing.T) {
	res, err := ParseOPDS1([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><title>Empty shelf</title></feed>`), base)
	require.NoError(t, err)
	assert.Empty(t, res.Books)
	assert.Empty(t, res.NavigationLinks)
}

const acquisitionFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:opds="http://opds-spec.org/2010/catalog"
      xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/"
      xmlns:thr="http://purl.org/syndication/thread/1.0"
      xmlns:dcterms="http://purl.org/dc/terms/"
      xmlns:schema="http://schema.org/"
      xmlns:bibframe="http://bibframe.org/vocab/">
  <id>urn:feed</id>
  <title>New Arrivals</title>
  <opensearch:totalResults>42</opensearch:totalResults>
  <opensearch:itemsPerPage> 10 </opensearch:itemsPerPage>
  <opensearch:startIndex>1</opensearch:startIndex>
  <link rel="next" href="/next"/>
  <link rel="previous" href="/prev"/>
  <link rel="search" type="application/opensearchdescription+xml" href="/search.xml"/>
  <link rel="http://opds-spec.org/facet" href="/avail/now" title="Available now"
        opds:facetGroup="Availability" opds:activeFacet="true" thr:count="12"/>
  <link rel="http://opds-spec.org/facet" href="/avail/all" title="All" opds:facetGroup="Availability"/>
  <link rel="http://opds-spec.org/facet" href="/sort/title" title="Title"/>
  <entry schema:additionalType="http://schema.org/EBook">
    <id>urn:book:1</id>
    <title>Wrapped</title>
    <author><name>Ann Author</name></author>
    <author><name>Bo Writer</name></author>
    <dcterms:publisher>Good Press</dcterms:publisher>
    <dcterms:issued>2020-01-01</dcterms:issued>
    <summary>A tale.</summary>
    <category scheme="http://schema.org/audience" term="Adult" label="Adult"/>
    <category scheme="http://librarysimplified.org/terms/genres/" term="Mystery"/>
    <schema:Series schema:name="Case Files" schema:position="2"/>
    <bibframe:distribution bibframe:ProviderName="Overdrive"/>
    <link rel="http://opds-spec.org/image" href="/covers/1.jpg"/>
    <link rel="collection" href="/collections/staff" title="Staff Picks"/>
    <link rel="collection" href="/collections/od" title="Overdrive"/>
    <link rel="http://opds-spec.org/acquisition/borrow" href="/borrow/1"
          type="application/atom+xml;type=entry;profile=opds-catalog">
      <opds:indirectAcquisition type="application/vnd.adobe.adept+xml">
        <opds:indirectAcquisition type="application/epub+zip"/>
      </opds:indirectAcquisition>
      <opds:availability status="available"/>
      <opds:holds total="0"/>
      <opds:copies total="3" available="2"/>
    </link>
  </entry>
  <entry>
    <id>urn:book:2</id>
    <title>Paper</title>
    <link rel="http://opds-spec.org/acquisition/borrow" href="/borrow/2"
          type="application/atom+xml;type=entry;profile=opds-catalog">
      <opds:indirectAcquisition type="application/vnd.adobe.adept+xml">
        <opds:indirectAcquisition type="application/pdf"/>
      </opds:indirectAcquisition>
    </link>
  </entry>
  <entry schema:additionalType="http://bib.schema.org/Audiobook">
    <id>urn:book:3</id>
    <title>Listen</title>
    <link rel="http://opds-spec.org/acquisition" href="/get/3" type="audio/mpeg"/>
  </entry>
  <entry>
    <title>Mysteries</title>
    <link rel="subsection" href="/mysteries" type="application/atom+xml;profile=opds-catalog;kind=acquisition"/>
  </entry>
</feed>`

func TestParseOPDS1AcquisitionFeed(t *testing.T) {
	res, err := ParseOPDS1([]byte(acquisitionFeed), base)
	require.NoError(t, err)
	require.Len(t, res.Books, 3)

	wrapped := res.Books[0]
	assert.Equal(t, "Wrapped", wrapped.Title)
	assert.Equal(t, "Ann Author, Bo Writer", wrapped.Author)
	assert.Equal(t, "urn:book:1", wrapped.ProviderID)
	assert.Equal(t, catalog.FormatEPUB, wrapped.Format)
	assert.Equal(t, "application/epub+zip", wrapped.AcquisitionMediaType)
	assert.Equal(t, catalog.MediumEBook, wrapped.MediumFormatCode)
	assert.Equal(t, "https://library.example.org/borrow/1", wrapped.DownloadURL)
	assert.Equal(t, "https://library.example.org/covers/1.jpg", wrapped.CoverImage)
	assert.Equal(t, "Good Press", wrapped.Publisher)
	assert.Equal(t, "2020-01-01", wrapped.PublicationDate)
	assert.Equal(t, "A tale.", wrapped.Summary)
	assert.Equal(t, "Overdrive", wrapped.Distributor)
	assert.Equal(t, "EBook", wrapped.PublicationTypeLabel)
	assert.Equal(t, []string{"Adult", "Mystery"}, wrapped.Subjects)
	assert.Equal(t, "available", wrapped.AvailabilityStatus)
	require.NotNil(t, wrapped.Availability)
	assert.Equal(t, 2, *wrapped.Availability.CopiesAvailable)
	require.NotNil(t, wrapped.Series)
	assert.Equal(t, "Case Files", wrapped.Series.Name)
	assert.Equal(t, 2.0, *wrapped.Series.Position)
	assert.Len(t, wrapped.Collections, 2)

	paper := res.Books[1]
	assert.Equal(t, catalog.FormatPDF, paper.Format)
	assert.Equal(t, "application/pdf", paper.AcquisitionMediaType)

	listen := res.Books[2]
	assert.Equal(t, catalog.FormatAudiobook, listen.Format)
	assert.Equal(t, catalog.MediumAudio, listen.MediumFormatCode)

	// The Overdrive collection is the distributor and is not hoisted.
	var navURLs []string
	for _, l := range res.NavigationLinks {
		navURLs = append(navURLs, l.URL)
	}
	assert.ElementsMatch(t, []string{
		"https://library.example.org/collections/staff",
		"https://library.example.org/mysteries",
	}, navURLs)

	assert.Equal(t, "https://library.example.org/next", res.Pagination.Next)
	assert.Equal(t, "https://library.example.org/prev", res.Pagination.Prev)
	require.NotNil(t, res.Pagination.TotalResults)
	assert.Equal(t, 42, *res.Pagination.TotalResults)
	assert.Equal(t, 10, *res.Pagination.ItemsPerPage)
	assert.Equal(t, 1, *res.Pagination.StartIndex)
	assert.Equal(t, "Showing 1-10 of 42", res.Pagination.Summary())
	assert.Equal(t, "https://library.example.org/search.xml", res.SearchURL)
}

func TestParseOPDS1Facets(t *testing.T) {
	res, err := ParseOPDS1([]byte(acquisitionFeed), base)
	require.NoError(t, err)

	require.Len(t, res.FacetGroups, 2)
	avail := res.FacetGroups[0]
	assert.Equal(t, "Availability", avail.Title)
	require.Len(t, avail.Links, 2)
	assert.True(t, avail.Links[0].IsActive)
	require.NotNil(t, avail.Links[0].Count)
	assert.Equal(t, 12, *avail.Links[0].Count)
	assert.False(t, avail.Links[1].IsActive)
	assert.Equal(t, DefaultFacetGroup, res.FacetGroups[1].Title)

	// facets and navigation come from disjoint elements
	facetURLs := map[string]bool{}
	for _, g := range res.FacetGroups {
		for _, l := range g.Links {
			facetURLs[l.URL] = true
		}
	}
	for _, l := range res.NavigationLinks {
		assert.False(t, facetURLs[l.URL], l.URL)
	}
	assert.Equal(t, 3, res.FacetLinkCount())
}

func TestParseOPDS1AcquisitionPreference(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title>
  <entry><id>a</id><title>Choose</title>
    <link rel="http://opds-spec.org/acquisition/buy" href="https://x/buy" type="text/html"/>
    <link rel="http://opds-spec.org/acquisition" href="https://x/book.pdf" type="application/pdf"/>
    <link rel="http://opds-spec.org/acquisition/open-access" href="https://x/book.epub" type="application/epub+zip"/>
  </entry>
  <entry><id>b</id><title>Second</title>
    <link rel="http://opds-spec.org/acquisition/buy" href="https://x/buy2" type="text/html"/>
    <link rel="http://opds-spec.org/acquisition" href="https://x/b.pdf" type="application/pdf"/>
  </entry>
</feed>`
	res, err := ParseOPDS1([]byte(feed), base)
	require.NoError(t, err)
	require.Len(t, res.Books, 2)

	assert.Equal(t, "https://x/book.epub", res.Books[0].DownloadURL)
	assert.True(t, res.Books[0].IsOpenAccess)
	assert.Len(t, res.Books[0].AlternativeFormats, 2)

	assert.Equal(t, "https://x/b.pdf", res.Books[1].DownloadURL)
	assert.False(t, res.Books[1].IsOpenAccess)
}

func TestParseOPDS1MergesDuplicates(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title>
  <entry><id>same</id><title>One</title>
    <link rel="http://opds-spec.org/acquisition" href="https://x/1.epub" type="application/epub+zip"/>
  </entry>
  <entry><id>same</id><title>One again</title><summary>Later summary</summary>
    <link rel="http://opds-spec.org/acquisition" href="https://x/1.epub" type="application/epub+zip"/>
  </entry>
</feed>`
	res, err := ParseOPDS1([]byte(feed), base)
	require.NoError(t, err)
	require.Len(t, res.Books, 1)
	assert.Equal(t, "One", res.Books[0].Title)
	assert.Equal(t, "Later summary", res.Books[0].Summary)
}

func TestParseOPDS1UndeclaredPrefixes(t *testing.T) {
	feed := `<feed><title>t</title>
  <link rel="http://opds-spec.org/facet" href="https://x/f" title="F" opds:facetGroup="G" opds:activeFacet="true"/>
  <entry><title>No ns</title>
    <link rel="http://opds-spec.org/acquisition" href="https://x/n.epub" type="application/epub+zip"/>
  </entry>
</feed>`
	res, err := ParseOPDS1([]byte(feed), base)
	require.NoError(t, err)
	require.Len(t, res.FacetGroups, 1)
	assert.Equal(t, "G", res.FacetGroups[0].Title)
	assert.True(t, res.FacetGroups[0].Links[0].IsActive)
	assert.Len(t, res.Books, 1)
}

func TestParseOPDS1IndirectDepthGuard(t *testing.T) {
	nested := `<link rel="http://opds-spec.org/acquisition/borrow" href="https://x/deep" type="application/vnd.adobe.adept+xml">`
	for range 10 {
		nested += `<opds:indirectAcquisition type="application/vnd.wrapper">`
	}
	nested += `<opds:indirectAcquisition type="application/epub+zip"/>`
	for range 10 {
		nested += `</opds:indirectAcquisition>`
	}
	nested += `</link>`
	feed := `<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opds="http://opds-spec.org/2010/catalog"><title>t</title>
  <entry><id>deep</id><title>Deep</title>` + nested + `</entry></feed>`

	res, err := ParseOPDS1([]byte(feed), base)
	require.NoError(t, err)
	require.Len(t, res.Books, 1)
	assert.Equal(t, "application/vnd.adobe.adept+xml", res.Books[0].AcquisitionMediaType)
}

func TestParseOPDS1BookEntryLinksStayOffNavigation(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>New Arrivals</title>
  <entry>
    <id>urn:a</id>
    <title>Book A</title>
    <link rel="http://opds-spec.org/acquisition/borrow" type="application/epub+zip" href="/works/a/borrow"/>
    <link rel="related" type="application/atom+xml;profile=opds-catalog;kind=acquisition" href="/works/a/related" title="Recommended Works"/>
  </entry>
  <entry>
    <id>urn:b</id>
    <title>Book B</title>
    <link rel="http://opds-spec.org/acquisition/borrow" type="application/epub+zip" href="/works/b/borrow"/>
    <link rel="related" type="application/atom+xml;profile=opds-catalog;kind=acquisition" href="/works/b/related" title="Recommended Works"/>
  </entry>
  <entry>
    <title>Staff Picks</title>
    <link rel="subsection" type="application/atom+xml;profile=opds-catalog;kind=acquisition" href="/picks"/>
  </entry>
</feed>`
	res, err := ParseOPDS1([]byte(feed), base)
	require.NoError(t, err)
	assert.Len(t, res.Books, 2)
	require.Len(t, res.NavigationLinks, 1)
	assert.Equal(t, "Staff Picks", res.NavigationLinks[0].Title)
	assert.Equal(t, "https://library.example.org/picks", res.NavigationLinks[0].URL)
}
