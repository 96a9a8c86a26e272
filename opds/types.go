// Package opds parses OPDS 1.x Atom feeds and OPDS 2.0 JSON feeds into the
// normalized catalog model, and renders catalog lanes back out as OPDS 1
// acquisition feeds.
package opds

import "encoding/xml"

// XML namespaces used in OPDS catalogs.
const (
	NSAtom       = "http://www.w3.org/2005/Atom"
	NSDC         = "http://purl.org/dc/terms/"
	NSOPDS       = "http://opds-spec.org/2010/catalog"
	NSOpenSearch = "http://a9.com/-/spec/opensearch/1.1/"
	NSThr        = "http://purl.org/syndication/thread/1.0"
	NSSchema     = "http://schema.org/"
	NSBibframe   = "http://bibframe.org/vocab/"

	// Link relations.
	RelSelf        = "self"
	RelStart       = "start"
	RelSubsection  = "subsection"
	RelCollection  = "collection"
	RelSearch      = "search"
	RelFacet       = "http://opds-spec.org/facet"
	RelAcquisition = "http://opds-spec.org/acquisition"
	RelOpenAccess  = "http://opds-spec.org/acquisition/open-access"
	RelBorrow      = "http://opds-spec.org/acquisition/borrow"
	RelImage       = "http://opds-spec.org/image"
	RelThumbnail   = "http://opds-spec.org/image/thumbnail"
	RelStanzaCover = "x-stanza-cover-image"
	RelAlternate   = "alternate"

	// Media types.
	MediaTypeOPDSNav    = "application/atom+xml;profile=opds-catalog;kind=navigation"
	MediaTypeOPDSAcq    = "application/atom+xml;profile=opds-catalog;kind=acquisition"
	MediaTypeOPDSEntry  = "application/atom+xml;type=entry;profile=opds-catalog"
	MediaTypeAtom       = "application/atom+xml"
	MediaTypeOPDS2      = "application/opds+json"
	MediaTypeOPDSPub    = "application/opds-publication+json"
	MediaTypeAuthDoc    = "application/vnd.opds.authentication.v1.0+json"
	MediaTypeOpenSearch = "application/opensearchdescription+xml"
	MediaTypeEPUB       = "application/epub+zip"
	MediaTypePDF        = "application/pdf"
)

// The decoding types below deliberately omit namespaces from their struct
// tags. encoding/xml then matches on local names only, which tolerates the
// many feeds that use prefixes like opds: without declaring them.

// Feed is an Atom feed with OPDS extensions.
type Feed struct {
	XMLName xml.Name
	ID      string  `xml:"id"`
	Title   string  `xml:"title"`
	Updated string  `xml:"updated"`
	Icon    string  `xml:"icon"`
	Links   []Link  `xml:"link"`
	Entries []Entry `xml:"entry"`

	// OpenSearch counters, kept as text and parsed leniently.
	TotalResults string `xml:"totalResults"`
	ItemsPerPage string `xml:"itemsPerPage"`
	StartIndex   string `xml:"startIndex"`
}

// Entry is an Atom entry with OPDS, Dublin Core, Schema.org and BIBFRAME
// extensions.
type Entry struct {
	ID             string        `xml:"id"`
	Title          string        `xml:"title"`
	Updated        string        `xml:"updated"`
	Published      string        `xml:"published"`
	Issued         string        `xml:"issued"`
	Publisher      string        `xml:"publisher"`
	Language       string        `xml:"language"`
	Identifiers    []string      `xml:"identifier"`
	Summary        *Text         `xml:"summary"`
	Content        *Text         `xml:"content"`
	Authors        []Person      `xml:"author"`
	Contributors   []Person      `xml:"contributor"`
	Categories     []Category    `xml:"category"`
	Links          []Link        `xml:"link"`
	Series         []SeriesRef   `xml:"Series"`
	SeriesLower    []SeriesRef   `xml:"series"`
	Distribution   *Distribution `xml:"distribution"`
	AdditionalType string        `xml:"additionalType,attr"`
}

// Person is an Atom author or contributor.
type Person struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

// Text is Atom text content. Inner holds the raw markup for xhtml bodies.
type Text struct {
	Type  string `xml:"type,attr"`
	Body  string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

// Link is an Atom link with OPDS extensions.
type Link struct {
	Rel         string `xml:"rel,attr"`
	Href        string `xml:"href,attr"`
	Type        string `xml:"type,attr"`
	Title       string `xml:"title,attr"`
	Count       string `xml:"count,attr"`
	FacetGroup  string `xml:"facetGroup,attr"`
	ActiveFacet string `xml:"activeFacet,attr"`

	IndirectAcquisitions []IndirectAcquisition `xml:"indirectAcquisition"`
	Availability         *LinkAvailability     `xml:"availability"`
	Holds                *LinkHolds            `xml:"holds"`
	Copies               *LinkCopies           `xml:"copies"`
}

// IndirectAcquisition is one step of a wrapped acquisition chain.
type IndirectAcquisition struct {
	Type     string                `xml:"type,attr"`
	Children []IndirectAcquisition `xml:"indirectAcquisition"`
}

// LinkAvailability is opds:availability.
type LinkAvailability struct {
	Status string `xml:"status,attr"`
	Since  string `xml:"since,attr"`
	Until  string `xml:"until,attr"`
}

// LinkHolds is opds:holds.
type LinkHolds struct {
	Total    string `xml:"total,attr"`
	Position string `xml:"position,attr"`
}

// LinkCopies is opds:copies.
type LinkCopies struct {
	Total     string `xml:"total,attr"`
	Available string `xml:"available,attr"`
}

// Category is an Atom category.
type Category struct {
	Term   string `xml:"term,attr"`
	Label  string `xml:"label,attr"`
	Scheme string `xml:"scheme,attr"`
}

// SeriesRef is schema:Series.
type SeriesRef struct {
	Name     string `xml:"name,attr"`
	Position string `xml:"position,attr"`
}

// Distribution is bibframe:distribution.
type Distribution struct {
	ProviderName string `xml:"ProviderName,attr"`
}
