// Package catalog defines the normalized book, navigation, facet and
// pagination model produced by the OPDS parsers, along with the pure
// functions that merge, filter and group books.
package catalog

import "fmt"

// Format is the canonical format label of a publication. Values other than
// the declared constants are raw media types passed through unchanged.
type Format string

const (
	FormatEPUB      Format = "EPUB"
	FormatPDF       Format = "PDF"
	FormatAudiobook Format = "AUDIOBOOK"
	FormatWeb       Format = "Web"
)

// Medium badge codes.
const (
	MediumAudio = "AUDIO"
	MediumEBook = "EBOOK"
	MediumPDF   = "PDF"
	MediumWeb   = "WEB"
)

// Navigation link sources.
const (
	SourceNavigation = "navigation"
	SourceGroup      = "group"
	SourceRegistry   = "registry"
	SourceCompat     = "compat"
)

// Book is a publication as it appears in a remote catalog.
type Book struct {
	Title                string              `json:"title"`
	Author               string              `json:"author"`
	CoverImage           string              `json:"coverImage,omitempty"`
	DownloadURL          string              `json:"downloadUrl"`
	Summary              string              `json:"summary,omitempty"`
	Publisher            string              `json:"publisher,omitempty"`
	PublicationDate      string              `json:"publicationDate,omitempty"`
	ProviderID           string              `json:"providerId,omitempty"`
	Distributor          string              `json:"distributor,omitempty"`
	Subjects             []string            `json:"subjects,omitempty"`
	Contributors         []string            `json:"contributors,omitempty"`
	Format               Format              `json:"format,omitempty"`
	AcquisitionMediaType string              `json:"acquisitionMediaType,omitempty"`
	MediumFormatCode     string              `json:"mediumFormatCode,omitempty"`
	IsOpenAccess         bool                `json:"isOpenAccess"`
	AvailabilityStatus   string              `json:"availabilityStatus,omitempty"`
	Availability         *Availability       `json:"availability,omitempty"`
	AlternativeFormats   []AlternativeFormat `json:"alternativeFormats,omitempty"`
	Collections          []Collection        `json:"collections,omitempty"`
	Series               *Series             `json:"series,omitempty"`
	SeriesList           []Series            `json:"seriesList,omitempty"`
	Categories           []Category          `json:"categories,omitempty"`
	SchemaOrgType        string              `json:"schemaOrgType,omitempty"`
	PublicationTypeLabel string              `json:"publicationTypeLabel,omitempty"`
	Identifiers          []string            `json:"identifiers,omitempty"`
	Accessibility        *Accessibility      `json:"accessibility,omitempty"`
}

// AlternativeFormat is an acquisition option other than the primary one.
type AlternativeFormat struct {
	Format       Format `json:"format,omitempty"`
	DownloadURL  string `json:"downloadUrl"`
	MediaType    string `json:"mediaType,omitempty"`
	IsOpenAccess bool   `json:"isOpenAccess"`
}

// Collection is a grouping the publication belongs to.
type Collection struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

// Series identifies a series and the publication's position in it.
type Series struct {
	Name     string   `json:"name"`
	Position *float64 `json:"position,omitempty"`
}

// Category is an Atom/OPDS category or an OPDS 2 subject.
type Category struct {
	Scheme string `json:"scheme,omitempty"`
	Term   string `json:"term,omitempty"`
	Label  string `json:"label,omitempty"`
}

// Availability holds borrowing counters published by library feeds.
type Availability struct {
	Status          string `json:"status,omitempty"`
	Since           string `json:"since,omitempty"`
	Until           string `json:"until,omitempty"`
	HoldsTotal      *int   `json:"holdsTotal,omitempty"`
	HoldsPosition   *int   `json:"holdsPosition,omitempty"`
	CopiesTotal     *int   `json:"copiesTotal,omitempty"`
	CopiesAvailable *int   `json:"copiesAvailable,omitempty"`
}

// Accessibility is the OPDS 2 accessibility metadata of a publication.
type Accessibility struct {
	ConformsTo           []string `json:"conformsTo,omitempty"`
	Summary              string   `json:"summary,omitempty"`
	AccessMode           []string `json:"accessMode,omitempty"`
	AccessModeSufficient []string `json:"accessModeSufficient,omitempty"`
	Features             []string `json:"features,omitempty"`
	Hazards              []string `json:"hazards,omitempty"`
}

// NavigationLink is a drill-down link to another feed.
type NavigationLink struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Rel       string `json:"rel,omitempty"`
	Type      string `json:"type,omitempty"`
	IsCatalog bool   `json:"isCatalog,omitempty"`
	Source    string `json:"source"`
}

// Key returns the dedup identity of the link.
func (l NavigationLink) Key() string {
	return l.Rel + "|" + l.URL
}

// FacetLink refines the current feed.
type FacetLink struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Type     string `json:"type,omitempty"`
	IsActive bool   `json:"isActive"`
	Count    *int   `json:"count,omitempty"`
}

// FacetGroup is a set of mutually exclusive facets sharing a title.
type FacetGroup struct {
	Title string      `json:"title"`
	Links []FacetLink `json:"links"`
}

// Pagination holds same-level paging links and OpenSearch counters.
type Pagination struct {
	Next         string `json:"next,omitempty"`
	Prev         string `json:"prev,omitempty"`
	First        string `json:"first,omitempty"`
	Last         string `json:"last,omitempty"`
	TotalResults *int   `json:"totalResults,omitempty"`
	ItemsPerPage *int   `json:"itemsPerPage,omitempty"`
	StartIndex   *int   `json:"startIndex,omitempty"`
}

// IsZero reports whether no paging information is present.
func (p Pagination) IsZero() bool {
	return p.Next == "" && p.Prev == "" && p.First == "" && p.Last == "" &&
		p.TotalResults == nil && p.ItemsPerPage == nil && p.StartIndex == nil
}

// Summary renders "Showing X-Y of Z", or "" when the counters are missing.
func (p Pagination) Summary() string {
	if p.TotalResults == nil || p.ItemsPerPage == nil {
		return ""
	}
	total := *p.TotalResults
	start := 1
	if p.StartIndex != nil && *p.StartIndex > 0 {
		start = *p.StartIndex
	}
	if total <= 0 {
		return "Showing 0 of 0"
	}
	end := min(start+*p.ItemsPerPage-1, total)
	return fmt.Sprintf("Showing %d-%d of %d", start, end, total)
}

// Lane groups books under one category, subject or series.
type Lane struct {
	Category string `json:"category"`
	Books    []Book `json:"books"`
}

// Result is the normalized output of parsing one feed.
type Result struct {
	Books           []Book           `json:"books"`
	NavigationLinks []NavigationLink `json:"navigationLinks"`
	FacetGroups     []FacetGroup     `json:"facetGroups"`
	Pagination      Pagination       `json:"pagination"`
	SearchURL       string           `json:"searchUrl,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// NewResult returns an empty result with non-nil slices.
func NewResult() *Result {
	return &Result{
		Books:           []Book{},
		NavigationLinks: []NavigationLink{},
		FacetGroups:     []FacetGroup{},
	}
}

// FacetLinkCount returns the number of facet links across all groups.
func (r *Result) FacetLinkCount() int {
	n := 0
	for _, g := range r.FacetGroups {
		n += len(g.Links)
	}
	return n
}
