package opds

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/madeddie/mebooks/catalog"
)

// ErrMalformed is wrapped by every structural feed error.
var ErrMalformed = errors.New("opds: malformed feed")

// DefaultFacetGroup is the group title used for facets without
// opds:facetGroup.
const DefaultFacetGroup = "Other"

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

func newXMLDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// DecodeFeed decodes an Atom document, checking that its root element is
// feed.
func DecodeFeed(data []byte) (*Feed, error) {
	dec := newXMLDecoder(data)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, malformed("root <feed> element not found")
		}
		if err != nil {
			return nil, malformed("invalid XML: %v", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "feed" {
			return nil, malformed("root <feed> element not found, got <%s>", start.Name.Local)
		}
		var feed Feed
		if err := dec.DecodeElement(&feed, &start); err != nil {
			return nil, malformed("invalid XML: %v", err)
		}
		return &feed, nil
	}
}

// ParseOPDS1 parses an OPDS 1 Atom feed. Relative links are resolved against
// baseURL. Structural problems are returned as errors wrapping ErrMalformed;
// individual unusable entries are skipped.
func ParseOPDS1(data []byte, baseURL string) (*catalog.Result, error) {
	feed, err := DecodeFeed(data)
	if err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 && strings.TrimSpace(feed.Title) == "" && len(feed.Links) == 0 {
		return nil, malformed("feed has no entries")
	}

	p := opds1Parser{base: baseURL, result: catalog.NewResult()}
	p.feedLinks(feed)

	var books []catalog.Book
	recognized := 0
	for i := range feed.Entries {
		book, isBook, isNav := p.entry(&feed.Entries[i])
		if isBook {
			books = append(books, book)
		}
		if isBook || isNav {
			recognized++
		}
	}
	if len(feed.Entries) > 0 && recognized == 0 {
		return nil, malformed("no recognizable OPDS entries in feed")
	}

	p.result.Books = catalog.MergeBooks(books)
	p.result.NavigationLinks = p.nav.Links()
	p.result.FacetGroups = p.facets.Groups()
	p.result.Pagination.TotalResults = parseCount(feed.TotalResults)
	p.result.Pagination.ItemsPerPage = parseCount(feed.ItemsPerPage)
	p.result.Pagination.StartIndex = parseCount(feed.StartIndex)
	return p.result, nil
}

type opds1Parser struct {
	base   string
	result *catalog.Result
	nav    catalog.NavigationSet
	facets catalog.FacetSet
}

func (p *opds1Parser) feedLinks(feed *Feed) {
	for _, l := range feed.Links {
		rels := relTokens(l.Rel)
		href := ResolveURL(p.base, l.Href)
		if href == "" {
			continue
		}
		switch {
		case relContains(rels, "facet"):
			group := strings.TrimSpace(l.FacetGroup)
			if group == "" {
				group = DefaultFacetGroup
			}
			p.facets.Add(group, catalog.FacetLink{
				Title:    l.Title,
				URL:      href,
				Type:     l.Type,
				IsActive: strings.EqualFold(strings.TrimSpace(l.ActiveFacet), "true"),
				Count:    parseCount(l.Count),
			})
		case relIs(rels, RelSearch):
			if p.result.SearchURL == "" {
				p.result.SearchURL = href
			}
		default:
			setPaging(&p.result.Pagination, pagingRel(rels), href)
		}
	}
}

func setPaging(pg *catalog.Pagination, rel, href string) {
	switch rel {
	case "next":
		if pg.Next == "" {
			pg.Next = href
		}
	case "prev":
		if pg.Prev == "" {
			pg.Prev = href
		}
	case "first":
		if pg.First == "" {
			pg.First = href
		}
	case "last":
		if pg.Last == "" {
			pg.Last = href
		}
	}
}

// entry classifies e and converts it. A book entry is one with an
// acquisition link; a navigation entry points at another feed.
func (p *opds1Parser) entry(e *Entry) (book catalog.Book, isBook, isNav bool) {
	title := strings.TrimSpace(e.Title)
	var acqs []Link
	for _, l := range e.Links {
		if relContains(relTokens(l.Rel), "acquisition") && strings.TrimSpace(l.Href) != "" {
			acqs = append(acqs, l)
		}
	}
	// Catalog links on a book entry (related works, series pages) belong
	// to that book, not to the feed's navigation.
	if len(acqs) == 0 {
		isNav = p.entryNavigation(e, title)
	}

	distributor := ""
	if e.Distribution != nil {
		distributor = strings.TrimSpace(e.Distribution.ProviderName)
	}
	collections := p.collections(e, distributor)
	if len(acqs) == 0 {
		return catalog.Book{}, false, isNav || len(collections) > 0
	}

	chosen := chooseAcquisition(acqs)
	mediaType := resolveMediaType(chosen.Type, xmlChain(chosen.IndirectAcquisitions))
	book = catalog.Book{
		Title:                title,
		Author:               joinPeople(e.Authors),
		CoverImage:           p.cover(e),
		DownloadURL:          ResolveURL(p.base, chosen.Href),
		Summary:              entrySummary(e),
		Publisher:            strings.TrimSpace(e.Publisher),
		PublicationDate:      firstNonEmpty(e.Issued, e.Published),
		ProviderID:           strings.TrimSpace(e.ID),
		Distributor:          distributor,
		Contributors:         peopleNames(e.Contributors),
		AcquisitionMediaType: mediaType,
		IsOpenAccess:         relIs(relTokens(chosen.Rel), RelOpenAccess),
		Collections:          collections,
		SchemaOrgType:        strings.TrimSpace(e.AdditionalType),
		Identifiers:          trimAll(e.Identifiers),
	}
	book.Format = linkFormat(chosen.Type, mediaType, book.SchemaOrgType)
	book.MediumFormatCode = MediumCode(book.Format, mediaType, book.SchemaOrgType)
	if book.SchemaOrgType != "" {
		book.PublicationTypeLabel = PublicationTypeLabel(book.SchemaOrgType)
	}
	book.Categories, book.Subjects = entryCategories(e.Categories)
	book.SeriesList = entrySeries(e)
	if len(book.SeriesList) > 0 {
		book.Series = &book.SeriesList[0]
	}
	book.Availability = linkAvailability(chosen)
	if book.Availability != nil {
		book.AvailabilityStatus = book.Availability.Status
	}
	book.AlternativeFormats = p.alternatives(acqs, chosen)

	if book.Title == "" || (book.DownloadURL == "" && book.CoverImage == "") {
		return catalog.Book{}, false, isNav || len(collections) > 0
	}
	return book, true, isNav
}

// entryNavigation adds the entry's subsection and catalog links to the
// feed navigation, reporting whether any were new.
func (p *opds1Parser) entryNavigation(e *Entry, title string) bool {
	added := false
	for _, l := range e.Links {
		rels := relTokens(l.Rel)
		if !relIs(rels, RelSubsection) && (!isCatalogType(l.Type) || relContains(rels, "image")) {
			continue
		}
		if relIs(rels, RelCollection) || relIs(rels, RelSelf) || relContains(rels, "acquisition") {
			continue
		}
		if strings.TrimSpace(l.Href) == "" {
			continue
		}
		linkTitle := title
		if linkTitle == "" {
			linkTitle = l.Title
		}
		if p.nav.Add(catalog.NavigationLink{
			Title:     linkTitle,
			URL:       ResolveURL(p.base, l.Href),
			Rel:       l.Rel,
			Type:      l.Type,
			IsCatalog: isCatalogType(l.Type),
			Source:    catalog.SourceNavigation,
		}) {
			added = true
		}
	}
	return added
}

// chooseAcquisition prefers open access, then the first EPUB or PDF, then
// the first link.
func chooseAcquisition(acqs []Link) Link {
	for _, l := range acqs {
		if relIs(relTokens(l.Rel), RelOpenAccess) {
			return l
		}
	}
	for _, l := range acqs {
		if IsEPUBOrPDF(resolveMediaType(l.Type, xmlChain(l.IndirectAcquisitions))) {
			return l
		}
	}
	return acqs[0]
}

func linkFormat(linkType, mediaType, schemaType string) catalog.Format {
	if IsAudiobookSchemaType(schemaType) {
		return catalog.FormatAudiobook
	}
	if FormatFromMimeType(mediaType) == catalog.FormatAudiobook {
		return catalog.FormatAudiobook
	}
	return NormalizeFormat(linkType, mediaType)
}

func (p *opds1Parser) alternatives(acqs []Link, chosen Link) []catalog.AlternativeFormat {
	var out []catalog.AlternativeFormat
	seen := map[string]bool{ResolveURL(p.base, chosen.Href): true}
	for _, l := range acqs {
		href := ResolveURL(p.base, l.Href)
		if seen[href] {
			continue
		}
		seen[href] = true
		mt := resolveMediaType(l.Type, xmlChain(l.IndirectAcquisitions))
		out = append(out, catalog.AlternativeFormat{
			Format:       NormalizeFormat(l.Type, mt),
			DownloadURL:  href,
			MediaType:    mt,
			IsOpenAccess: relIs(relTokens(l.Rel), RelOpenAccess),
		})
	}
	return out
}

// collections returns the entry's collection links and hoists them into the
// feed navigation, skipping the one named after the entry's distributor.
func (p *opds1Parser) collections(e *Entry, distributor string) []catalog.Collection {
	var out []catalog.Collection
	for _, l := range e.Links {
		if !relIs(relTokens(l.Rel), RelCollection) {
			continue
		}
		href := ResolveURL(p.base, l.Href)
		if href == "" {
			continue
		}
		title := strings.TrimSpace(l.Title)
		out = append(out, catalog.Collection{Title: title, Href: href})
		if distributor != "" && title == distributor {
			continue
		}
		p.nav.Add(catalog.NavigationLink{
			Title:     title,
			URL:       href,
			Rel:       RelCollection,
			Type:      l.Type,
			IsCatalog: true,
			Source:    catalog.SourceNavigation,
		})
	}
	return out
}

func (p *opds1Parser) cover(e *Entry) string {
	for _, rel := range []string{RelImage, RelThumbnail, RelStanzaCover} {
		for _, l := range e.Links {
			if relIs(relTokens(l.Rel), rel) && strings.TrimSpace(l.Href) != "" {
				return ResolveURL(p.base, l.Href)
			}
		}
	}
	for _, l := range e.Links {
		if relContains(relTokens(l.Rel), "image") || relContains(relTokens(l.Rel), "cover") {
			if strings.TrimSpace(l.Href) != "" {
				return ResolveURL(p.base, l.Href)
			}
		}
	}
	return ""
}

func linkAvailability(l Link) *catalog.Availability {
	if l.Availability == nil && l.Holds == nil && l.Copies == nil {
		return nil
	}
	a := &catalog.Availability{}
	if l.Availability != nil {
		a.Status = strings.TrimSpace(l.Availability.Status)
		a.Since = l.Availability.Since
		a.Until = l.Availability.Until
	}
	if l.Holds != nil {
		a.HoldsTotal = parseCount(l.Holds.Total)
		a.HoldsPosition = parseCount(l.Holds.Position)
	}
	if l.Copies != nil {
		a.CopiesTotal = parseCount(l.Copies.Total)
		a.CopiesAvailable = parseCount(l.Copies.Available)
	}
	return a
}

func entryCategories(in []Category) ([]catalog.Category, []string) {
	var cats []catalog.Category
	var subjects []string
	seen := make(map[string]bool)
	for _, c := range in {
		cat := catalog.Category{
			Scheme: strings.TrimSpace(c.Scheme),
			Term:   strings.TrimSpace(c.Term),
			Label:  strings.TrimSpace(c.Label),
		}
		if cat.Term == "" && cat.Label == "" {
			continue
		}
		cats = append(cats, cat)
		name := firstNonEmpty(cat.Label, cat.Term)
		if !seen[name] {
			seen[name] = true
			subjects = append(subjects, name)
		}
	}
	return cats, subjects
}

func entrySeries(e *Entry) []catalog.Series {
	var out []catalog.Series
	for _, s := range append(append([]SeriesRef(nil), e.Series...), e.SeriesLower...) {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		out = append(out, catalog.Series{Name: name, Position: parseFloat(s.Position)})
	}
	return out
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func entrySummary(e *Entry) string {
	for _, t := range []*Text{e.Summary, e.Content} {
		if t == nil {
			continue
		}
		if s := strings.TrimSpace(t.Body); s != "" {
			return s
		}
		if s := strings.TrimSpace(tagPattern.ReplaceAllString(t.Inner, " ")); s != "" {
			return strings.Join(strings.Fields(s), " ")
		}
	}
	return ""
}

func joinPeople(people []Person) string {
	return strings.Join(peopleNames(people), ", ")
}

func peopleNames(people []Person) []string {
	var out []string
	for _, p := range people {
		if n := strings.TrimSpace(p.Name); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
