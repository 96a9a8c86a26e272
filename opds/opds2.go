package opds

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/madeddie/mebooks/catalog"
)

// ParseOPDS2Bytes decodes raw JSON and parses it. The returned error is only
// the JSON syntax error, so callers can try another format; feed-level
// problems are reported in Result.Error instead.
func ParseOPDS2Bytes(raw []byte, baseURL string) (*catalog.Result, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("opds: decode json: %w", err)
	}
	return ParseOPDS2(doc, baseURL), nil
}

// ParseOPDS2 parses a decoded OPDS 2 document. It never fails outright:
// structural problems are described in Result.Error and whatever could be
// read is still returned.
func ParseOPDS2(doc any, baseURL string) *catalog.Result {
	result := catalog.NewResult()
	m, ok := doc.(map[string]any)
	if !ok {
		result.Error = fmt.Sprintf("OPDS 2 feed must be a JSON object, got %s", jsonKind(doc))
		return result
	}
	feed := decodeFeed(m)
	if !feed.HasMetadata && len(feed.Publications) == 0 {
		slog.Warn("opds2 feed has neither metadata nor publications", "url", baseURL)
	}

	p := opds2Parser{base: baseURL, result: result}
	p.catalogs(feed.Catalogs)
	p.groups(feed.Groups)
	p.navigation(feed.Navigation, catalog.SourceNavigation, "")
	p.links(feed.Links)
	p.facets(feed.Facets)

	books := make([]catalog.Book, 0, len(feed.Publications))
	for _, g := range feed.Groups {
		books = append(books, p.publications(g.Publications)...)
	}
	books = append(books, p.publications(feed.Publications)...)

	result.Books = catalog.MergeBooks(books)
	result.NavigationLinks = p.nav.Links()
	result.FacetGroups = p.facetSet.Groups()
	result.Pagination.TotalResults = feed.Total
	result.Pagination.ItemsPerPage = feed.ItemsPerPage
	if feed.CurrentPage != nil && feed.ItemsPerPage != nil && *feed.CurrentPage > 0 {
		start := (*feed.CurrentPage-1)*(*feed.ItemsPerPage) + 1
		result.Pagination.StartIndex = &start
	}
	return result
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}

type opds2Parser struct {
	base     string
	result   *catalog.Result
	nav      catalog.NavigationSet
	facetSet catalog.FacetSet
}

// catalogs reads registry entries, picking the first link of each whose
// rel or type mentions catalog.
func (p *opds2Parser) catalogs(entries []opds2Publication) {
	for _, e := range entries {
		for _, l := range e.Links {
			if !relContains(l.Rels, "catalog") && !strings.Contains(strings.ToLower(l.Type), "catalog") &&
				!strings.HasPrefix(l.Type, MediaTypeOPDS2) {
				continue
			}
			p.nav.Add(catalog.NavigationLink{
				Title:     firstNonEmpty(e.Title, l.Title),
				URL:       ResolveURL(p.base, l.Href),
				Rel:       strings.Join(l.Rels, " "),
				Type:      l.Type,
				IsCatalog: true,
				Source:    catalog.SourceRegistry,
			})
			break
		}
	}
}

func (p *opds2Parser) groups(groups []opds2Group) {
	for _, g := range groups {
		for _, l := range g.Links {
			if relIs(l.Rels, RelSelf) && g.Title != "" {
				p.nav.Add(catalog.NavigationLink{
					Title:     g.Title,
					URL:       ResolveURL(p.base, l.Href),
					Rel:       RelSelf,
					Type:      l.Type,
					IsCatalog: true,
					Source:    catalog.SourceGroup,
				})
			}
		}
		p.navigation(g.Navigation, catalog.SourceGroup, g.Title)
	}
}

func (p *opds2Parser) navigation(links []opds2Link, source, prefix string) {
	for _, l := range links {
		title := l.Title
		if prefix != "" {
			title = prefix + ": " + title
		}
		p.nav.Add(catalog.NavigationLink{
			Title:     title,
			URL:       ResolveURL(p.base, l.Href),
			Rel:       strings.Join(l.Rels, " "),
			Type:      l.Type,
			IsCatalog: isCatalogType(l.Type) || l.Type == "",
			Source:    source,
		})
	}
}

// links reads top-level links: pagination, search, and the navigation
// relations some feeds put here.
func (p *opds2Parser) links(links []opds2Link) {
	for _, l := range links {
		href := ResolveURL(p.base, l.Href)
		if rel := pagingRel(l.Rels); rel != "" {
			setPaging(&p.result.Pagination, rel, href)
			continue
		}
		if relIs(l.Rels, RelSearch) {
			if p.result.SearchURL == "" {
				p.result.SearchURL = ResolveTemplate(p.base, l.Href)
			}
			continue
		}
		if isNavigationRel(l.Rels) {
			p.nav.Add(catalog.NavigationLink{
				Title:     l.Title,
				URL:       href,
				Rel:       strings.Join(l.Rels, " "),
				Type:      l.Type,
				IsCatalog: isCatalogType(l.Type),
				Source:    catalog.SourceCompat,
			})
		}
	}
}

func isNavigationRel(rels []string) bool {
	for _, r := range rels {
		switch strings.ToLower(relSuffix(r)) {
		case "collection", "subsection", "section", "related":
			return true
		}
	}
	return false
}

func (p *opds2Parser) facets(facets []opds2Facet) {
	for _, f := range facets {
		group := f.Title
		if group == "" {
			group = DefaultFacetGroup
		}
		for _, l := range f.Links {
			p.facetSet.Add(group, catalog.FacetLink{
				Title:    l.Title,
				URL:      ResolveURL(p.base, l.Href),
				Type:     l.Type,
				IsActive: relIs(l.Rels, RelSelf),
				Count:    l.Count,
			})
		}
	}
}

func (p *opds2Parser) publications(pubs []opds2Publication) []catalog.Book {
	var books []catalog.Book
	for _, pub := range pubs {
		if b, ok := p.publication(pub); ok {
			books = append(books, b)
		}
	}
	return books
}

func (p *opds2Parser) publication(pub opds2Publication) (catalog.Book, bool) {
	if pub.Title == "" {
		return catalog.Book{}, false
	}
	b := catalog.Book{
		Title:           pub.Title,
		Author:          strings.Join(pub.Authors, ", "),
		CoverImage:      p.cover(pub),
		Summary:         pub.Description,
		Publisher:       strings.Join(pub.Publishers, ", "),
		PublicationDate: pub.Published,
		ProviderID:      pub.Identifier,
		Distributor:     pub.Distributor,
		Contributors:    pub.Contributors,
		SchemaOrgType:   pub.SchemaType,
		Categories:      pub.Subjects,
		SeriesList:      pub.Series,
		Accessibility:   pub.Accessibility,
	}
	if pub.Identifier != "" {
		b.Identifiers = append([]string{pub.Identifier}, pub.AltIDs...)
	}
	for _, c := range pub.Subjects {
		if name := firstNonEmpty(c.Label, c.Term); name != "" && !slices.Contains(b.Subjects, name) {
			b.Subjects = append(b.Subjects, name)
		}
	}
	if len(b.SeriesList) > 0 {
		b.Series = &b.SeriesList[0]
	}
	for _, c := range pub.Collections {
		b.Collections = append(b.Collections, catalog.Collection{Title: c.Name, Href: ResolveURL(p.base, c.Href)})
	}
	if b.SchemaOrgType != "" {
		b.PublicationTypeLabel = PublicationTypeLabel(b.SchemaOrgType)
	}

	acqs := acquisitionLinks(pub.Links)
	if len(acqs) > 0 {
		chosen := chooseOPDS2Acquisition(acqs)
		mediaType := resolveMediaType(chosen.Type, jsonChain(chosen.Indirect))
		b.DownloadURL = ResolveURL(p.base, chosen.Href)
		b.AcquisitionMediaType = mediaType
		b.IsOpenAccess = relIs(chosen.Rels, RelOpenAccess)
		b.Format = linkFormat(chosen.Type, mediaType, b.SchemaOrgType)
		b.Availability = opds2Availability(chosen)
		if b.Availability != nil {
			b.AvailabilityStatus = b.Availability.Status
		}
		b.AlternativeFormats = p.alternatives(acqs, chosen)
	} else if IsAudiobookSchemaType(b.SchemaOrgType) {
		b.Format = catalog.FormatAudiobook
	}
	b.MediumFormatCode = MediumCode(b.Format, b.AcquisitionMediaType, b.SchemaOrgType)

	if b.DownloadURL == "" && b.CoverImage == "" {
		return catalog.Book{}, false
	}
	return b, true
}

func acquisitionLinks(links []opds2Link) []opds2Link {
	var out []opds2Link
	for _, l := range links {
		if relContains(l.Rels, "acquisition") {
			out = append(out, l)
		}
	}
	return out
}

// chooseOPDS2Acquisition ranks open-access EPUB, open-access PDF, EPUB, PDF,
// any non-HTML link, then the first link.
func chooseOPDS2Acquisition(acqs []opds2Link) opds2Link {
	best, bestRank := acqs[0], 99
	for _, l := range acqs {
		mt := resolveMediaType(l.Type, jsonChain(l.Indirect))
		open := relIs(l.Rels, RelOpenAccess)
		rank := 99
		switch FormatFromMimeType(mt) {
		case catalog.FormatEPUB:
			rank = 2
			if open {
				rank = 0
			}
		case catalog.FormatPDF:
			rank = 3
			if open {
				rank = 1
			}
		default:
			if !strings.Contains(strings.ToLower(mt), "html") {
				rank = 4
			}
		}
		if rank < bestRank {
			best, bestRank = l, rank
		}
	}
	return best
}

func (p *opds2Parser) alternatives(acqs []opds2Link, chosen opds2Link) []catalog.AlternativeFormat {
	var out []catalog.AlternativeFormat
	seen := map[string]bool{ResolveURL(p.base, chosen.Href): true}
	for _, l := range acqs {
		href := ResolveURL(p.base, l.Href)
		if seen[href] {
			continue
		}
		seen[href] = true
		mt := resolveMediaType(l.Type, jsonChain(l.Indirect))
		out = append(out, catalog.AlternativeFormat{
			Format:       NormalizeFormat(l.Type, mt),
			DownloadURL:  href,
			MediaType:    mt,
			IsOpenAccess: relIs(l.Rels, RelOpenAccess),
		})
	}
	return out
}

func (p *opds2Parser) cover(pub opds2Publication) string {
	for _, img := range pub.Images {
		if relIs(img.Rels, "cover") {
			return ResolveURL(p.base, img.Href)
		}
	}
	if len(pub.Images) > 0 {
		return ResolveURL(p.base, pub.Images[0].Href)
	}
	for _, l := range pub.Links {
		if relContains(l.Rels, "image") || relContains(l.Rels, "cover") {
			return ResolveURL(p.base, l.Href)
		}
	}
	return ""
}

func opds2Availability(l opds2Link) *catalog.Availability {
	if !l.HasAvail {
		return nil
	}
	return &catalog.Availability{
		Status:          l.Status,
		Since:           l.Since,
		Until:           l.Until,
		HoldsTotal:      l.HoldsTotal,
		HoldsPosition:   l.HoldsPos,
		CopiesTotal:     l.CopiesTot,
		CopiesAvailable: l.CopiesAv,
	}
}
