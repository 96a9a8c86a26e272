package opds

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/madeddie/mebooks/catalog"
)

// The output types carry explicit namespaces so rendered feeds are valid
// OPDS; the decoding types in types.go ignore them.

type outFeed struct {
	XMLName xml.Name   `xml:"http://www.w3.org/2005/Atom feed"`
	NSOPDS  string     `xml:"xmlns:opds,attr"`
	NSDC    string     `xml:"xmlns:dcterms,attr"`
	ID      string     `xml:"id"`
	Title   string     `xml:"title"`
	Updated string     `xml:"updated"`
	Links   []outLink  `xml:"link"`
	Entries []outEntry `xml:"entry"`
}

type outEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Updated   string        `xml:"updated"`
	Authors   []outPerson   `xml:"author,omitempty"`
	Publisher string        `xml:"dcterms:publisher,omitempty"`
	Issued    string        `xml:"dcterms:issued,omitempty"`
	Summary   string        `xml:"summary,omitempty"`
	Category  []outCategory `xml:"category,omitempty"`
	Links     []outLink     `xml:"link"`
}

type outPerson struct {
	Name string `xml:"name"`
}

type outCategory struct {
	Term   string `xml:"term,attr"`
	Label  string `xml:"label,attr,omitempty"`
	Scheme string `xml:"scheme,attr,omitempty"`
}

type outLink struct {
	Rel   string `xml:"rel,attr,omitempty"`
	Href  string `xml:"href,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Title string `xml:"title,attr,omitempty"`
}

// LaneFeed describes a lane to republish as an acquisition feed.
type LaneFeed struct {
	ID      string
	Title   string
	SelfURL string
	Books   []catalog.Book
	Updated time.Time
}

func (lf LaneFeed) build() outFeed {
	updated := lf.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	stamp := updated.UTC().Format(time.RFC3339)
	f := outFeed{
		NSOPDS:  NSOPDS,
		NSDC:    NSDC,
		ID:      lf.ID,
		Title:   lf.Title,
		Updated: stamp,
	}
	if lf.SelfURL != "" {
		f.Links = append(f.Links, outLink{Rel: RelSelf, Href: lf.SelfURL, Type: MediaTypeOPDSAcq})
	}
	for _, b := range lf.Books {
		f.Entries = append(f.Entries, bookEntry(b, stamp))
	}
	return f
}

func bookEntry(b catalog.Book, stamp string) outEntry {
	e := outEntry{
		ID:        firstNonEmpty(b.ProviderID, b.DownloadURL, b.Title),
		Title:     b.Title,
		Updated:   stamp,
		Publisher: b.Publisher,
		Issued:    b.PublicationDate,
		Summary:   b.Summary,
	}
	if b.Author != "" {
		e.Authors = []outPerson{{Name: b.Author}}
	}
	for _, c := range b.Categories {
		e.Category = append(e.Category, outCategory{Term: firstNonEmpty(c.Term, c.Label), Label: c.Label, Scheme: c.Scheme})
	}
	if b.CoverImage != "" {
		e.Links = append(e.Links, outLink{Rel: RelImage, Href: b.CoverImage})
	}
	if b.DownloadURL != "" {
		e.Links = append(e.Links, acquisitionLink(b.DownloadURL, b.AcquisitionMediaType, b.IsOpenAccess))
	}
	for _, alt := range b.AlternativeFormats {
		e.Links = append(e.Links, acquisitionLink(alt.DownloadURL, alt.MediaType, alt.IsOpenAccess))
	}
	return e
}

func acquisitionLink(href, mediaType string, open bool) outLink {
	rel := RelAcquisition
	if open {
		rel = RelOpenAccess
	}
	return outLink{Rel: rel, Href: href, Type: mediaType}
}

// Render writes the lane as OPDS/Atom XML to w, including the XML
// declaration.
func Render(w io.Writer, lf LaneFeed) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("opds: write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(lf.build()); err != nil {
		return fmt.Errorf("opds: encode feed: %w", err)
	}
	return enc.Flush()
}

// RenderBytes returns the lane as OPDS/Atom XML bytes.
func RenderBytes(lf LaneFeed) ([]byte, error) {
	data, err := xml.MarshalIndent(lf.build(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("opds: marshal feed: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}
