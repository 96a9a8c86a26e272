package acquire

import (
	"bytes"
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"
)

var opds1Variant = variant{
	name:    "opds1",
	accept:  "application/atom+xml;type=entry;profile=opds-catalog, application/atom+xml;q=0.9, */*;q=0.5",
	extract: extractOPDS1,
}

// extractOPDS1 scans every <link> element in the document, at any depth,
// for an acquisition, borrow or loan relation. A link whose type is a
// content format or DRM wrapper wins over the first match.
func extractOPDS1(data []byte) (link, bool) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	var first link
	found := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "link" {
			continue
		}
		var rel string
		var l link
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "rel":
				rel = strings.ToLower(a.Value)
			case "href":
				l.href = strings.TrimSpace(a.Value)
			case "type":
				l.typ = a.Value
			}
		}
		if l.href == "" || !isBorrowRel(rel) {
			continue
		}
		if preferredType(l.typ) {
			return l, true
		}
		if !found {
			first, found = l, true
		}
	}
	return first, found
}

func isBorrowRel(rel string) bool {
	return strings.Contains(rel, "acquisition") || strings.Contains(rel, "borrow") || strings.Contains(rel, "loan")
}
