package opds

import (
	"strings"

	"github.com/madeddie/mebooks/catalog"
)

// maxIndirectDepth bounds indirect acquisition walks. Deeper or cyclic
// chains are cut off.
const maxIndirectDepth = 6

// NormalizeFormat maps an acquisition link type, and the innermost type of
// its indirect chain, to a canonical format. Unrecognized types pass through.
func NormalizeFormat(typ, indirectType string) catalog.Format {
	for _, t := range []string{typ, indirectType} {
		if f := knownFormat(t); f != "" {
			return f
		}
	}
	if typ != "" {
		return catalog.Format(typ)
	}
	return catalog.Format(indirectType)
}

func knownFormat(t string) catalog.Format {
	t = strings.ToLower(t)
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "html"):
		return catalog.FormatWeb
	case strings.Contains(t, "epub"):
		return catalog.FormatEPUB
	case strings.Contains(t, "pdf"):
		return catalog.FormatPDF
	}
	return ""
}

// FormatFromMimeType recognizes EPUB, PDF and explicit audiobook markers.
// Generic audio/* types are not audiobooks.
func FormatFromMimeType(t string) catalog.Format {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case isAudiobookType(t):
		return catalog.FormatAudiobook
	case strings.HasPrefix(t, "application/atom+xml"):
		return ""
	case strings.Contains(t, "epub"):
		return catalog.FormatEPUB
	case strings.Contains(t, "pdf"):
		return catalog.FormatPDF
	}
	return ""
}

func isAudiobookType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.TrimPrefix(strings.TrimPrefix(t, "https://"), "http://")
	switch {
	case t == "schema.org/audiobook", t == "bib.schema.org/audiobook":
		return true
	case t == "application/audiobook", strings.HasPrefix(t, "application/audiobook+"):
		return true
	}
	return false
}

// IsAudiobookSchemaType reports whether a schema:additionalType or
// metadata @type names the Audiobook type.
func IsAudiobookSchemaType(schemaType string) bool {
	return strings.HasSuffix(strings.ToLower(schemaType), "/audiobook")
}

// PublicationTypeLabel returns the last path segment of a Schema.org type
// URI, e.g. "EBook" for http://schema.org/EBook.
func PublicationTypeLabel(schemaType string) string {
	s := strings.TrimRight(strings.TrimSpace(schemaType), "/")
	if i := strings.LastIndexAny(s, "/#"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// MediumCode returns the UI badge code for a publication.
func MediumCode(format catalog.Format, mediaType, schemaType string) string {
	if format == catalog.FormatAudiobook || IsAudiobookSchemaType(schemaType) || isAudiobookType(mediaType) {
		return catalog.MediumAudio
	}
	switch format {
	case catalog.FormatEPUB:
		return catalog.MediumEBook
	case catalog.FormatPDF:
		return catalog.MediumPDF
	case catalog.FormatWeb:
		return catalog.MediumWeb
	}
	if strings.HasSuffix(strings.ToLower(schemaType), "/ebook") {
		return catalog.MediumEBook
	}
	return ""
}

// IsConcreteMediaType reports whether t names actual content rather than a
// wrapper such as an Atom entry or a DRM license document.
func IsConcreteMediaType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "":
		return false
	case strings.Contains(t, "epub"), strings.Contains(t, "pdf"), strings.Contains(t, "html"):
		return true
	case isAudiobookType(t), strings.HasPrefix(t, "audio/"), strings.HasPrefix(t, "image/"):
		return true
	case strings.HasPrefix(t, "application/octet-stream"):
		return true
	}
	return false
}

// IsEPUBOrPDF reports whether t is an EPUB or PDF media type.
func IsEPUBOrPDF(t string) bool {
	switch FormatFromMimeType(t) {
	case catalog.FormatEPUB, catalog.FormatPDF:
		return true
	}
	return false
}

// indirectNode abstracts the OPDS 1 and OPDS 2 shapes of an indirect
// acquisition chain.
type indirectNode interface {
	mediaType() string
	children() []indirectNode
}

// innermostType walks nodes depth first and returns the deepest concrete
// media type on the first branch that has one.
func innermostType(nodes []indirectNode, depth int) string {
	if depth >= maxIndirectDepth {
		return ""
	}
	for _, n := range nodes {
		if inner := innermostType(n.children(), depth+1); inner != "" {
			return inner
		}
		if IsConcreteMediaType(n.mediaType()) {
			return n.mediaType()
		}
	}
	return ""
}

// resolveMediaType returns typ when it is concrete, otherwise the innermost
// concrete type of the chain, otherwise typ.
func resolveMediaType(typ string, chain []indirectNode) string {
	if IsConcreteMediaType(typ) {
		return typ
	}
	if inner := innermostType(chain, 0); inner != "" {
		return inner
	}
	return typ
}

func (a IndirectAcquisition) mediaType() string { return a.Type }

func (a IndirectAcquisition) children() []indirectNode {
	return xmlChain(a.Children)
}

func xmlChain(in []IndirectAcquisition) []indirectNode {
	out := make([]indirectNode, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}
