package opds

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// ResolveURL resolves ref against base. Absolute refs and unparsable input
// are returned unchanged.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// ResolveTemplate resolves the static prefix of a URI template against
// base, leaving the {...} expressions untouched.
func ResolveTemplate(base, tmpl string) string {
	i := strings.Index(tmpl, "{")
	switch {
	case i < 0:
		return ResolveURL(base, tmpl)
	case i == 0:
		return tmpl
	}
	return ResolveURL(base, tmpl[:i]) + tmpl[i:]
}

// relTokens splits a rel attribute into its whitespace separated tokens.
func relTokens(rel string) []string {
	return strings.Fields(rel)
}

// relSuffix returns the last path segment of a relation token, so that
// "http://opds-spec.org/next" and "next" compare equal.
func relSuffix(token string) string {
	token = strings.TrimRight(token, "/")
	if i := strings.LastIndexAny(token, "/#"); i >= 0 {
		return token[i+1:]
	}
	return token
}

// pagingRel returns next, prev, first or last for a rel value, or "".
func pagingRel(rels []string) string {
	for _, tok := range rels {
		switch strings.ToLower(relSuffix(tok)) {
		case "next":
			return "next"
		case "prev", "previous":
			return "prev"
		case "first":
			return "first"
		case "last":
			return "last"
		}
	}
	return ""
}

func relContains(rels []string, needle string) bool {
	for _, r := range rels {
		if strings.Contains(strings.ToLower(r), needle) {
			return true
		}
	}
	return false
}

func relIs(rels []string, want string) bool {
	return slices.Contains(rels, want)
}

// parseCount parses a counter leniently, returning nil for anything that is
// not an integer.
func parseCount(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// isCatalogType reports whether a link type points at another OPDS feed.
func isCatalogType(t string) bool {
	t = strings.ToLower(t)
	if strings.Contains(t, "profile=opds-catalog") &&
		(strings.Contains(t, "kind=navigation") || strings.Contains(t, "kind=acquisition")) {
		return true
	}
	return strings.HasPrefix(t, MediaTypeOPDS2)
}
