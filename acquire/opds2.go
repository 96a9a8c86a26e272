package acquire

import (
	"encoding/json"
	"strings"
)

var opds2Variant = variant{
	name:    "opds2",
	accept:  "application/opds-publication+json, application/opds+json;q=0.9, application/json;q=0.8, */*;q=0.5",
	extract: extractOPDS2,
}

// locationFields are top-level JSON fields that name the next URL
// directly, in priority order.
var locationFields = []string{"url", "location", "href", "contentLocation"}

type opds2Link struct {
	Href string          `json:"href"`
	Type string          `json:"type"`
	Rel  json.RawMessage `json:"rel"`
}

func (l opds2Link) rels() []string {
	var one string
	if json.Unmarshal(l.Rel, &one) == nil {
		return []string{one}
	}
	var many []string
	json.Unmarshal(l.Rel, &many)
	return many
}

// extractOPDS2 reads a JSON acquisition response: a location field, or a
// link whose rel is content, self or any acquisition relation. Content
// and DRM types are preferred, and self is the last resort.
func extractOPDS2(data []byte) (link, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return link{}, false
	}
	for _, f := range locationFields {
		var s string
		if raw, ok := fields[f]; ok && json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			var typ string
			if raw, ok := fields["type"]; ok {
				json.Unmarshal(raw, &typ)
			}
			return link{href: strings.TrimSpace(s), typ: typ}, true
		}
	}

	var links []opds2Link
	if raw, ok := fields["links"]; !ok || json.Unmarshal(raw, &links) != nil {
		return link{}, false
	}
	var fallback, self *link
	for _, l := range links {
		rels := l.rels()
		if strings.TrimSpace(l.Href) == "" || !hasResolvableRel(rels) {
			continue
		}
		c := link{href: strings.TrimSpace(l.Href), typ: l.Type}
		switch {
		case preferredType(c.typ):
			return c, true
		case !isSelfOnly(rels) && fallback == nil:
			fallback = &c
		case isSelfOnly(rels) && self == nil:
			self = &c
		}
	}
	if fallback == nil {
		fallback = self
	}
	if fallback == nil {
		return link{}, false
	}
	return *fallback, true
}

func isSelfOnly(rels []string) bool {
	for _, r := range rels {
		if !strings.EqualFold(r, "self") {
			return false
		}
	}
	return len(rels) > 0
}

func hasResolvableRel(rels []string) bool {
	for _, r := range rels {
		r = strings.ToLower(r)
		if r == "content" || r == "self" || strings.Contains(r, "acquisition") {
			return true
		}
	}
	return false
}
