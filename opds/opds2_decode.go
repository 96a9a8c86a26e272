package opds

import (
	"encoding/json"
	"encoding/xml"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/madeddie/mebooks/catalog"
)

// This file turns a loosely typed OPDS 2 JSON tree into the records below.
// All tolerance for unexpected shapes lives here; opds2.go only sees typed
// values.

type opds2Feed struct {
	HasMetadata  bool
	Title        string
	Total        *int
	ItemsPerPage *int
	CurrentPage  *int
	Links        []opds2Link
	Navigation   []opds2Link
	Catalogs     []opds2Publication
	Groups       []opds2Group
	Facets       []opds2Facet
	Publications []opds2Publication
}

type opds2Link struct {
	Href       string
	Type       string
	Title      string
	Rels       []string
	Templated  bool
	Count      *int
	Indirect   []opds2Indirect
	Status     string
	Since      string
	Until      string
	HoldsTotal *int
	HoldsPos   *int
	CopiesTot  *int
	CopiesAv   *int
	HasAvail   bool
}

type opds2Indirect struct {
	Type     string
	Children []opds2Indirect
}

func (i opds2Indirect) mediaType() string { return i.Type }

func (i opds2Indirect) children() []indirectNode { return jsonChain(i.Children) }

func jsonChain(in []opds2Indirect) []indirectNode {
	out := make([]indirectNode, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}

type opds2Group struct {
	Title        string
	Links        []opds2Link
	Navigation   []opds2Link
	Publications []opds2Publication
}

type opds2Facet struct {
	Title string
	Links []opds2Link
}

type opds2Publication struct {
	SchemaType    string
	Title         string
	Identifier    string
	AltIDs        []string
	Description   string
	Authors       []string
	Contributors  []string
	Publishers    []string
	Distributor   string
	Published     string
	Subjects      []catalog.Category
	Series        []catalog.Series
	Collections   []opds2Collection
	Accessibility *catalog.Accessibility
	Links         []opds2Link
	Images        []opds2Link
}

type opds2Collection struct {
	Name string
	Href string
}

// contributorRoles are the Readium metadata keys listed as contributors.
var contributorRoles = []string{
	"contributor", "translator", "editor", "artist", "illustrator",
	"letterer", "penciler", "colorist", "inker", "narrator",
}

func decodeFeed(doc map[string]any) opds2Feed {
	f := opds2Feed{}
	if md, ok := doc["metadata"].(map[string]any); ok {
		f.HasMetadata = true
		f.Title = coerceString(md["title"])
		f.Total = coerceInt(md["numberOfItems"])
		f.ItemsPerPage = coerceInt(md["itemsPerPage"])
		f.CurrentPage = coerceInt(md["currentPage"])
	}
	f.Links = coerceLinks(doc["links"])
	f.Navigation = coerceLinks(doc["navigation"])
	for _, v := range coerceList(doc["catalogs"]) {
		if m, ok := v.(map[string]any); ok {
			f.Catalogs = append(f.Catalogs, decodePublication(m))
		}
	}
	for _, v := range coerceList(doc["groups"]) {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		g := opds2Group{
			Links:      coerceLinks(m["links"]),
			Navigation: coerceLinks(m["navigation"]),
		}
		if md, ok := m["metadata"].(map[string]any); ok {
			g.Title = coerceString(md["title"])
		}
		for _, p := range coerceList(m["publications"]) {
			if pm, ok := p.(map[string]any); ok {
				g.Publications = append(g.Publications, decodePublication(pm))
			}
		}
		f.Groups = append(f.Groups, g)
	}
	for _, v := range coerceList(doc["facets"]) {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		fc := opds2Facet{Links: coerceLinks(m["links"])}
		if md, ok := m["metadata"].(map[string]any); ok {
			fc.Title = coerceString(md["title"])
		}
		f.Facets = append(f.Facets, fc)
	}
	for _, v := range coerceList(doc["publications"]) {
		if m, ok := v.(map[string]any); ok {
			f.Publications = append(f.Publications, decodePublication(m))
		}
	}
	return f
}

func decodePublication(m map[string]any) opds2Publication {
	p := opds2Publication{
		Links:  coerceLinks(m["links"]),
		Images: coerceLinks(m["images"]),
	}
	md, _ := m["metadata"].(map[string]any)
	if md == nil {
		return p
	}
	p.SchemaType = coerceString(md["@type"])
	p.Title = coerceString(md["title"])
	p.Identifier = coerceString(md["identifier"])
	p.AltIDs = coerceToStringList(md["altIdentifier"])
	p.Description = coerceString(md["description"])
	p.Authors = coercePersonRef(md["author"])
	for _, role := range contributorRoles {
		p.Contributors = append(p.Contributors, coercePersonRef(md[role])...)
	}
	p.Publishers = coercePersonRef(md["publisher"])
	if d := coercePersonRef(md["distributor"]); len(d) > 0 {
		p.Distributor = d[0]
	}
	p.Published = coerceString(md["published"])
	p.Subjects = coerceSubjects(md["subject"])
	if bt, ok := md["belongsTo"].(map[string]any); ok {
		p.Series = coerceSeriesList(bt["series"])
		p.Collections = coerceCollections(bt["collection"])
	}
	p.Accessibility = coerceAccessibility(md["accessibility"])
	return p
}

// coerceString returns a string for strings, numbers and localized string
// objects. Localized objects yield "en", else the first value by key.
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		if s := coerceString(t["en"]); s != "" {
			return s
		}
		if s := coerceString(t["name"]); s != "" {
			return s
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if s, ok := t[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	case []any:
		for _, item := range t {
			if s := coerceString(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// coerceToStringList accepts a string, a list, or a single object and
// returns the non-empty strings it holds.
func coerceToStringList(v any) []string {
	var out []string
	for _, item := range coerceList(v) {
		if list, ok := item.([]any); ok {
			out = append(out, coerceToStringList(list)...)
			continue
		}
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// coercePersonRef accepts a name, a {name} object, or a list of either.
func coercePersonRef(v any) []string {
	var out []string
	for _, item := range coerceList(v) {
		switch t := item.(type) {
		case map[string]any:
			if s := coerceString(t["name"]); s != "" {
				out = append(out, s)
			}
		default:
			if s := coerceString(t); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// coerceRelList accepts a rel string (possibly space separated) or a list.
// modules:<token> relations are normalized to collection.
func coerceRelList(v any) []string {
	var out []string
	for _, item := range coerceList(v) {
		s, ok := item.(string)
		if !ok {
			continue
		}
		for _, tok := range strings.Fields(s) {
			if strings.HasPrefix(tok, "modules:") && len(tok) > len("modules:") {
				tok = RelCollection
			}
			out = append(out, tok)
		}
	}
	return out
}

// coerceNumber accepts numbers and numeric strings.
func coerceNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return nil
		}
		f = n
	case string:
		return parseFloat(t)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func coerceInt(v any) *int {
	f := coerceNumber(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// coerceSeriesList accepts a series name, a {name, position} object, or a
// list of either.
func coerceSeriesList(v any) []catalog.Series {
	var out []catalog.Series
	for _, item := range coerceList(v) {
		var s catalog.Series
		switch t := item.(type) {
		case map[string]any:
			s.Name = coerceString(t["name"])
			s.Position = coerceNumber(t["position"])
		default:
			s.Name = coerceString(t)
		}
		if s.Name != "" {
			out = append(out, s)
		}
	}
	return out
}

// coerceSubjects accepts a subject name, a {name, code, scheme} object, or a
// list of either.
func coerceSubjects(v any) []catalog.Category {
	var out []catalog.Category
	for _, item := range coerceList(v) {
		var c catalog.Category
		switch t := item.(type) {
		case map[string]any:
			c.Label = coerceString(t["name"])
			c.Term = coerceString(t["code"])
			c.Scheme = coerceString(t["scheme"])
		default:
			c.Label = coerceString(t)
		}
		if c.Label != "" || c.Term != "" {
			out = append(out, c)
		}
	}
	return out
}

func coerceCollections(v any) []opds2Collection {
	var out []opds2Collection
	for _, item := range coerceList(v) {
		var c opds2Collection
		switch t := item.(type) {
		case map[string]any:
			c.Name = coerceString(t["name"])
			if links := coerceLinks(t["links"]); len(links) > 0 {
				c.Href = links[0].Href
			}
		default:
			c.Name = coerceString(t)
		}
		if c.Name != "" {
			out = append(out, c)
		}
	}
	return out
}

func coerceAccessibility(v any) *catalog.Accessibility {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	a := &catalog.Accessibility{
		ConformsTo:           coerceToStringList(m["conformsTo"]),
		Summary:              coerceString(m["summary"]),
		AccessMode:           coerceToStringList(m["accessMode"]),
		AccessModeSufficient: coerceToStringList(m["accessModeSufficient"]),
		Features:             coerceToStringList(m["feature"]),
		Hazards:              coerceToStringList(m["hazard"]),
	}
	if len(a.ConformsTo) == 0 && a.Summary == "" && len(a.AccessMode) == 0 &&
		len(a.AccessModeSufficient) == 0 && len(a.Features) == 0 && len(a.Hazards) == 0 {
		return nil
	}
	return a
}

// coerceList wraps single values in a list and drops nil.
func coerceList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	}
	return []any{v}
}

// coerceLinks decodes a links array. Items may be objects or, in some
// vendor feeds, strings holding a serialized XML <link> element.
func coerceLinks(v any) []opds2Link {
	var out []opds2Link
	for _, item := range coerceList(v) {
		switch t := item.(type) {
		case map[string]any:
			if l, ok := decodeLink(t); ok {
				out = append(out, l)
			}
		case string:
			out = append(out, embeddedXMLLinks(t)...)
		}
	}
	return out
}

func decodeLink(m map[string]any) (opds2Link, bool) {
	l := opds2Link{
		Href:  coerceString(m["href"]),
		Type:  coerceString(m["type"]),
		Title: coerceString(m["title"]),
		Rels:  coerceRelList(m["rel"]),
	}
	if l.Href == "" {
		return l, false
	}
	l.Templated, _ = m["templated"].(bool)
	props, _ := m["properties"].(map[string]any)
	if props == nil {
		return l, true
	}
	l.Count = coerceInt(props["numberOfItems"])
	l.Indirect = coerceIndirect(props["indirectAcquisition"], 0)
	if av, ok := props["availability"].(map[string]any); ok {
		l.HasAvail = true
		l.Status = firstNonEmpty(coerceString(av["state"]), coerceString(av["status"]))
		l.Since = coerceString(av["since"])
		l.Until = coerceString(av["until"])
	}
	if h, ok := props["holds"].(map[string]any); ok {
		l.HasAvail = true
		l.HoldsTotal = coerceInt(h["total"])
		l.HoldsPos = coerceInt(h["position"])
	}
	if c, ok := props["copies"].(map[string]any); ok {
		l.HasAvail = true
		l.CopiesTot = coerceInt(c["total"])
		l.CopiesAv = coerceInt(c["available"])
	}
	return l, true
}

func coerceIndirect(v any, depth int) []opds2Indirect {
	if depth >= maxIndirectDepth {
		return nil
	}
	var out []opds2Indirect
	for _, item := range coerceList(v) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, opds2Indirect{
			Type:     coerceString(m["type"]),
			Children: coerceIndirect(m["child"], depth+1),
		})
	}
	return out
}

// embeddedXMLLinks parses one or more serialized Atom <link> elements.
func embeddedXMLLinks(s string) []opds2Link {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<") {
		return nil
	}
	dec := newXMLDecoder([]byte(s))
	var out []opds2Link
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "link" {
			continue
		}
		var l Link
		if err := dec.DecodeElement(&l, &start); err != nil {
			return out
		}
		if l.Href == "" {
			continue
		}
		out = append(out, linkFromXML(l))
	}
}

func linkFromXML(l Link) opds2Link {
	out := opds2Link{
		Href:     strings.TrimSpace(l.Href),
		Type:     l.Type,
		Title:    l.Title,
		Rels:     coerceRelList(l.Rel),
		Count:    parseCount(l.Count),
		Indirect: indirectFromXML(l.IndirectAcquisitions, 0),
	}
	if a := linkAvailability(l); a != nil {
		out.HasAvail = true
		out.Status = a.Status
		out.Since = a.Since
		out.Until = a.Until
		out.HoldsTotal = a.HoldsTotal
		out.HoldsPos = a.HoldsPosition
		out.CopiesTot = a.CopiesTotal
		out.CopiesAv = a.CopiesAvailable
	}
	return out
}

func indirectFromXML(in []IndirectAcquisition, depth int) []opds2Indirect {
	if depth >= maxIndirectDepth {
		return nil
	}
	var out []opds2Indirect
	for _, a := range in {
		out = append(out, opds2Indirect{Type: a.Type, Children: indirectFromXML(a.Children, depth+1)})
	}
	return out
}
