package catalog

// NavigationSet accumulates navigation links, dropping repeats of the same
// rel|url pair.
type NavigationSet struct {
	links []NavigationLink
	seen  map[string]bool
}

// Add appends l unless a link with the same key was already added. It
// reports whether the link was kept.
func (s *NavigationSet) Add(l NavigationLink) bool {
	if l.URL == "" {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[l.Key()] {
		return false
	}
	s.seen[l.Key()] = true
	s.links = append(s.links, l)
	return true
}

// Len returns the number of links kept.
func (s *NavigationSet) Len() int {
	return len(s.links)
}

// Links returns the kept links in insertion order.
func (s *NavigationSet) Links() []NavigationLink {
	if s.links == nil {
		return []NavigationLink{}
	}
	return s.links
}

// FacetSet groups facet links by group title, preserving first-seen order of
// both groups and links.
type FacetSet struct {
	groups []FacetGroup
	index  map[string]int
	seen   map[string]bool
}

// Add files l under group.
func (s *FacetSet) Add(group string, l FacetLink) {
	if l.URL == "" {
		return
	}
	if s.index == nil {
		s.index = make(map[string]int)
		s.seen = make(map[string]bool)
	}
	key := group + "|" + l.URL
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	i, ok := s.index[group]
	if !ok {
		i = len(s.groups)
		s.index[group] = i
		s.groups = append(s.groups, FacetGroup{Title: group})
	}
	s.groups[i].Links = append(s.groups[i].Links, l)
}

// Groups returns the accumulated facet groups.
func (s *FacetSet) Groups() []FacetGroup {
	if s.groups == nil {
		return []FacetGroup{}
	}
	return s.groups
}
