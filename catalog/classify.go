package catalog

import "strings"

// ClassifyAudience derives a book's audience from its categories, then its
// subjects. The second return is false when nothing matched.
func ClassifyAudience(b Book) (string, bool) {
	return classify(b, "audience", audienceFromText)
}

// ClassifyFiction derives fiction or nonfiction from categories, then
// subjects.
func ClassifyFiction(b Book) (string, bool) {
	return classify(b, "fiction", fictionFromText)
}

func classify(b Book, scheme string, match func(string) (string, bool)) (string, bool) {
	// Categories whose scheme names the facet are authoritative.
	for _, c := range b.Categories {
		if !strings.Contains(strings.ToLower(c.Scheme), scheme) {
			continue
		}
		if v, ok := matchCategory(c, match); ok {
			return v, true
		}
	}
	for _, c := range b.Categories {
		if v, ok := matchCategory(c, match); ok {
			return v, true
		}
	}
	for _, s := range b.Subjects {
		if v, ok := match(s); ok {
			return v, true
		}
	}
	return "", false
}

func matchCategory(c Category, match func(string) (string, bool)) (string, bool) {
	if v, ok := match(c.Label); ok {
		return v, true
	}
	return match(c.Term)
}

func audienceFromText(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	switch {
	case s == "ya", strings.Contains(s, "young adult"), strings.Contains(s, "young-adult"),
		strings.Contains(s, "teen"):
		return AudienceYoungAdult, true
	case strings.Contains(s, "juvenile"), strings.Contains(s, "children"), strings.Contains(s, "child"),
		strings.Contains(s, "kids"):
		return AudienceChildren, true
	case strings.Contains(s, "adult"):
		return AudienceAdult, true
	}
	return "", false
}

func fictionFromText(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return "", false
	case strings.Contains(s, "nonfiction"), strings.Contains(s, "non-fiction"), strings.Contains(s, "non fiction"):
		return Nonfiction, true
	case strings.Contains(s, "fiction"):
		return Fiction, true
	}
	return "", false
}
