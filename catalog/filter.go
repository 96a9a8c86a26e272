package catalog

import "strings"

// FilterAll is the passthrough value accepted by every filter.
const FilterAll = "all"

// Audience filter values.
const (
	AudienceAdult      = "adult"
	AudienceYoungAdult = "young-adult"
	AudienceChildren   = "children"
)

// Fiction filter values.
const (
	Fiction    = "fiction"
	Nonfiction = "nonfiction"
)

// Media filter values.
const (
	MediaEBook     = "ebook"
	MediaAudiobook = "audiobook"
)

// Availability filter values.
const (
	AvailabilityAvailable   = "available"
	AvailabilityUnavailable = "unavailable"
	AvailabilityOpenAccess  = "open-access"
)

func isAll(v string) bool {
	return v == "" || strings.EqualFold(v, FilterAll)
}

func filterBooks(books []Book, keep func(Book) bool) []Book {
	out := make([]Book, 0, len(books))
	for _, b := range books {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func passthrough(books []Book) []Book {
	return append(make([]Book, 0, len(books)), books...)
}

// FilterByAudience keeps books whose audience matches mode. Books whose
// audience cannot be determined count as adult.
func FilterByAudience(books []Book, mode string) []Book {
	if isAll(mode) {
		return passthrough(books)
	}
	mode = strings.ToLower(mode)
	return filterBooks(books, func(b Book) bool {
		audience, ok := ClassifyAudience(b)
		if !ok {
			return mode == AudienceAdult
		}
		return audience == mode
	})
}

// FilterByFiction keeps books matching mode. Books that are neither
// recognizably fiction nor nonfiction are kept for both modes.
func FilterByFiction(books []Book, mode string) []Book {
	if isAll(mode) {
		return passthrough(books)
	}
	mode = strings.ToLower(mode)
	return filterBooks(books, func(b Book) bool {
		kind, ok := ClassifyFiction(b)
		if !ok {
			return true
		}
		return kind == mode
	})
}

// FilterByMedia keeps audiobooks or ebooks.
func FilterByMedia(books []Book, mode string) []Book {
	if isAll(mode) {
		return passthrough(books)
	}
	mode = strings.ToLower(mode)
	return filterBooks(books, func(b Book) bool {
		if IsAudiobook(b) {
			return mode == MediaAudiobook
		}
		return mode == MediaEBook
	})
}

// IsAudiobook reports whether b was classified as an audiobook.
func IsAudiobook(b Book) bool {
	return b.Format == FormatAudiobook || b.MediumFormatCode == MediumAudio
}

// FilterByAvailability keeps books by borrowing state.
func FilterByAvailability(books []Book, mode string) []Book {
	if isAll(mode) {
		return passthrough(books)
	}
	mode = strings.ToLower(mode)
	return filterBooks(books, func(b Book) bool {
		switch mode {
		case AvailabilityOpenAccess:
			return b.IsOpenAccess
		case AvailabilityAvailable:
			return isAvailable(b)
		case AvailabilityUnavailable:
			return !isAvailable(b)
		}
		return false
	})
}

func isAvailable(b Book) bool {
	if b.IsOpenAccess {
		return true
	}
	switch strings.ToLower(b.AvailabilityStatus) {
	case "available", "ready":
		return true
	case "":
		return b.DownloadURL != ""
	}
	return false
}

// FilterByDistributor keeps books from the named distributor.
func FilterByDistributor(books []Book, distributor string) []Book {
	if isAll(distributor) {
		return passthrough(books)
	}
	return filterBooks(books, func(b Book) bool {
		return strings.EqualFold(b.Distributor, distributor)
	})
}

// FilterByPublicationType keeps books by Schema.org type, matched against
// either the type label or the full type URI.
func FilterByPublicationType(books []Book, publicationType string) []Book {
	if isAll(publicationType) {
		return passthrough(books)
	}
	return filterBooks(books, func(b Book) bool {
		return strings.EqualFold(b.PublicationTypeLabel, publicationType) ||
			strings.EqualFold(b.SchemaOrgType, publicationType)
	})
}

// FilterByCollection keeps books belonging to a collection, matched by
// title or href.
func FilterByCollection(books []Book, collection string) []Book {
	if isAll(collection) {
		return passthrough(books)
	}
	return filterBooks(books, func(b Book) bool {
		for _, c := range b.Collections {
			if strings.EqualFold(c.Title, collection) || c.Href == collection {
				return true
			}
		}
		return false
	})
}

// Filters bundles every filter value; empty fields mean "all".
type Filters struct {
	Audience        string `json:"audience,omitempty"`
	Fiction         string `json:"fiction,omitempty"`
	Media           string `json:"media,omitempty"`
	Availability    string `json:"availability,omitempty"`
	Distributor     string `json:"distributor,omitempty"`
	PublicationType string `json:"publicationType,omitempty"`
	Collection      string `json:"collection,omitempty"`
}

// Apply runs every filter in turn and returns a new slice.
func (f Filters) Apply(books []Book) []Book {
	out := FilterByAudience(books, f.Audience)
	out = FilterByFiction(out, f.Fiction)
	out = FilterByMedia(out, f.Media)
	out = FilterByAvailability(out, f.Availability)
	out = FilterByDistributor(out, f.Distributor)
	out = FilterByPublicationType(out, f.PublicationType)
	return FilterByCollection(out, f.Collection)
}
