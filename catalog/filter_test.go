package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func titles(books []Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

var filterFixture = []Book{
	{Title: "Grown", Categories: []Category{{Scheme: "http://schema.org/audience", Term: "Adult"}}, Subjects: []string{"Fiction"}},
	{Title: "Teen", Categories: []Category{{Scheme: "http://schema.org/audience", Term: "Young Adult"}}},
	{Title: "Kid", Subjects: []string{"Juvenile Nonfiction"}},
	{Title: "Plain"},
}

func TestFilterByAudience(t *testing.T) {
	assert.Equal(t, []string{"Grown", "Plain"}, titles(FilterByAudience(filterFixture, AudienceAdult)))
	assert.Equal(t, []string{"Teen"}, titles(FilterByAudience(filterFixture, AudienceYoungAdult)))
	assert.Equal(t, []string{"Kid"}, titles(FilterByAudience(filterFixture, AudienceChildren)))
	assert.Len(t, FilterByAudience(filterFixture, FilterAll), 4)
	assert.Len(t, FilterByAudience(filterFixture, ""), 4)
}

func TestFilterByFiction(t *testing.T) {
	// unclassified books appear under both modes
	assert.Equal(t, []string{"Grown", "Teen", "Plain"}, titles(FilterByFiction(filterFixture, Fiction)))
	assert.Equal(t, []string{"Teen", "Kid", "Plain"}, titles(FilterByFiction(filterFixture, Nonfiction)))
}

func TestFictionSchemeDoesNotClassify(t *testing.T) {
	b := Book{Categories: []Category{{Scheme: "http://librarysimplified.org/terms/fiction/", Term: "http://librarysimplified.org/terms/fiction/Nonfiction", Label: "Nonfiction"}}}
	kind, ok := ClassifyFiction(b)
	assert.True(t, ok)
	assert.Equal(t, Nonfiction, kind)
}

func TestFilterByMedia(t *testing.T) {
	books := []Book{
		{Title: "Listen", Format: FormatAudiobook},
		{Title: "Badge", MediumFormatCode: MediumAudio},
		{Title: "Read", Format: FormatEPUB},
	}
	assert.Equal(t, []string{"Listen", "Badge"}, titles(FilterByMedia(books, MediaAudiobook)))
	assert.Equal(t, []string{"Read"}, titles(FilterByMedia(books, MediaEBook)))
}

func TestFilterByAvailability(t *testing.T) {
	books := []Book{
		{Title: "Free", IsOpenAccess: true},
		{Title: "Ready", AvailabilityStatus: "ready"},
		{Title: "Unknown", DownloadURL: "https://x/b"},
		{Title: "Held", AvailabilityStatus: "unavailable", DownloadURL: "https://x/c"},
	}
	assert.Equal(t, []string{"Free", "Ready", "Unknown"}, titles(FilterByAvailability(books, AvailabilityAvailable)))
	assert.Equal(t, []string{"Held"}, titles(FilterByAvailability(books, AvailabilityUnavailable)))
	assert.Equal(t, []string{"Free"}, titles(FilterByAvailability(books, AvailabilityOpenAccess)))
}

func TestFiltersApply(t *testing.T) {
	books := []Book{
		{Title: "A", Distributor: "Overdrive", PublicationTypeLabel: "EBook", Collections: []Collection{{Title: "Staff Picks", Href: "https://x/picks"}}},
		{Title: "B", Distributor: "Overdrive", PublicationTypeLabel: "Audiobook"},
		{Title: "C", Distributor: "Bibliotheca", PublicationTypeLabel: "EBook"},
	}
	got := Filters{Distributor: "overdrive", PublicationType: "EBook", Collection: "Staff Picks"}.Apply(books)
	assert.Equal(t, []string{"A"}, titles(got))

	got = Filters{Collection: "https://x/picks"}.Apply(books)
	assert.Equal(t, []string{"A"}, titles(got))
}
