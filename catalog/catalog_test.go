package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestPaginationSummary(t *testing.T) {
	tests := []struct {
		name string
		p    Pagination
		want string
	}{
		{"first page", Pagination{TotalResults: intPtr(42), ItemsPerPage: intPtr(10), StartIndex: intPtr(1)}, "Showing 1-10 of 42"},
		{"last page clamps", Pagination{TotalResults: intPtr(42), ItemsPerPage: intPtr(10), StartIndex: intPtr(41)}, "Showing 41-42 of 42"},
		{"missing start", Pagination{TotalResults: intPtr(5), ItemsPerPage: intPtr(10)}, "Showing 1-5 of 5"},
		{"empty", Pagination{TotalResults: intPtr(0), ItemsPerPage: intPtr(10)}, "Showing 0 of 0"},
		{"no counters", Pagination{Next: "https://x/2"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Summary())
		})
	}
}

func TestPaginationIsZero(t *testing.T) {
	assert.True(t, Pagination{}.IsZero())
	assert.False(t, Pagination{Next: "n"}.IsZero())
}

func TestResultFacetLinkCount(t *testing.T) {
	r := NewResult()
	assert.NotNil(t, r.Books)
	r.FacetGroups = []FacetGroup{{Links: make([]FacetLink, 2)}, {Links: make([]FacetLink, 3)}}
	assert.Equal(t, 5, r.FacetLinkCount())
}
