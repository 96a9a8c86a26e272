package catalog

import (
	"slices"
	"strings"
)

// OtherLane collects books that carry no category, subject or series.
const OtherLane = "Other"

type laneBuilder struct {
	lane   Lane
	series bool
	seen   map[int]bool
}

// GroupBySubject distributes books into lanes keyed by category label (term
// when the label is empty), falling back to subjects and then the book's
// series. A book with several labels appears in each lane. Lanes keep
// first-encounter order; lanes built from a series are ordered by series
// position.
func GroupBySubject(books []Book) []Lane {
	var order []*laneBuilder
	byName := make(map[string]*laneBuilder)

	add := func(name string, series bool, i int) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		lb, ok := byName[name]
		if !ok {
			lb = &laneBuilder{lane: Lane{Category: name}, seen: make(map[int]bool)}
			byName[name] = lb
			order = append(order, lb)
		}
		lb.series = lb.series || series
		if lb.seen[i] {
			return
		}
		lb.seen[i] = true
		lb.lane.Books = append(lb.lane.Books, books[i])
	}

	for i, b := range books {
		switch {
		case len(b.Categories) > 0:
			for _, c := range b.Categories {
				name := c.Label
				if name == "" {
					name = c.Term
				}
				add(name, isSeriesScheme(c.Scheme), i)
			}
		case len(b.Subjects) > 0:
			for _, s := range b.Subjects {
				add(s, false, i)
			}
		case b.Series != nil && b.Series.Name != "":
			add(b.Series.Name, true, i)
		default:
			add(OtherLane, false, i)
		}
	}

	lanes := make([]Lane, 0, len(order))
	for _, lb := range order {
		if lb.series {
			slices.SortStableFunc(lb.lane.Books, func(a, b Book) int {
				pa, pb := seriesPosition(a, lb.lane.Category), seriesPosition(b, lb.lane.Category)
				switch {
				case pa < pb:
					return -1
				case pa > pb:
					return 1
				}
				return 0
			})
		}
		lanes = append(lanes, lb.lane)
	}
	return lanes
}

func isSeriesScheme(scheme string) bool {
	return strings.Contains(strings.ToLower(scheme), "series")
}

// seriesPosition is b's position in the named series, 0 when unknown.
func seriesPosition(b Book, name string) float64 {
	for _, s := range b.SeriesList {
		if strings.EqualFold(strings.TrimSpace(s.Name), name) && s.Position != nil {
			return *s.Position
		}
	}
	if b.Series != nil && b.Series.Position != nil && strings.EqualFold(strings.TrimSpace(b.Series.Name), name) {
		return *b.Series.Position
	}
	return 0
}
