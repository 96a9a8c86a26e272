package opds

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madeddie/mebooks/catalog"
)

func TestRenderLaneRoundTrip(t *testing.T) {
	lane := LaneFeed{
		ID:      "urn:mebooks:lane:mystery",
		Title:   "Mystery",
		SelfURL: "https://me.example/opds/lane",
		Updated: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Books: []catalog.Book{{
			Title:                "Case",
			Author:               "Ann",
			ProviderID:           "urn:case",
			DownloadURL:          "https://x/case.epub",
			AcquisitionMediaType: "application/epub+zip",
			IsOpenAccess:         true,
			CoverImage:           "https://x/case.jpg",
			Publisher:            "Press",
			Categories:           []catalog.Category{{Label: "Mystery"}},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, lane))
	assert.Contains(t, buf.String(), `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, buf.String(), "<updated>2024-01-02T03:04:05Z</updated>")

	res, err := ParseOPDS1(buf.Bytes(), "https://me.example/")
	require.NoError(t, err)
	require.Len(t, res.Books, 1)
	b := res.Books[0]
	assert.Equal(t, "Case", b.Title)
	assert.Equal(t, "Ann", b.Author)
	assert.Equal(t, "Press", b.Publisher)
	assert.True(t, b.IsOpenAccess)
	assert.Equal(t, catalog.FormatEPUB, b.Format)
	assert.Equal(t, "https://x/case.jpg", b.CoverImage)

	data, err := RenderBytes(lane)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(data))
}
