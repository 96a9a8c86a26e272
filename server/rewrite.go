package server

import (
	"net/url"

	"github.com/madeddie/mebooks/catalog"
	"github.com/madeddie/mebooks/opds"
)

// rewriteAcquisitions points each book's acquisition links at the
// server's acquire endpoint so readers of a republished lane get the
// resolved download. Books are copied; the cached result is not mutated.
func rewriteAcquisitions(books []catalog.Book, prefix string, version opds.Version) []catalog.Book {
	out := make([]catalog.Book, len(books))
	for i, b := range books {
		out[i] = b
		if b.DownloadURL != "" && !b.IsOpenAccess {
			out[i].DownloadURL = acquireHref(prefix, b.DownloadURL, version)
		}
		if len(b.AlternativeFormats) == 0 {
			continue
		}
		out[i].AlternativeFormats = make([]catalog.AlternativeFormat, len(b.AlternativeFormats))
		for j, alt := range b.AlternativeFormats {
			out[i].AlternativeFormats[j] = alt
			if alt.DownloadURL != "" && !alt.IsOpenAccess {
				out[i].AlternativeFormats[j].DownloadURL = acquireHref(prefix, alt.DownloadURL, version)
			}
		}
	}
	return out
}

func acquireHref(prefix, href string, version opds.Version) string {
	q := url.Values{"href": {href}}
	if version != "" && version != opds.VersionAuto {
		q.Set("version", string(version))
	}
	return prefix + "/opds/acquire?" + q.Encode()
}
