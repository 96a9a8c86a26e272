package catalog

// MergeKey returns the identity used to merge repeated occurrences of a
// book: the provider ID when present, else the download URL.
func MergeKey(b Book) string {
	if b.ProviderID != "" {
		return b.ProviderID
	}
	return b.DownloadURL
}

// MergeBooks collapses books sharing a MergeKey into one record. Scalar
// fields take the first non-empty value in encounter order; list fields are
// unioned. Books without a key are kept as they are. The input is not
// modified.
func MergeBooks(books []Book) []Book {
	out := make([]Book, 0, len(books))
	index := make(map[string]int, len(books))
	for _, b := range books {
		key := MergeKey(b)
		if key == "" {
			out = append(out, b)
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = mergeBook(out[i], b)
			continue
		}
		index[key] = len(out)
		out = append(out, cloneBook(b))
	}
	return out
}

func mergeBook(a, b Book) Book {
	a.Title = firstString(a.Title, b.Title)
	a.Author = firstString(a.Author, b.Author)
	a.CoverImage = firstString(a.CoverImage, b.CoverImage)
	a.DownloadURL = firstString(a.DownloadURL, b.DownloadURL)
	a.Summary = firstString(a.Summary, b.Summary)
	a.Publisher = firstString(a.Publisher, b.Publisher)
	a.PublicationDate = firstString(a.PublicationDate, b.PublicationDate)
	a.ProviderID = firstString(a.ProviderID, b.ProviderID)
	a.Distributor = firstString(a.Distributor, b.Distributor)
	a.Format = Format(firstString(string(a.Format), string(b.Format)))
	a.AcquisitionMediaType = firstString(a.AcquisitionMediaType, b.AcquisitionMediaType)
	a.MediumFormatCode = firstString(a.MediumFormatCode, b.MediumFormatCode)
	a.AvailabilityStatus = firstString(a.AvailabilityStatus, b.AvailabilityStatus)
	a.SchemaOrgType = firstString(a.SchemaOrgType, b.SchemaOrgType)
	a.PublicationTypeLabel = firstString(a.PublicationTypeLabel, b.PublicationTypeLabel)
	a.IsOpenAccess = a.IsOpenAccess || b.IsOpenAccess
	if a.Availability == nil {
		a.Availability = b.Availability
	}
	if a.Series == nil {
		a.Series = b.Series
	}
	if a.Accessibility == nil {
		a.Accessibility = b.Accessibility
	}
	a.Subjects = unionStrings(a.Subjects, b.Subjects)
	a.Contributors = unionStrings(a.Contributors, b.Contributors)
	a.Identifiers = unionStrings(a.Identifiers, b.Identifiers)
	a.AlternativeFormats = unionBy(a.AlternativeFormats, b.AlternativeFormats, func(f AlternativeFormat) string {
		return string(f.Format) + "|" + f.DownloadURL
	})
	a.Collections = unionBy(a.Collections, b.Collections, func(c Collection) string {
		return c.Title + "|" + c.Href
	})
	a.SeriesList = unionBy(a.SeriesList, b.SeriesList, func(s Series) string { return s.Name })
	a.Categories = unionBy(a.Categories, b.Categories, func(c Category) string {
		return c.Scheme + "|" + c.Term + "|" + c.Label
	})
	return a
}

func cloneBook(b Book) Book {
	b.Subjects = append([]string(nil), b.Subjects...)
	b.Contributors = append([]string(nil), b.Contributors...)
	b.Identifiers = append([]string(nil), b.Identifiers...)
	b.AlternativeFormats = append([]AlternativeFormat(nil), b.AlternativeFormats...)
	b.Collections = append([]Collection(nil), b.Collections...)
	b.SeriesList = append([]Series(nil), b.SeriesList...)
	b.Categories = append([]Category(nil), b.Categories...)
	return b
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func unionStrings(a, b []string) []string {
	return unionBy(a, b, func(s string) string { return s })
}

func unionBy[T any](a, b []T, key func(T) string) []T {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]T, 0, len(a)+len(b))
	for _, v := range a {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	for _, v := range b {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
