package opds

import (
	"bytes"
	"strings"
)

// Version identifies an OPDS major version.
type Version string

const (
	VersionAuto Version = "auto"
	Version1    Version = "1"
	Version2    Version = "2"
)

// ParseVersion normalizes a caller-supplied version hint. Anything other
// than "1" or "2" means auto-detection.
func ParseVersion(s string) Version {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "opds1", "1.2":
		return Version1
	case "2", "opds2", "2.0":
		return Version2
	}
	return VersionAuto
}

// VersionForMediaType maps a link's media type to the OPDS version of the
// document behind it: JSON types are OPDS 2, XML and Atom types OPDS 1.
// Other types, including concrete content types, yield "".
func VersionForMediaType(t string) Version {
	essence, _, _ := strings.Cut(strings.ToLower(t), ";")
	essence = strings.TrimSpace(essence)
	switch {
	case essence == "":
		return ""
	case essence == "application/json", strings.HasSuffix(essence, "+json"):
		return Version2
	case strings.HasSuffix(essence, "/xml"), strings.HasSuffix(essence, "+xml"):
		return Version1
	}
	return ""
}

// DetectVersion classifies a document. Strings and byte slices are sniffed
// by their first non-blank character; any other value is assumed to be an
// already-decoded OPDS 2 document. It returns "" when the text cannot be
// classified.
func DetectVersion(v any) Version {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return sniff([]byte(d))
	case []byte:
		return sniff(d)
	}
	return Version2
}

func sniff(data []byte) Version {
	data = bytes.TrimLeft(data, "\ufeff \t\r\n")
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '<':
		return Version1
	case '{', '[':
		return Version2
	}
	return ""
}
