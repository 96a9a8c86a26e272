package opds

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuthTypeBasic is the OPDS authentication type for HTTP Basic.
const AuthTypeBasic = "http://opds-spec.org/auth/basic"

// AuthDocument is an OPDS Authentication document, returned by catalogs
// alongside 401 responses.
type AuthDocument struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Authentication []AuthMethod `json:"authentication"`
	Links          []AuthLink   `json:"links,omitempty"`
}

// AuthMethod is one supported authentication flow.
type AuthMethod struct {
	Type   string     `json:"type"`
	Labels AuthLabels `json:"labels,omitempty"`
	Links  []AuthLink `json:"links,omitempty"`
}

// AuthLabels are the prompts a client shows for the login fields.
type AuthLabels struct {
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
}

// AuthLink is a link in an authentication document (logo, register, help).
type AuthLink struct {
	Rel  string `json:"rel,omitempty"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// ParseAuthDocument decodes an OPDS Authentication document. A document
// without an authentication list is rejected.
func ParseAuthDocument(data []byte) (*AuthDocument, error) {
	var doc AuthDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("opds: decode auth document: %w", err)
	}
	if len(doc.Authentication) == 0 {
		return nil, fmt.Errorf("opds: auth document has no authentication methods")
	}
	return &doc, nil
}

// SupportsBasic reports whether the catalog accepts HTTP Basic credentials.
func (d *AuthDocument) SupportsBasic() bool {
	if d == nil {
		return false
	}
	for _, m := range d.Authentication {
		if strings.EqualFold(m.Type, AuthTypeBasic) {
			return true
		}
	}
	return false
}
