package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"github.com/madeddie/mebooks/opds"
)

// Proxy response headers that say who produced a 403.
const (
	HeaderProxyErrorSource = "x-mebooks-proxy-error-source"
	HeaderUpstreamStatus   = "x-mebooks-upstream-status"

	ProxyErrorSourceProxy    = "proxy"
	ProxyErrorSourceUpstream = "upstream"
)

// Kind classifies a failed catalog operation by what the user can do
// about it.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindTransport
	KindAuthRequired
	KindProxyCapability
	KindAmbiguousFormat
	KindRateLimited
	KindUpstreamDenied
	KindHTTPStatus
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindTransport:
		return "transport"
	case KindAuthRequired:
		return "auth_required"
	case KindProxyCapability:
		return "proxy_capability"
	case KindAmbiguousFormat:
		return "ambiguous_format"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamDenied:
		return "upstream_denied"
	case KindHTTPStatus:
		return "http_status"
	}
	return "unknown"
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrMalformed       = opds.ErrMalformed
	ErrTransport       = errors.New("fetch: transport failure")
	ErrAuthRequired    = errors.New("fetch: authentication required")
	ErrProxyCapability = errors.New("fetch: proxy cannot serve request")
	ErrAmbiguousFormat = errors.New("fetch: unsupported catalog format")
	ErrRateLimited     = errors.New("fetch: rate limited")
	ErrUpstreamDenied  = errors.New("fetch: upstream denied access")
	ErrHTTPStatus      = errors.New("fetch: unexpected HTTP status")
)

var sentinels = map[Kind]error{
	KindMalformed:       ErrMalformed,
	KindTransport:       ErrTransport,
	KindAuthRequired:    ErrAuthRequired,
	KindProxyCapability: ErrProxyCapability,
	KindAmbiguousFormat: ErrAmbiguousFormat,
	KindRateLimited:     ErrRateLimited,
	KindUpstreamDenied:  ErrUpstreamDenied,
	KindHTTPStatus:      ErrHTTPStatus,
}

// TransportClass is the user-facing category of a transport failure.
type TransportClass string

const (
	TransportIncompleteBody TransportClass = "incomplete_body"
	TransportOffline        TransportClass = "offline"
	TransportGeneric        TransportClass = "network"
)

// Error is a classified catalog failure.
type Error struct {
	Kind         Kind
	Op           string
	URL          string
	Status       int
	ContentType  string
	AuthDocument *opds.AuthDocument
	ProxyUsed    bool
	Transport    TransportClass
	RetryAfter   string
	Host         string
	Hint         string
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fetch: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	if e.URL != "" {
		b.WriteString(e.URL)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Kind == KindAmbiguousFormat {
		fmt.Fprintf(&b, " (Content-Type %q)", e.ContentType)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}

// ClassifyTransport sorts a transport error into a user-facing category.
func ClassifyTransport(err error) TransportClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "unexpected EOF") {
		return TransportIncompleteBody
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return TransportOffline
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return TransportOffline
	}
	return TransportGeneric
}

// TransportError wraps a failed round trip.
func TransportError(op, target string, proxied bool, err error) *Error {
	return &Error{
		Kind:      KindTransport,
		Op:        op,
		URL:       target,
		ProxyUsed: proxied,
		Transport: ClassifyTransport(err),
		Err:       err,
	}
}

type proxyRejection struct {
	Error    string `json:"error"`
	Host     string `json:"host"`
	Protocol string `json:"protocol"`
}

// ClassifyResponse turns a non-success response into an *Error. body may
// be nil.
func ClassifyResponse(op, target string, resp *http.Response, body []byte, route Route) *Error {
	e := &Error{
		Op:          op,
		URL:         target,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		ProxyUsed:   route.Proxied(),
	}
	source := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderProxyErrorSource)))
	switch {
	case resp.StatusCode == http.StatusForbidden && source == ProxyErrorSourceProxy:
		e.Kind = KindProxyCapability
		var rej proxyRejection
		if json.Unmarshal(body, &rej) == nil {
			e.Host = rej.Host
			if rej.Error != "" {
				e.Err = errors.New(rej.Error)
			}
			if rej.Protocol == "http:" {
				e.Hint = "the upstream uses plain HTTP; the proxy only allows HTTPS catalogs unless the host is explicitly allowlisted"
			}
		}
	case resp.StatusCode == http.StatusForbidden && source == ProxyErrorSourceUpstream:
		e.Kind = KindUpstreamDenied
		if s, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get(HeaderUpstreamStatus))); err == nil {
			e.Status = s
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuthRequired
		if doc, err := opds.ParseAuthDocument(body); err == nil {
			e.AuthDocument = doc
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = resp.Header.Get("Retry-After")
	default:
		e.Kind = KindHTTPStatus
	}
	return e
}

// UserMessage renders err as a sentence suitable for the UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}
	fe, ok := AsError(err)
	if !ok {
		if errors.Is(err, opds.ErrMalformed) {
			return "The catalog feed could not be read: " + err.Error()
		}
		return err.Error()
	}
	switch fe.Kind {
	case KindMalformed:
		return "The catalog feed could not be read: " + fe.Err.Error()
	case KindTransport:
		switch fe.Transport {
		case TransportIncompleteBody:
			return "The catalog response was cut off before it finished downloading. Please try again."
		case TransportOffline:
			return "Could not reach the catalog. Check your internet connection."
		}
		return "A network error occurred while loading the catalog."
	case KindAuthRequired:
		if fe.AuthDocument != nil && fe.AuthDocument.Title != "" {
			return fe.AuthDocument.Title + " requires you to sign in."
		}
		return fmt.Sprintf("This catalog requires you to sign in (HTTP %d).", fe.Status)
	case KindProxyCapability:
		msg := "This catalog cannot be reached without a CORS proxy that forwards credentials."
		if fe.Status == http.StatusForbidden {
			msg = "The proxy refused to fetch this catalog"
			if fe.Host != "" {
				msg += " (" + fe.Host + " is not on its allowlist)"
			}
			msg += "."
		}
		if fe.Hint != "" {
			msg += " Hint: " + fe.Hint + "."
		}
		return msg
	case KindAmbiguousFormat:
		return fmt.Sprintf("Unsupported catalog format (Content-Type %q).", fe.ContentType)
	case KindRateLimited:
		if fe.RetryAfter != "" {
			return "The catalog is limiting requests. Try again in " + fe.RetryAfter + " seconds."
		}
		return "The catalog is limiting requests. Try again later."
	case KindUpstreamDenied:
		return fmt.Sprintf("The catalog server denied access (HTTP %d).", fe.Status)
	}
	return fmt.Sprintf("The catalog returned HTTP %d.", fe.Status)
}
