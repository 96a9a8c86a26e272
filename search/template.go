package search

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildOpenSearchURL expands an OpenSearch URL template. It understands
// {name}, {name?}, {prefix:name?} and the query form {?a,b?,c?}. Values are
// percent-encoded with %20 for spaces. A missing required parameter is an
// error; a missing optional one expands to nothing.
func BuildOpenSearchURL(template string, params map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("search: unterminated expression in template %q", template)
		}
		b.WriteString(rest[:open])
		expr := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		var out string
		var err error
		if strings.HasPrefix(expr, "?") {
			out, err = expandQuery(expr[1:], params, strings.Contains(b.String(), "?"))
		} else {
			out, err = expandSimple(expr, params)
		}
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func expandSimple(expr string, params map[string]string) (string, error) {
	name, optional := strings.CutSuffix(strings.TrimSpace(expr), "?")
	v, ok := lookup(params, name)
	if !ok {
		if !optional {
			return "", fmt.Errorf("search: missing required parameter %q", name)
		}
		return "", nil
	}
	return escape(v), nil
}

// expandQuery renders {?a,b?} as ?a=1&b=2, using & when the URL already
// has a query.
func expandQuery(expr string, params map[string]string, hasQuery bool) (string, error) {
	var pairs []string
	for _, part := range strings.Split(expr, ",") {
		name, optional := strings.CutSuffix(strings.TrimSpace(part), "?")
		if name == "" {
			continue
		}
		v, ok := lookup(params, name)
		if !ok {
			if !optional {
				return "", fmt.Errorf("search: missing required parameter %q", name)
			}
			continue
		}
		pairs = append(pairs, localName(name)+"="+escape(v))
	}
	if len(pairs) == 0 {
		return "", nil
	}
	sep := "?"
	if hasQuery {
		sep = "&"
	}
	return sep + strings.Join(pairs, "&"), nil
}

// lookup finds a parameter by its full name, then by its local name
// without a namespace prefix. Empty values count as absent.
func lookup(params map[string]string, name string) (string, bool) {
	if v, ok := params[name]; ok && v != "" {
		return v, true
	}
	if v, ok := params[localName(name)]; ok && v != "" {
		return v, true
	}
	return "", false
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
