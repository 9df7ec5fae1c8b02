// Package httpmsg is the HTTP/1.1 collaborator spec.md §6 calls for: a
// decoder that yields a request with method/path/version/header
// accessors and a body-reading helper bound to the owning stream, plus a
// response writer that speaks status lines, headers, Content-Length, and
// chunked transfer-encoding.
package httpmsg

import (
	"net/textproto"
	"strings"
)

// Header is a case-insensitive multi-value header map, canonicalized the
// way net/textproto does it (e.g. "content-type" -> "Content-Type").
type Header map[string][]string

func canonicalKey(key string) string {
	return textproto.CanonicalMIMEHeaderKey(key)
}

// Get returns the first value for key, or "" if absent.
func (h Header) Get(key string) string {
	v := h[canonicalKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Set replaces all values for key.
func (h Header) Set(key, value string) {
	h[canonicalKey(key)] = []string{value}
}

// Add appends value to key's existing values.
func (h Header) Add(key, value string) {
	k := canonicalKey(key)
	h[k] = append(h[k], value)
}

// Del removes key entirely.
func (h Header) Del(key string) {
	delete(h, canonicalKey(key))
}

// Request is a decoded HTTP/1.1 request line plus headers. The body is
// not decoded eagerly — callers read it through Body, which is bound to
// the stream the request was read from.
type Request struct {
	Method  string
	Path    string
	Query   string
	Proto   string
	Header  Header

	Body *BodyReader
}

// splitRequestTarget separates a request-target into path and query,
// matching the way most HTTP servers expose r.URL.Path / r.URL.RawQuery.
func splitRequestTarget(target string) (path, query string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

// ContentLength parses the Content-Length header, returning -1 if absent
// or malformed (the latter is a protocol error the caller should reject).
func (r *Request) ContentLength() (int64, bool) {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return -1, true
	}
	n, err := parseInt64(v)
	if err != nil {
		return -1, false
	}
	return n, true
}

// IsChunked reports whether Transfer-Encoding names chunked — when set,
// Content-Length (even if present) must be ignored per RFC 7230 §3.3.3.
func (r *Request) IsChunked() bool {
	return strings.EqualFold(r.Header.Get("Transfer-Encoding"), "chunked")
}

func parseInt64(s string) (int64, error) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotDigits
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
