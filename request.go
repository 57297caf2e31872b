package keyguard

import (
	"net/http"
	"net/url"
)

// Request is the transport-agnostic view of an inbound request that key
// extraction operates on. Hosts that are not built on net/http can
// populate it directly.
type Request struct {
	// Header holds the request headers. Lookup is case-insensitive.
	Header http.Header

	// Query holds the parsed query parameters.
	Query url.Values

	// Body is the parsed request body, if any. Only map[string]any
	// bodies are searched for keys.
	Body any

	// Cookies maps cookie names to values. A nil map means no cookies
	// were parsed.
	Cookies map[string]string
}

// NewRequest builds a Request from an *http.Request. The body is not
// read here; callers extracting keys from the body decode it and set
// Body themselves.
func NewRequest(r *http.Request) *Request {
	req := &Request{
		Header: r.Header,
		Query:  r.URL.Query(),
	}
	if cookies := r.Cookies(); len(cookies) > 0 {
		req.Cookies = make(map[string]string, len(cookies))
		for _, cookie := range cookies {
			req.Cookies[cookie.Name] = cookie.Value
		}
	}
	return req
}
