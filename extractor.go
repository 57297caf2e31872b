package keyguard

import "strings"

// SourceType identifies where in a request a key is looked up.
type SourceType string

// Source types.
const (
	SourceHeader SourceType = "header"
	SourceQuery  SourceType = "query"
	SourceBody   SourceType = "body"
	SourceCookie SourceType = "cookie"
)

// Source describes one location to look up an API key. An ordered list
// of sources defines extraction priority.
type Source struct {
	// Type is the location type.
	Type SourceType `yaml:"type" json:"type"`

	// Name is the header, query parameter, body field, or cookie name.
	Name string `yaml:"name" json:"name"`

	// Prefix is stripped from the value when the value starts with it
	// exactly. A value that does not start with the prefix is used
	// unmodified.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// DefaultSources returns the default extraction source list: the
// X-API-Key header.
func DefaultSources() []Source {
	return []Source{
		{Type: SourceHeader, Name: "X-API-Key"},
	}
}

// ExtractKey returns the first non-empty key found by trying sources in
// order. Values are prefix-stripped and whitespace-trimmed before the
// non-empty check, so a source whose value trims away entirely does not
// win. Returns "" when no source yields a key.
func ExtractKey(req *Request, sources []Source) string {
	if req == nil {
		return ""
	}
	for _, source := range sources {
		if value := extractFromSource(req, source); value != "" {
			return value
		}
	}
	return ""
}

// extractFromSource extracts a candidate value from a single source.
func extractFromSource(req *Request, source Source) string {
	var value string

	switch source.Type {
	case SourceHeader:
		if req.Header != nil {
			value = req.Header.Get(source.Name)
		}
	case SourceQuery:
		// Repeated parameters parse to multiple values; only a single
		// plain value is accepted as a key.
		if values := req.Query[source.Name]; len(values) == 1 {
			value = values[0]
		}
	case SourceBody:
		if body, ok := req.Body.(map[string]any); ok {
			if s, ok := body[source.Name].(string); ok {
				value = s
			}
		}
	case SourceCookie:
		value = req.Cookies[source.Name]
	}

	if value == "" {
		return ""
	}

	if source.Prefix != "" && strings.HasPrefix(value, source.Prefix) {
		value = strings.TrimPrefix(value, source.Prefix)
	}

	return strings.TrimSpace(value)
}
