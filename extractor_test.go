package keyguard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSources(t *testing.T) {
	t.Parallel()

	sources := DefaultSources()
	assert.Equal(t, []Source{{Type: SourceHeader, Name: "X-API-Key"}}, sources)
}

func TestExtractKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sources  []Source
		setupReq func(*Request)
		want     string
	}{
		{
			name:    "extract from header",
			sources: []Source{{Type: SourceHeader, Name: "X-API-Key"}},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "secret123")
			},
			want: "secret123",
		},
		{
			name:    "header lookup is case insensitive",
			sources: []Source{{Type: SourceHeader, Name: "x-api-key"}},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "secret123")
			},
			want: "secret123",
		},
		{
			name:    "extract from query parameter",
			sources: []Source{{Type: SourceQuery, Name: "api_key"}},
			setupReq: func(r *Request) {
				r.Query.Set("api_key", "secret123")
			},
			want: "secret123",
		},
		{
			name:    "repeated query parameter is not accepted",
			sources: []Source{{Type: SourceQuery, Name: "api_key"}},
			setupReq: func(r *Request) {
				r.Query.Add("api_key", "first")
				r.Query.Add("api_key", "second")
			},
			want: "",
		},
		{
			name:    "extract from body field",
			sources: []Source{{Type: SourceBody, Name: "apiKey"}},
			setupReq: func(r *Request) {
				r.Body = map[string]any{"apiKey": "secret123"}
			},
			want: "secret123",
		},
		{
			name:    "non-string body field is ignored",
			sources: []Source{{Type: SourceBody, Name: "apiKey"}},
			setupReq: func(r *Request) {
				r.Body = map[string]any{"apiKey": 42}
			},
			want: "",
		},
		{
			name:    "non-map body is ignored",
			sources: []Source{{Type: SourceBody, Name: "apiKey"}},
			setupReq: func(r *Request) {
				r.Body = []any{"secret123"}
			},
			want: "",
		},
		{
			name:    "extract from cookie",
			sources: []Source{{Type: SourceCookie, Name: "api_key"}},
			setupReq: func(r *Request) {
				r.Cookies = map[string]string{"api_key": "secret123"}
			},
			want: "secret123",
		},
		{
			name:    "prefix stripped on exact match",
			sources: []Source{{Type: SourceHeader, Name: "Authorization", Prefix: "Bearer "}},
			setupReq: func(r *Request) {
				r.Header.Set("Authorization", "Bearer secret123")
			},
			want: "secret123",
		},
		{
			name:    "value without prefix kept whole",
			sources: []Source{{Type: SourceHeader, Name: "Authorization", Prefix: "Bearer "}},
			setupReq: func(r *Request) {
				r.Header.Set("Authorization", "Basic secret123")
			},
			want: "Basic secret123",
		},
		{
			name:    "prefix stripped only once",
			sources: []Source{{Type: SourceHeader, Name: "X-API-Key", Prefix: "ak_"}},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "ak_ak_secret")
			},
			want: "ak_secret",
		},
		{
			name:    "value trimmed of surrounding whitespace",
			sources: []Source{{Type: SourceHeader, Name: "X-API-Key"}},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "  secret123  ")
			},
			want: "secret123",
		},
		{
			name: "whitespace-only value does not win over later source",
			sources: []Source{
				{Type: SourceHeader, Name: "X-API-Key"},
				{Type: SourceCookie, Name: "api_key"},
			},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "   ")
				r.Cookies = map[string]string{"api_key": "from-cookie"}
			},
			want: "from-cookie",
		},
		{
			name:    "value that is exactly the prefix yields nothing",
			sources: []Source{{Type: SourceHeader, Name: "Authorization", Prefix: "Bearer "}},
			setupReq: func(r *Request) {
				r.Header.Set("Authorization", "Bearer ")
			},
			want: "",
		},
		{
			name: "first source in order wins",
			sources: []Source{
				{Type: SourceHeader, Name: "X-API-Key"},
				{Type: SourceQuery, Name: "api_key"},
			},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "from-header")
				r.Query.Set("api_key", "from-query")
			},
			want: "from-header",
		},
		{
			name: "reordering the sources changes the winner",
			sources: []Source{
				{Type: SourceQuery, Name: "api_key"},
				{Type: SourceHeader, Name: "X-API-Key"},
			},
			setupReq: func(r *Request) {
				r.Header.Set("X-API-Key", "from-header")
				r.Query.Set("api_key", "from-query")
			},
			want: "from-query",
		},
		{
			name: "falls through to later source",
			sources: []Source{
				{Type: SourceHeader, Name: "X-API-Key"},
				{Type: SourceQuery, Name: "api_key"},
			},
			setupReq: func(r *Request) {
				r.Query.Set("api_key", "from-query")
			},
			want: "from-query",
		},
		{
			name: "same location type twice with different names",
			sources: []Source{
				{Type: SourceHeader, Name: "X-API-Key"},
				{Type: SourceHeader, Name: "X-Backup-Key"},
			},
			setupReq: func(r *Request) {
				r.Header.Set("X-Backup-Key", "backup")
			},
			want: "backup",
		},
		{
			name:     "no source yields a key",
			sources:  DefaultSources(),
			setupReq: func(r *Request) {},
			want:     "",
		},
		{
			name:     "empty source list",
			sources:  nil,
			setupReq: func(r *Request) { r.Header.Set("X-API-Key", "secret123") },
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := NewRequest(httptest.NewRequest(http.MethodGet, "/test", nil))
			tt.setupReq(req)

			assert.Equal(t, tt.want, ExtractKey(req, tt.sources))
		})
	}
}

func TestExtractKey_NilRequest(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", ExtractKey(nil, DefaultSources()))
}

func TestNewRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/test?api_key=q1&other=q2", nil)
	r.Header.Set("X-API-Key", "h1")
	r.AddCookie(&http.Cookie{Name: "session", Value: "c1"})
	r.AddCookie(&http.Cookie{Name: "api_key", Value: "c2"})

	req := NewRequest(r)
	assert.Equal(t, "h1", req.Header.Get("X-API-Key"))
	assert.Equal(t, "q1", req.Query.Get("api_key"))
	assert.Equal(t, map[string]string{"session": "c1", "api_key": "c2"}, req.Cookies)
	assert.Nil(t, req.Body)
}

func TestNewRequest_NoCookies(t *testing.T) {
	t.Parallel()

	req := NewRequest(httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Nil(t, req.Cookies)
}
