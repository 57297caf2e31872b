// Package middleware adapts keyguard guards to net/http handler
// chains, Gin handler chains, and gRPC unary interceptors.
//
// Each adapter builds a keyguard.Request from the incoming call, runs
// the guard, and either rejects the request with the guard's error or
// passes it downstream with the authentication context attached.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

// DefaultMaxBodyBytes caps how much of the request body is buffered for
// body-source extraction.
const DefaultMaxBodyBytes = 1 << 20

// ErrorHandler produces the HTTP response for a failed guard check. A
// custom handler is fully responsible for writing the response.
type ErrorHandler = keyguard.ErrorHandler

type options struct {
	logger          *zap.Logger
	errorHandler    ErrorHandler
	ginErrorHandler GinErrorHandler
	maxBodyBytes    int64
}

// Option configures a middleware adapter.
type Option func(*options)

// WithLogger sets the logger used for internal failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithErrorHandler replaces the default JSON error response for the
// net/http adapter.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(o *options) {
		o.errorHandler = handler
	}
}

// WithMaxBodyBytes sets the buffering limit for body-source extraction.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:       zap.NewNop(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handler wraps an http.Handler so only requests passing the guard
// reach it. Authenticated requests carry the AuthContext in their
// request context; anonymous passes carry nothing.
//
// Failed checks go to the adapter's error handler, falling back to the
// authenticator's, then to the default JSON error response.
func Handler(guard *keyguard.Guard, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)
	needsBody := hasBodySource(guard.Authenticator().Sources())
	errorHandler := o.errorHandler
	if errorHandler == nil {
		errorHandler = guard.Authenticator().ErrorHandler()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := keyguard.NewRequest(r)
			if needsBody {
				req.Body = decodeBody(r, o.maxBodyBytes)
			}

			auth, err := guard.Check(r.Context(), req)
			if err != nil {
				if errorHandler != nil {
					errorHandler(w, r, err)
					return
				}
				writeError(w, err, o.logger)
				return
			}

			if auth != nil {
				r = r.WithContext(keyguard.ContextWithAuth(r.Context(), auth))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasBodySource reports whether any extraction source reads the body.
func hasBodySource(sources []keyguard.Source) bool {
	for _, source := range sources {
		if source.Type == keyguard.SourceBody {
			return true
		}
	}
	return false
}

// decodeBody buffers and JSON-decodes the request body for body-source
// extraction, restoring r.Body so downstream handlers can still read it.
func decodeBody(r *http.Request, maxBytes int64) any {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	return body
}

// writeError writes the default JSON error response for a failed check.
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	authErr := keyguard.AsAuthError(err)
	if authErr == nil {
		logger.Error("guard check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":      "INTERNAL_ERROR",
			"message":    "internal server error",
			"statusCode": http.StatusInternalServerError,
		})
		return
	}

	if authErr.Code == keyguard.CodeRateLimitExceeded && authErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(authErr.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(authErr)
}
