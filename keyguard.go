// Package keyguard implements request-level API key authentication and
// authorization: ordered key extraction from configurable request
// locations, delegated validity checking, scope enforcement, and
// decoration of the request with the resulting authentication context.
//
// The package holds no cross-request mutable state; an Authenticator
// and its Guards are safely shared by concurrent requests.
package keyguard

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultDecoratorKey is the default request field name the
// authentication context is attached under.
const DefaultDecoratorKey = "apiKey"

// ScopesDecoratorKey is the fixed request field name the validated
// scope list is attached under.
const ScopesDecoratorKey = "apiKeyScopes"

// ValidateFunc checks an extracted API key. It is invoked once per
// request with the extracted key and the request view, and must be safe
// for concurrent use. A returned error aborts the check and propagates
// unmodified; only the returned Result's Valid field decides between
// valid and invalid.
type ValidateFunc func(ctx context.Context, key string, req *Request) (*Result, error)

// ValidationHook runs after every validation and before scope checking,
// with the key, the validator's result, and the request. The hook is
// awaited; its error aborts the check and propagates unmodified.
type ValidationHook func(ctx context.Context, key string, result *Result, req *Request) error

// ErrorHandler writes the HTTP response for a failed guard check. A
// custom handler is fully responsible for the response; the HTTP
// adapters invoke it instead of their default JSON error body.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Result is produced by a ValidateFunc for one request.
type Result struct {
	// Valid reports whether the key is valid.
	Valid bool `json:"valid"`

	// Scopes is the scopes granted to the key.
	Scopes []string `json:"scopes,omitempty"`

	// RateLimit is rate-limit state passed through to the
	// authentication context. The guard pipeline never acts on it.
	RateLimit *RateLimit `json:"rateLimit,omitempty"`

	// Metadata holds arbitrary attributes passed through to the
	// authentication context.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Message optionally overrides the default invalid-key message.
	Message string `json:"message,omitempty"`
}

// RateLimit is rate-limit state reported by a validator.
type RateLimit struct {
	// Limit is the request quota for the current window.
	Limit int `json:"limit"`

	// Remaining is the requests left in the current window.
	Remaining int `json:"remaining"`

	// Reset is when the window resets, in Unix seconds.
	Reset int64 `json:"reset"`
}

// Authenticator holds the process-wide guard configuration and produces
// per-route Guards. It is configured once and read-only afterwards.
type Authenticator struct {
	validate       ValidateFunc
	sources        []Source
	hook           ValidationHook
	errorHandler   ErrorHandler
	decoratorKey   string
	allowAnonymous bool
	redactKey      bool
	logger         *zap.Logger
	metrics        *Metrics
	tracer         trace.Tracer
}

// Option is a functional option for the Authenticator.
type Option func(*Authenticator)

// WithSources sets the ordered key extraction sources. The default is
// the single X-API-Key header source.
func WithSources(sources ...Source) Option {
	return func(a *Authenticator) {
		a.sources = sources
	}
}

// WithValidationHook sets a hook invoked after every validation.
func WithValidationHook(hook ValidationHook) Option {
	return func(a *Authenticator) {
		a.hook = hook
	}
}

// WithErrorHandler sets the error handler the HTTP adapters use for
// failed checks. Adapters may override it per middleware instance.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(a *Authenticator) {
		a.errorHandler = handler
	}
}

// WithDecoratorKey sets the request field name the authentication
// context is attached under.
func WithDecoratorKey(key string) Option {
	return func(a *Authenticator) {
		a.decoratorKey = key
	}
}

// WithAllowAnonymous sets the global anonymous-access default. Routes
// override it per-guard via GuardConfig.AllowAnonymous.
func WithAllowAnonymous(allow bool) Option {
	return func(a *Authenticator) {
		a.allowAnonymous = allow
	}
}

// WithKeyRedaction controls whether AuthContext.Key holds RedactedKey
// instead of the literal key. Redaction is enabled by default.
func WithKeyRedaction(redact bool) Option {
	return func(a *Authenticator) {
		a.redactKey = redact
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithTracer sets the tracer used for guard check spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Authenticator) {
		a.tracer = tracer
	}
}

// New creates an Authenticator. The validate callback is required.
func New(validate ValidateFunc, opts ...Option) (*Authenticator, error) {
	if validate == nil {
		return nil, fmt.Errorf("validate callback is required")
	}

	a := &Authenticator{
		validate:     validate,
		sources:      DefaultSources(),
		decoratorKey: DefaultDecoratorKey,
		redactKey:    true,
		logger:       zap.NewNop(),
		tracer:       guardTracer,
	}

	for _, opt := range opts {
		opt(a)
	}

	if err := ValidateSources(a.sources); err != nil {
		return nil, fmt.Errorf("invalid extraction sources: %w", err)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.metrics == nil {
		a.metrics = GetSharedMetrics()
	}

	return a, nil
}

// Guard returns a guard enforcing the given per-route configuration.
func (a *Authenticator) Guard(config GuardConfig) *Guard {
	return &Guard{auth: a, config: config}
}

// RequireScopes returns a guard requiring all the given scopes. It is
// shorthand for Guard with only Scopes set.
func (a *Authenticator) RequireScopes(scopes ...string) *Guard {
	return a.Guard(GuardConfig{Scopes: scopes})
}

// DecoratorKey returns the configured request field name for the
// authentication context.
func (a *Authenticator) DecoratorKey() string {
	return a.decoratorKey
}

// ErrorHandler returns the configured error handler, or nil.
func (a *Authenticator) ErrorHandler() ErrorHandler {
	return a.errorHandler
}

// Sources returns a copy of the configured extraction sources.
func (a *Authenticator) Sources() []Source {
	out := make([]Source, len(a.sources))
	copy(out, a.sources)
	return out
}
