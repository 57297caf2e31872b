package keyguard

import "context"

// RedactedKey is the placeholder stored in AuthContext.Key while key
// redaction is enabled.
const RedactedKey = "[REDACTED]"

// AuthContext is the per-request record of validated key data attached
// after a successful guard check. Exactly one instance exists per
// authenticated request; anonymous requests carry none.
type AuthContext struct {
	// Key is the validated API key, or RedactedKey unless key
	// redaction was disabled.
	Key string `json:"key"`

	// Scopes is the scopes granted to the key.
	Scopes []string `json:"scopes"`

	// RateLimit is the rate-limit state reported by the validator, if
	// any.
	RateLimit *RateLimit `json:"rateLimit,omitempty"`

	// Metadata holds arbitrary validator-supplied attributes.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HasScope reports whether the context carries the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Context key types for request decoration.
type authContextKey struct{}
type scopesContextKey struct{}

// ContextWithAuth adds an AuthContext to the context. The scope list is
// stored under a separate key so ScopesFromContext works without
// unwrapping the full AuthContext.
func ContextWithAuth(ctx context.Context, auth *AuthContext) context.Context {
	ctx = context.WithValue(ctx, authContextKey{}, auth)
	return context.WithValue(ctx, scopesContextKey{}, auth.Scopes)
}

// AuthFromContext extracts the AuthContext from the context. ok is
// false for anonymous requests.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return auth, ok
}

// ScopesFromContext extracts the validated scope list from the context.
func ScopesFromContext(ctx context.Context) ([]string, bool) {
	scopes, ok := ctx.Value(scopesContextKey{}).([]string)
	return scopes, ok
}
