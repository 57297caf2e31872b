package keyguard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes carried by guard check failures.
const (
	CodeMissingAPIKey      = "MISSING_API_KEY"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeInsufficientScopes = "INSUFFICIENT_SCOPES"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
)

// Sentinel errors for guard check failures. Each matches any *AuthError
// carrying the same code, so errors.Is(err, ErrInvalidAPIKey) holds no
// matter which message the failure carries.
var (
	// ErrMissingAPIKey indicates that no API key was found in the request.
	ErrMissingAPIKey = NewMissingAPIKeyError()

	// ErrInvalidAPIKey indicates that the provided API key is invalid.
	ErrInvalidAPIKey = NewInvalidAPIKeyError("")

	// ErrInsufficientScopes indicates that the key lacks required scopes.
	ErrInsufficientScopes = NewInsufficientScopesError(nil, nil)

	// ErrRateLimitExceeded indicates that the key exceeded its rate limit.
	ErrRateLimitExceeded = NewRateLimitExceededError(0)
)

// AuthError is a structured authentication failure carrying a stable
// machine-readable code, an HTTP status code, and kind-specific detail.
type AuthError struct {
	// Code is the stable machine-readable failure code.
	Code string

	// Message is a human-readable description of the failure.
	Message string

	// StatusCode is the HTTP status code the failure maps to.
	StatusCode int

	// RequiredScopes is the failing requirement set. Set only on
	// INSUFFICIENT_SCOPES failures.
	RequiredScopes []string

	// ProvidedScopes is the scopes the key actually carried. Set only
	// on INSUFFICIENT_SCOPES failures.
	ProvidedScopes []string

	// RetryAfter is the suggested wait in seconds. Set only on
	// RATE_LIMIT_EXCEEDED failures.
	RetryAfter int
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Code, e.Message)
}

// Is reports whether target is an *AuthError with the same code.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && e.Code == t.Code
}

// HTTPStatus returns the HTTP status code for the failure, defaulting
// to 401 when unset.
func (e *AuthError) HTTPStatus() int {
	if e.StatusCode == 0 {
		return http.StatusUnauthorized
	}
	return e.StatusCode
}

// MarshalJSON serializes the failure as
// {"error": code, "message": message, "statusCode": status} plus the
// kind-specific fields of the code.
func (e *AuthError) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"error":      e.Code,
		"message":    e.Message,
		"statusCode": e.HTTPStatus(),
	}

	switch e.Code {
	case CodeInsufficientScopes:
		out["requiredScopes"] = emptyIfNil(e.RequiredScopes)
		out["providedScopes"] = emptyIfNil(e.ProvidedScopes)
	case CodeRateLimitExceeded:
		out["retryAfter"] = e.RetryAfter
	}

	return json.Marshal(out)
}

func emptyIfNil(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return scopes
}

// NewMissingAPIKeyError creates a MISSING_API_KEY failure.
func NewMissingAPIKeyError() *AuthError {
	return &AuthError{
		Code:       CodeMissingAPIKey,
		Message:    "API key is missing",
		StatusCode: http.StatusUnauthorized,
	}
}

// NewInvalidAPIKeyError creates an INVALID_API_KEY failure. An empty
// message falls back to a generic one.
func NewInvalidAPIKeyError(message string) *AuthError {
	if message == "" {
		message = "Invalid API key"
	}
	return &AuthError{
		Code:       CodeInvalidAPIKey,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewInsufficientScopesError creates an INSUFFICIENT_SCOPES failure.
// required is the failing requirement set and provided is the scopes
// the key actually carried. The message names the missing scopes.
func NewInsufficientScopesError(required, provided []string) *AuthError {
	message := "Insufficient scopes"
	if missing := ValidateScopes(provided, required, nil).Missing; len(missing) > 0 {
		message = "Insufficient scopes: missing " + strings.Join(missing, ", ")
	}
	return &AuthError{
		Code:           CodeInsufficientScopes,
		Message:        message,
		StatusCode:     http.StatusForbidden,
		RequiredScopes: emptyIfNil(required),
		ProvidedScopes: emptyIfNil(provided),
	}
}

// NewRateLimitExceededError creates a RATE_LIMIT_EXCEEDED failure.
// retryAfter is the suggested wait in seconds. The guard pipeline never
// raises this failure itself; it exists for callers acting on the
// rate-limit data passed through validation results.
func NewRateLimitExceededError(retryAfter int) *AuthError {
	return &AuthError{
		Code:       CodeRateLimitExceeded,
		Message:    "Rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// AsAuthError returns the *AuthError carried by err, or nil when err
// does not carry one.
func AsAuthError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return nil
}
