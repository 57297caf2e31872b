package keyguard

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// guardTracer is the tracer for guard check spans.
var guardTracer = otel.Tracer("keyguard")

// Guard is a per-route request-handling step enforcing authentication
// and scope requirements. Guards hold no per-request state and are
// safely shared by concurrent requests.
type Guard struct {
	auth   *Authenticator
	config GuardConfig
}

// Config returns the guard's per-route configuration.
func (g *Guard) Config() GuardConfig {
	return g.config
}

// Authenticator returns the authenticator the guard was created from.
func (g *Guard) Authenticator() *Authenticator {
	return g.auth
}

// Check runs the guard pipeline for one request: extract the key,
// delegate validation, run the validation hook, and enforce scope
// requirements.
//
// On success it returns the AuthContext to attach to the request. A nil
// AuthContext with a nil error means the request proceeds anonymously.
// Pipeline failures are returned as *AuthError; errors from the
// validator callback or the validation hook propagate unmodified.
func (g *Guard) Check(ctx context.Context, req *Request) (*AuthContext, error) {
	start := time.Now()

	ctx, span := g.auth.tracer.Start(ctx, "keyguard.guard.check",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	allowAnonymous := g.auth.allowAnonymous
	if g.config.AllowAnonymous != nil {
		allowAnonymous = *g.config.AllowAnonymous
	}
	span.SetAttributes(attribute.Bool("keyguard.allow_anonymous", allowAnonymous))

	key := ExtractKey(req, g.auth.sources)
	if key == "" {
		if allowAnonymous {
			return g.anonymous(span, start)
		}
		return g.reject(span, start, "missing_key", NewMissingAPIKeyError())
	}

	result, err := g.auth.validate(ctx, key, req)
	if err != nil {
		span.SetAttributes(attribute.String("keyguard.outcome", "error"))
		g.auth.metrics.RecordCheck("error", "validator_error", time.Since(start))
		g.auth.logger.Error("validator callback failed", zap.Error(err))
		return nil, err
	}

	// The hook sees every validation result, valid or not, before the
	// outcome is acted on. Its failure aborts the check.
	if g.auth.hook != nil {
		if err := g.auth.hook(ctx, key, result, req); err != nil {
			span.SetAttributes(attribute.String("keyguard.outcome", "error"))
			g.auth.metrics.RecordCheck("error", "hook_error", time.Since(start))
			g.auth.logger.Error("validation hook failed", zap.Error(err))
			return nil, err
		}
	}

	if result == nil || !result.Valid {
		if allowAnonymous {
			return g.anonymous(span, start)
		}
		message := ""
		if result != nil {
			message = result.Message
		}
		return g.reject(span, start, "invalid_key", NewInvalidAPIKeyError(message))
	}

	// Scope requirements apply to every authenticated request;
	// anonymous access never bypasses them.
	if sr := ValidateScopes(result.Scopes, g.config.Scopes, nil); !sr.Valid {
		return g.reject(span, start, "insufficient_scopes",
			NewInsufficientScopesError(g.config.Scopes, result.Scopes))
	}
	if sr := ValidateScopes(result.Scopes, nil, g.config.AnyScope); !sr.Valid {
		return g.reject(span, start, "insufficient_scopes",
			NewInsufficientScopesError(g.config.AnyScope, result.Scopes))
	}

	auth := g.buildAuthContext(key, result)

	span.SetAttributes(
		attribute.String("keyguard.outcome", "authenticated"),
		attribute.Int("keyguard.scope_count", len(auth.Scopes)),
	)
	g.auth.metrics.RecordCheck("success", "authenticated", time.Since(start))
	g.auth.logger.Debug("api key authenticated",
		zap.Strings("scopes", auth.Scopes),
	)

	return auth, nil
}

// anonymous terminates the pipeline with an anonymous pass-through.
func (g *Guard) anonymous(span trace.Span, start time.Time) (*AuthContext, error) {
	span.SetAttributes(attribute.String("keyguard.outcome", "anonymous"))
	g.auth.metrics.RecordCheck("success", "anonymous", time.Since(start))
	return nil, nil
}

// reject terminates the pipeline with a structured failure.
func (g *Guard) reject(span trace.Span, start time.Time, reason string, authErr *AuthError) (*AuthContext, error) {
	span.SetAttributes(
		attribute.String("keyguard.outcome", "rejected"),
		attribute.String("keyguard.code", authErr.Code),
	)
	g.auth.metrics.RecordCheck("error", reason, time.Since(start))
	g.auth.logger.Debug("guard check rejected",
		zap.String("code", authErr.Code),
		zap.Int("status", authErr.HTTPStatus()),
	)
	return nil, authErr
}

// buildAuthContext assembles the authentication context from the key
// and the validator's result.
func (g *Guard) buildAuthContext(key string, result *Result) *AuthContext {
	auth := &AuthContext{
		Key:       key,
		Scopes:    result.Scopes,
		RateLimit: result.RateLimit,
		Metadata:  result.Metadata,
	}
	if g.auth.redactKey {
		auth.Key = RedactedKey
	}
	if auth.Scopes == nil {
		auth.Scopes = []string{}
	}
	if auth.Metadata == nil {
		auth.Metadata = map[string]any{}
	}
	return auth
}
