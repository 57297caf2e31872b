package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/keyguard"
)

// GinErrorHandler produces the response for a failed guard check in a
// Gin handler chain. A custom handler is fully responsible for writing
// the response and aborting the chain.
type GinErrorHandler func(c *gin.Context, err error)

// WithGinErrorHandler replaces the default JSON error response for the
// Gin adapter.
func WithGinErrorHandler(handler GinErrorHandler) Option {
	return func(o *options) {
		o.ginErrorHandler = handler
	}
}

// Gin returns a Gin middleware enforcing the guard. Authenticated
// requests are decorated twice: the AuthContext under the
// authenticator's decorator key and the scopes under
// keyguard.ScopesDecoratorKey, plus the request context itself.
//
// Failed checks go to the adapter's Gin error handler, falling back to
// the authenticator's handler, then to the default JSON error response.
func Gin(guard *keyguard.Guard, opts ...Option) gin.HandlerFunc {
	o := newOptions(opts)
	auth := guard.Authenticator()
	needsBody := hasBodySource(auth.Sources())
	errorHandler := o.ginErrorHandler
	if errorHandler == nil {
		if h := auth.ErrorHandler(); h != nil {
			errorHandler = func(c *gin.Context, err error) {
				h(c.Writer, c.Request, err)
			}
		}
	}

	return func(c *gin.Context) {
		req := keyguard.NewRequest(c.Request)
		if needsBody {
			var body map[string]any
			if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
				req.Body = body
			}
		}

		authCtx, err := guard.Check(c.Request.Context(), req)
		if err != nil {
			if errorHandler != nil {
				errorHandler(c, err)
				c.Abort()
				return
			}
			abortWithError(c, err, o.logger)
			return
		}

		if authCtx != nil {
			c.Set(auth.DecoratorKey(), authCtx)
			c.Set(keyguard.ScopesDecoratorKey, authCtx.Scopes)
			c.Request = c.Request.WithContext(keyguard.ContextWithAuth(c.Request.Context(), authCtx))
		}

		c.Next()
	}
}

// abortWithError writes the default JSON error response and stops the
// handler chain.
func abortWithError(c *gin.Context, err error, logger *zap.Logger) {
	authErr := keyguard.AsAuthError(err)
	if authErr == nil {
		logger.Error("guard check failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "INTERNAL_ERROR",
			"message":    "internal server error",
			"statusCode": http.StatusInternalServerError,
		})
		return
	}

	if authErr.Code == keyguard.CodeRateLimitExceeded && authErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(authErr.RetryAfter))
	}
	c.AbortWithStatusJSON(authErr.HTTPStatus(), authErr)
}
