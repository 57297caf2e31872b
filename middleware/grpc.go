package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/keyguard"
)

// UnaryServerInterceptor returns a gRPC unary interceptor enforcing the
// guard. Keys are extracted from incoming metadata through the header
// sources; query, body, and cookie sources find nothing on gRPC calls.
func UnaryServerInterceptor(guard *keyguard.Guard, opts ...Option) grpc.UnaryServerInterceptor {
	o := newOptions(opts)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		kreq := &keyguard.Request{Header: headerFromMetadata(ctx)}

		auth, err := guard.Check(ctx, kreq)
		if err != nil {
			return nil, grpcStatusError(err, o.logger)
		}

		if auth != nil {
			ctx = keyguard.ContextWithAuth(ctx, auth)
		}
		return handler(ctx, req)
	}
}

// headerFromMetadata converts incoming gRPC metadata into an
// http.Header so header sources match metadata keys case-insensitively.
func headerFromMetadata(ctx context.Context) http.Header {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	header := make(http.Header, len(md))
	for key, values := range md {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	return header
}

// grpcStatusError maps a guard failure to a gRPC status error.
func grpcStatusError(err error, logger *zap.Logger) error {
	authErr := keyguard.AsAuthError(err)
	if authErr == nil {
		logger.Error("guard check failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}

	switch authErr.Code {
	case keyguard.CodeInsufficientScopes:
		return status.Error(codes.PermissionDenied, authErr.Message)
	case keyguard.CodeRateLimitExceeded:
		return status.Error(codes.ResourceExhausted, authErr.Message)
	default:
		return status.Error(codes.Unauthenticated, authErr.Message)
	}
}
