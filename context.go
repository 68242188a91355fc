package sherpa

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestKey contextKey = iota
	loggerKey
	coordinatorKey
)

// RequestFromContext returns the Request from the context.
// Returns nil if not present.
func RequestFromContext(ctx context.Context) *Request {
	if req, ok := ctx.Value(requestKey).(*Request); ok {
		return req
	}
	return nil
}

// withRequest returns a context with the given request.
func withRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey, req)
}

// withLogger returns a context with the client's logger.
func withLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// withCoordinated marks ctx as running under a coordinator for auth.
func withCoordinated(ctx context.Context, auth *AuthState) context.Context {
	return context.WithValue(ctx, coordinatorKey, auth)
}

// coordinated reports whether a coordinator for auth is already retrying
// the work ctx belongs to.
func coordinated(ctx context.Context, auth *AuthState) bool {
	a, ok := ctx.Value(coordinatorKey).(*AuthState)
	return ok && a == auth
}

// loggerFromContext returns the client's logger, or slog.Default().
func loggerFromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
