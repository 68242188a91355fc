package sherpa

import (
	"context"
	"time"
)

// Request describes an outgoing call.
type Request struct {
	ID          string      // Unique per call, for log correlation
	Function    string      // Function name appended to the base URL
	Params      []any       // Parameters before verification
	ParamTypes  []TypeWords // Declared parameter types
	ResultTypes []TypeWords // Declared result types
}

// Handler represents the next step in the middleware chain.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(next Handler) Handler

// LogCalls is middleware that logs every call at debug level, and failures
// other than auth and abort errors at warn level.
func LogCalls() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			log := loggerFromContext(ctx)
			switch code := CodeOf(err); {
			case err == nil:
				log.Debug("call", "fn", req.Function, "id", req.ID, "duration", time.Since(start))
			case IsAuthError(err) || code == CodeAborted:
				log.Debug("call failed", "fn", req.Function, "id", req.ID, "code", code, "err", err)
			default:
				log.Warn("call failed", "fn", req.Function, "id", req.ID, "code", code, "err", err, "duration", time.Since(start))
			}
			return result, err
		}
	}
}
