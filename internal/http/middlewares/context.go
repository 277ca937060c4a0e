package middlewares

import (
	"context"

	"github.com/keyhaven/keyhaven/internal/session"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxSessionKey   ctxKey = "session"
)

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, id)
}

// RequestID returns the request ID injected by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

func setSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey, s)
}

// SessionFrom returns the authenticated session, or nil when the route has
// no session middleware or the request carried no valid cookie.
func SessionFrom(ctx context.Context) *session.Session {
	if v, ok := ctx.Value(ctxSessionKey).(*session.Session); ok {
		return v
	}
	return nil
}
