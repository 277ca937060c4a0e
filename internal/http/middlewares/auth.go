package middlewares

import (
	"net/http"
	"strings"

	"github.com/keyhaven/keyhaven/internal/http/httperr"
	"github.com/keyhaven/keyhaven/internal/session"
)

// SessionCookie is the cookie carrying the opaque session ID.
const SessionCookie = "keyhaven_session"

// SessionID extracts the session ID from the request: the session cookie
// first, then Authorization: Bearer for non-browser clients.
func SessionID(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// WithSession resolves the request's session, if any, into the context.
// Routes that tolerate anonymous access (public reads) use this alone.
func WithSession(mgr *session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := SessionID(r); id != "" {
				if s, ok := mgr.Get(id); ok {
					r = r.WithContext(setSession(r.Context(), s))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests without a live session. Must run inside
// WithSession.
func RequireSession() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SessionFrom(r.Context()) == nil {
				httperr.WriteError(w, httperr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
