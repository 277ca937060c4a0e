package middlewares

import "net/http"

// WithNoStore adds Cache-Control: no-store. Applied to every auth and
// relay endpoint so intermediaries never cache tokens or challenges.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
