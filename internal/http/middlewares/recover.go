package middlewares

import (
	"net/http"

	"github.com/keyhaven/keyhaven/internal/http/httperr"
	"github.com/keyhaven/keyhaven/internal/observability/logger"
)

// WithRecover turns panics into a 500 instead of killing the listener.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered",
						logger.Op("recover"),
						logger.Path(r.URL.Path),
						logger.Any("panic", rec),
					)
					httperr.WriteError(w, httperr.ErrInternal.WithDetail("panic recovered"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
