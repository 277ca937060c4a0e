package middlewares

import (
	"net"
	"net/http"
	"time"

	"github.com/keyhaven/keyhaven/internal/observability/logger"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets long-poll handlers stream through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// WithLogging emits one structured line per request and attaches a
// request-scoped logger to the context.
func WithLogging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			log := logger.L().With(logger.RequestID(RequestID(r.Context())))
			r = r.WithContext(logger.ToContext(r.Context(), log))

			next.ServeHTTP(sw, r)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			log.Info("request",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.Status(sw.status),
				logger.Duration(time.Since(start)),
				logger.ClientIP(clientIP(r)),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-For"); h != "" {
		return h
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
