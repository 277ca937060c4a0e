package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyhaven/keyhaven/internal/http/handlers"
	"github.com/keyhaven/keyhaven/internal/http/middlewares"
)

var (
	metricsOnce sync.Once
	metricsErr  error

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        *prometheus.GaugeVec
)

// RegisterMetrics initializes the HTTP and auth metrics on registry (nil
// means the default registerer) and returns the /metrics handler.
func RegisterMetrics(registry prometheus.Registerer) (http.Handler, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed",
		}, []string{"method", "route", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "In-flight requests by method and route",
		}, []string{"method", "route"})

		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration, httpInflight,
		} {
			if err := registerCollector(registry, c); err != nil {
				metricsErr = err
				return
			}
		}
		metricsErr = handlers.RegisterMetrics(registry)
	})
	if metricsErr != nil {
		return nil, metricsErr
	}

	if g, ok := registry.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

func registerCollector(r prometheus.Registerer, c prometheus.Collector) error {
	if err := r.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// withMetrics instruments a route. The route label is the registered
// pattern, never the raw path, to keep cardinality bounded.
func withMetrics(route string) middlewares.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpRequestsTotal == nil {
				next.ServeHTTP(w, r)
				return
			}
			httpInflight.WithLabelValues(r.Method, route).Inc()
			defer httpInflight.WithLabelValues(r.Method, route).Dec()

			start := time.Now()
			sw := &metricsWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type metricsWriter struct {
	http.ResponseWriter
	status int
}

func (w *metricsWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
