package handlers

import "github.com/prometheus/client_golang/prometheus"

var (
	signinsTotal      *prometheus.CounterVec
	authorizations    *prometheus.CounterVec
	relayFulfillments *prometheus.CounterVec
)

// RegisterMetrics registers the auth and relay business counters. Called
// once from the server's metrics setup.
func RegisterMetrics(registry prometheus.Registerer) error {
	signinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_signins_total",
		Help: "Direct signins by result",
	}, []string{"result"}) // ok|expired_challenge|bad_signature|error

	authorizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_authorizations_total",
		Help: "Token redemptions by result",
	}, []string{"result"}) // ok|expired|replay|rejected|error

	relayFulfillments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_fulfillments_total",
		Help: "Relay channel fulfillments by result",
	}, []string{"result"}) // ok|conflict|scope_mismatch|unknown

	for _, c := range []prometheus.Collector{signinsTotal, authorizations, relayFulfillments} {
		if err := registry.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func count(vec *prometheus.CounterVec, result string) {
	if vec != nil {
		vec.WithLabelValues(result).Inc()
	}
}
