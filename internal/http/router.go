// Package http wires the routes, middlewares and listeners of the
// homeserver's public API.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyhaven/keyhaven/internal/channel"
	"github.com/keyhaven/keyhaven/internal/http/handlers"
	"github.com/keyhaven/keyhaven/internal/http/middlewares"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/session"
	"github.com/keyhaven/keyhaven/internal/store"
)

// RouterDeps carries everything the route tree needs.
type RouterDeps struct {
	Keypair  *identity.Keypair
	Sessions *session.Manager
	Relay    *channel.Relay
	Store    store.Store
	Version  string

	// Registry for metrics; nil uses the default registerer.
	Registry prometheus.Registerer
	// Ready gates /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the full route tree.
func NewRouter(deps RouterDeps) (http.Handler, error) {
	metricsHandler, err := RegisterMetrics(deps.Registry)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Outermost first: request id, then logging so every line carries it.
	r.Use(
		middlewares.WithRequestID(),
		middlewares.WithLogging(),
		middlewares.WithRecover(),
		middlewares.WithSession(deps.Sessions),
	)

	handlers.NewMetaHandler(deps.Keypair.Address(), deps.Version, deps.Ready).Register(r)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(middlewares.WithNoStore(), withMetrics("auth"))
		handlers.NewAuthHandler(deps.Sessions).Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middlewares.WithNoStore(), withMetrics("relay"))
		handlers.NewRelayHandler(deps.Relay).Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(withMetrics("data"))
		handlers.NewDataHandler(deps.Sessions, deps.Store).Register(r)
	})

	return r, nil
}
