package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keyhaven/keyhaven/internal/identity"
)

// MetaHandler answers the discovery and probe routes.
type MetaHandler struct {
	Address identity.Address
	Version string
	// Ready reports whether the backing stores answer. Nil means
	// always-ready (memory drivers).
	Ready func(ctx context.Context) error
}

func NewMetaHandler(addr identity.Address, version string, ready func(context.Context) error) *MetaHandler {
	return &MetaHandler{Address: addr, Version: version, Ready: ready}
}

func (h *MetaHandler) Register(r chi.Router) {
	r.Get("/", h.Info)
	r.Get("/info", h.Info)
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

type infoResponse struct {
	Address string `json:"address"`
	Version string `json:"version"`
}

func (h *MetaHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Address: h.Address.String(),
		Version: h.Version,
	})
}

func (h *MetaHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *MetaHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
