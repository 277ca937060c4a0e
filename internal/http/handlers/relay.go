package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyhaven/keyhaven/internal/authtoken"
	"github.com/keyhaven/keyhaven/internal/channel"
	"github.com/keyhaven/keyhaven/internal/http/httperr"
	"github.com/keyhaven/keyhaven/internal/scope"
)

// RelayHandler exposes the three-party handshake channels.
type RelayHandler struct {
	Relay *channel.Relay
}

func NewRelayHandler(r *channel.Relay) *RelayHandler {
	return &RelayHandler{Relay: r}
}

func (h *RelayHandler) Register(r chi.Router) {
	r.Post("/relay/channels", h.Open)
	r.Get("/relay/channels/{token}", h.Poll)
	r.Post("/relay/channels/{token}", h.Fulfill)
}

type openChannelRequest struct {
	RelyingApp      string   `json:"relying_app"`
	RequestedScopes []string `json:"requested_scopes"`
}

type openChannelResponse struct {
	ChannelToken string    `json:"channel_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *RelayHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.WriteError(w, err)
		return
	}
	if req.RelyingApp == "" {
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("relying_app is required"))
		return
	}
	requested, err := scope.ParseDelegatedSet(req.RequestedScopes)
	if err != nil {
		httperr.WriteError(w, httperr.ErrMalformedScope.WithCause(err))
		return
	}

	s, err := h.Relay.Open(requested, req.RelyingApp)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openChannelResponse{
		ChannelToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	})
}

type pollResponse struct {
	State     channel.State `json:"state"`
	ExpiresAt time.Time     `json:"expires_at"`
	AuthToken string        `json:"auth_token,omitempty"`
}

// Poll long-polls the channel up to ?wait=. When the channel is fulfilled
// the response carries the auth token exactly once; the channel is gone
// afterwards.
func (h *RelayHandler) Poll(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("wait must be a non-negative duration"))
			return
		}
		wait = d
	}

	st, err := h.Relay.Poll(r.Context(), token, wait)
	if errors.Is(err, channel.ErrUnknownSession) {
		httperr.WriteError(w, httperr.ErrChannelNotFound)
		return
	}
	if err != nil {
		httperr.WriteError(w, err)
		return
	}

	resp := pollResponse{State: st.State, ExpiresAt: st.ExpiresAt}
	if st.State == channel.Fulfilled {
		authToken, err := h.Relay.Collect(token)
		if err != nil {
			// A concurrent poll won the single collection.
			httperr.WriteError(w, httperr.ErrChannelNotFound)
			return
		}
		resp.AuthToken = authToken
	}
	writeJSON(w, http.StatusOK, resp)
}

type fulfillRequest struct {
	AuthToken string `json:"auth_token"`
}

// Fulfill attaches a signed auth token to a pending channel. The token is
// verified offline against the channel's relying app before the handoff;
// the relay never holds a token it could not have validated.
func (h *RelayHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req fulfillRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.WriteError(w, err)
		return
	}
	if req.AuthToken == "" {
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("auth_token is required"))
		return
	}

	s, err := h.Relay.Lookup(token)
	if err != nil {
		count(relayFulfillments, "unknown")
		httperr.WriteError(w, httperr.ErrChannelNotFound)
		return
	}

	tok, err := authtoken.Verify(req.AuthToken, s.RelyingApp, time.Now())
	if err != nil {
		count(relayFulfillments, "rejected")
		httperr.WriteError(w, httperr.ErrSignatureInvalid.WithCause(err))
		return
	}

	err = h.Relay.Fulfill(token, tok.Scopes, req.AuthToken)
	switch {
	case errors.Is(err, channel.ErrUnknownSession):
		count(relayFulfillments, "unknown")
		httperr.WriteError(w, httperr.ErrChannelNotFound)
		return
	case errors.Is(err, channel.ErrAlreadyFulfilledOrExpired):
		count(relayFulfillments, "conflict")
		httperr.WriteError(w, httperr.ErrChannelConflict)
		return
	case errors.Is(err, channel.ErrScopeMismatch):
		count(relayFulfillments, "scope_mismatch")
		httperr.WriteError(w, httperr.ErrForbidden.WithDetail("granted scopes exceed requested scopes"))
		return
	case err != nil:
		httperr.WriteError(w, err)
		return
	}

	count(relayFulfillments, "ok")
	w.WriteHeader(http.StatusNoContent)
}
