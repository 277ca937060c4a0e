// Package handlers contains the HTTP controllers for the auth, relay and
// data-plane routes.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyhaven/keyhaven/internal/authtoken"
	"github.com/keyhaven/keyhaven/internal/http/httperr"
	"github.com/keyhaven/keyhaven/internal/http/middlewares"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/observability/logger"
	"github.com/keyhaven/keyhaven/internal/session"
)

const maxBodyBytes = 1 << 20 // 1 MiB for JSON control-plane bodies

// AuthHandler exposes the challenge/signin/authorize/signout routes.
type AuthHandler struct {
	Sessions *session.Manager
}

func NewAuthHandler(mgr *session.Manager) *AuthHandler {
	return &AuthHandler{Sessions: mgr}
}

// Register mounts the auth routes. The session middleware is applied by
// the router; signout and introspection additionally require it.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/challenge", h.Challenge)
	r.Post("/auth/signin", h.Signin)
	r.Post("/auth/authorize", h.Authorize)
	r.Post("/auth/signout", h.Signout)
	r.Group(func(r chi.Router) {
		r.Use(middlewares.RequireSession())
		r.Get("/auth/session", h.Session)
	})
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.WriteError(w, err)
		return
	}
	addr, err := identity.ParseAddress(req.Address)
	if err != nil {
		httperr.WriteError(w, httperr.ErrInvalidAddress)
		return
	}

	challenge, expiresAt, err := h.Sessions.Challenge(r.Context(), addr)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{Challenge: challenge, ExpiresAt: expiresAt})
}

type signinRequest struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"` // base64 (std or url, unpadded accepted)
}

type sessionResponse struct {
	SessionID string   `json:"session_id"`
	Address   string   `json:"address"`
	Scopes    []string `json:"scopes"`
}

func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.WriteError(w, err)
		return
	}
	addr, err := identity.ParseAddress(req.Address)
	if err != nil {
		count(signinsTotal, "error")
		httperr.WriteError(w, httperr.ErrInvalidAddress)
		return
	}
	sig, err := decodeBase64(req.Signature)
	if err != nil {
		count(signinsTotal, "error")
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("signature is not valid base64"))
		return
	}

	s, err := h.Sessions.Signin(r.Context(), addr, req.Challenge, sig)
	switch {
	case errors.Is(err, session.ErrChallengeExpired):
		count(signinsTotal, "expired_challenge")
		httperr.WriteError(w, httperr.ErrChallengeExpired)
		return
	case errors.Is(err, session.ErrSignatureInvalid):
		count(signinsTotal, "bad_signature")
		httperr.WriteError(w, httperr.ErrSignatureInvalid)
		return
	case err != nil:
		count(signinsTotal, "error")
		httperr.WriteError(w, err)
		return
	}

	count(signinsTotal, "ok")
	setSessionCookie(w, s.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: s.ID,
		Address:   s.Subject.String(),
		Scopes:    s.Scopes.Strings(),
	})
}

type authorizeRequest struct {
	AuthToken  string `json:"auth_token"`
	RelyingApp string `json:"relying_app"`
}

func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.WriteError(w, err)
		return
	}
	if req.AuthToken == "" || req.RelyingApp == "" {
		httperr.WriteError(w, httperr.ErrBadRequest.WithDetail("auth_token and relying_app are required"))
		return
	}

	s, err := h.Sessions.Authorize(r.Context(), req.AuthToken, req.RelyingApp)
	switch {
	case errors.Is(err, authtoken.ErrTokenExpired):
		count(authorizations, "expired")
		httperr.WriteError(w, httperr.ErrTokenExpired)
		return
	case errors.Is(err, session.ErrReplayDetected):
		count(authorizations, "replay")
		httperr.WriteError(w, httperr.ErrReplayDetected)
		return
	case errors.Is(err, session.ErrExcessiveTokenTTL):
		count(authorizations, "rejected")
		httperr.WriteError(w, httperr.ErrExcessiveTokenTTL)
		return
	case errors.Is(err, authtoken.ErrSignatureInvalid),
		errors.Is(err, authtoken.ErrAudienceMismatch),
		errors.Is(err, authtoken.ErrMalformedToken):
		count(authorizations, "rejected")
		httperr.WriteError(w, httperr.ErrSignatureInvalid.WithCause(err))
		return
	case err != nil:
		count(authorizations, "error")
		httperr.WriteError(w, err)
		return
	}

	count(authorizations, "ok")
	setSessionCookie(w, s.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: s.ID,
		Address:   s.Subject.String(),
		Scopes:    s.Scopes.Strings(),
	})
}

// Signout always answers 200, whatever session id the request carries.
// Revoking an unknown or already-revoked session is a no-op, so retries
// and stale clients still succeed.
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	if id := middlewares.SessionID(r); id != "" {
		h.Sessions.Signout(id)
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusOK)
}

type sessionIntrospection struct {
	SessionID string    `json:"session_id"`
	Address   string    `json:"address"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	s := middlewares.SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionIntrospection{
		SessionID: s.ID,
		Address:   s.Subject.String(),
		Scopes:    s.Scopes.Strings(),
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen(),
	})
}

func setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middlewares.SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middlewares.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httperr.ErrBodyTooLarge
		}
		return httperr.ErrInvalidJSON.WithCause(err)
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("invalid base64")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Warn("encoding response", logger.Err(err))
	}
}
