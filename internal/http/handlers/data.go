package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyhaven/keyhaven/internal/http/httperr"
	"github.com/keyhaven/keyhaven/internal/http/middlewares"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/scope"
	"github.com/keyhaven/keyhaven/internal/session"
	"github.com/keyhaven/keyhaven/internal/store"
)

// publicPrefix marks the world-readable part of every identity's tree.
const publicPrefix = "pub/"

// maxBlobBytes bounds a single PUT body.
const maxBlobBytes = 64 << 20 // 64 MiB

// DataHandler serves the per-identity blob tree.
type DataHandler struct {
	Sessions *session.Manager
	Store    store.Store
}

func NewDataHandler(mgr *session.Manager, st store.Store) *DataHandler {
	return &DataHandler{Sessions: mgr, Store: st}
}

func (h *DataHandler) Register(r chi.Router) {
	r.Get("/data/{address}/*", h.Get)
	r.Put("/data/{address}/*", h.Put)
	r.Delete("/data/{address}/*", h.Delete)
}

// target resolves the owner address and normalized in-tree path.
func target(r *http.Request) (identity.Address, string, error) {
	addr, err := identity.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return "", "", httperr.ErrInvalidAddress
	}
	p := scope.NormalizePath(chi.URLParam(r, "*"))
	if strings.Contains(p, "..") {
		return "", "", httperr.ErrBadRequest.WithDetail("path must not contain ..")
	}
	return addr, p, nil
}

// authorize gates a data operation: the session must belong to the tree's
// owner and its scopes must cover the path for the verb. Fails closed.
func (h *DataHandler) authorize(r *http.Request, owner identity.Address, path string, v scope.Verb) bool {
	s := middlewares.SessionFrom(r.Context())
	if s == nil || s.Subject != owner {
		return false
	}
	return h.Sessions.Check(s.ID, path, v)
}

func (h *DataHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, path, err := target(r)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}

	public := strings.HasPrefix(path, publicPrefix)
	if !public && !h.authorize(r, owner, path, scope.Read) {
		httperr.WriteError(w, httperr.ErrForbidden)
		return
	}

	if r.URL.Query().Get("list") == "1" {
		h.list(w, r, owner, path)
		return
	}

	data, err := h.Store.Get(r.Context(), owner.String(), path)
	if errors.Is(err, store.ErrNotFound) {
		httperr.WriteError(w, httperr.ErrNotFound)
		return
	}
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

type listEntry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (h *DataHandler) list(w http.ResponseWriter, r *http.Request, owner identity.Address, prefix string) {
	entries, err := h.Store.List(r.Context(), owner.String(), prefix)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	out := make([]listEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, listEntry{Path: e.Path, Size: e.Size, ModifiedAt: e.ModifiedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DataHandler) Put(w http.ResponseWriter, r *http.Request) {
	owner, path, err := target(r)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	if !h.authorize(r, owner, path, scope.Write) {
		httperr.WriteError(w, httperr.ErrForbidden)
		return
	}

	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperr.WriteError(w, httperr.ErrBodyTooLarge)
			return
		}
		httperr.WriteError(w, err)
		return
	}

	if err := h.Store.Put(r.Context(), owner.String(), path, data); err != nil {
		httperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, path, err := target(r)
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	if !h.authorize(r, owner, path, scope.Write) {
		httperr.WriteError(w, httperr.ErrForbidden)
		return
	}

	err = h.Store.Delete(r.Context(), owner.String(), path)
	if errors.Is(err, store.ErrNotFound) {
		httperr.WriteError(w, httperr.ErrNotFound)
		return
	}
	if err != nil {
		httperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
