package community

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
)

// UserHeader carries the signed-in user id set by the auth gateway.
const UserHeader = "X-User-ID"

// Handler serves the community routes.
type Handler struct {
	store Store
}

// NewHandler returns a Handler backed by store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Register adds the community routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/communities", h.list)
	mux.HandleFunc("GET /v1/communities/{id}", h.get)
	mux.HandleFunc("GET /v1/communities/{id}/members", h.members)
	mux.HandleFunc("POST /v1/communities/{id}/join", h.join)
	mux.HandleFunc("GET /v1/users/{id}/communities", h.membershipsOf)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	cs, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(cs))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
	ms, err := h.store.Members(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(ms))
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}
	m, err := h.store.Join(r.Context(), r.PathValue("id"), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// membershipsOf only answers for the caller's own id.
func (h *Handler) membershipsOf(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return
	}
	if id := r.PathValue("id"); id != "me" && id != user {
		writeError(w, http.StatusForbidden, "cannot list another user's communities")
		return
	}
	cs, err := h.store.MembershipsOf(r.Context(), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(cs))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "community not found")
		return
	}
	observe.Logger(r.Context()).Error("community request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
