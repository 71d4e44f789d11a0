package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Niranjan-reddy99/hobbystreak/internal/community"
	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/internal/voice"
)

// voiceHandler exposes the [SessionManager] over HTTP.
type voiceHandler struct {
	sm *SessionManager
}

func (h *voiceHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/coach/voice", h.start)
	mux.HandleFunc("DELETE /v1/coach/voice", h.stop)
	mux.HandleFunc("GET /v1/coach/voice", h.status)
}

func (h *voiceHandler) start(w http.ResponseWriter, r *http.Request) {
	info, err := h.sm.Start(r.Context(), r.Header.Get(community.UserHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, info)
	case errors.Is(err, voice.ErrBusy):
		writeJSON(w, http.StatusConflict, info)
	case errors.Is(err, voice.ErrMissingCredential):
		writeJSON(w, http.StatusServiceUnavailable, info)
	default:
		observe.Logger(r.Context()).Warn("voice start failed", "err", err)
		writeJSON(w, http.StatusBadGateway, info)
	}
}

func (h *voiceHandler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.sm.Stop(r.Context()); err != nil {
		writeJSON(w, http.StatusNotFound, h.sm.Info())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *voiceHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sm.Info())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
