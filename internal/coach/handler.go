package coach

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
	"github.com/google/uuid"
)

// maxRequestBody caps the size of a chat request.
const maxRequestBody = 64 << 10

// ChatRequest is the JSON body of POST /v1/coach/chat.
type ChatRequest struct {
	// ConversationID continues an earlier conversation. When empty a new id
	// is allocated and returned in the X-Conversation-ID response header.
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// Handler serves the text coach over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register adds the coach routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/coach/chat", h.Chat)
	mux.HandleFunc("DELETE /v1/coach/chat/{id}", h.Reset)
}

// Chat streams the coach reply as text/plain, flushing after every chunk.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	chunks, err := h.svc.Chat(r.Context(), req.ConversationID, req.Message)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		http.Error(w, "message must not be empty", http.StatusBadRequest)
		return
	case err != nil:
		log.Error("coach chat failed", "conversation", req.ConversationID, "err", err)
		http.Error(w, "coach unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Conversation-ID", req.ConversationID)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for chunk := range chunks {
		if chunk.FinishReason == llm.FinishReasonError {
			// Headers are gone; the client sees a truncated reply.
			continue
		}
		if chunk.Text == "" {
			continue
		}
		if _, err := io.WriteString(w, chunk.Text); err != nil {
			log.Debug("coach chat: client went away", "err", err)
			for range chunks {
			}
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Debug("coach chat: flush failed", "err", err)
		}
	}
}

// Reset forgets a conversation.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.svc.Reset(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
