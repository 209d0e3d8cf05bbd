package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mihretab/portfolio/internal/identity"
	"github.com/mihretab/portfolio/internal/session"
)

// ChatHandler exposes the conversational contact form over HTTP.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

type rejectedMessageResponse struct {
	Error string        `json:"error"`
	State session.State `json:"state"`
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.GetConversation)
		r.Delete("/", h.CloseConversation)
		r.Post("/messages", h.PostMessage)
	})
}

func (h *ChatHandler) open(w http.ResponseWriter, r *http.Request) (*session.Conversation, bool) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	conv, err := h.hub.Open(visitorID, sessionID, session.ReducedMotionFromRequest(r))
	if errors.Is(err, session.ErrClosed) {
		Error(w, http.StatusServiceUnavailable, "shutting down")
		return nil, false
	}
	if errors.Is(err, session.ErrTooManyConversations) {
		w.Header().Set("Retry-After", "60")
		Error(w, http.StatusServiceUnavailable, "too many conversations")
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to open conversation", "visitor_id", visitorID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open conversation")
		return nil, false
	}
	return conv, true
}

// GetConversation mounts the conversation if needed and returns its state.
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, conv.State())
}

// PostMessage feeds one line of visitor input into the conversation.
// Blank input is a no-op and answers 202. Non-blank input the conversation
// cannot take right now (bot typing, completed) answers 409 with the
// unchanged state so the client can retry or stop.
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, ok := h.open(w, r)
	if !ok {
		return
	}
	if !conv.Submit(req.Text) && strings.TrimSpace(req.Text) != "" {
		JSON(w, http.StatusConflict, rejectedMessageResponse{
			Error: "input not accepted",
			State: conv.State(),
		})
		return
	}
	JSON(w, http.StatusAccepted, conv.State())
}

// CloseConversation unmounts the conversation for this tab.
func (h *ChatHandler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	h.hub.Close(visitorID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}
