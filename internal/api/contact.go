package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mihretab/portfolio/internal/chat"
	"github.com/mihretab/portfolio/internal/identity"
	"github.com/mihretab/portfolio/internal/relay"
)

// ContactHandler relays the plain contact form.
type ContactHandler struct {
	*Handler
}

// NewContactHandler creates a new contact form handler.
func NewContactHandler(base *Handler) *ContactHandler {
	return &ContactHandler{Handler: base}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type contactResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var errMissingField = errors.New("name, email and message are required")

// RegisterRoutes registers the contact route.
func (h *ContactHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/contact", h.Submit)
}

// Submit validates the form and relays it exactly once.
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req, err := readContactRequest(w, r)
	if err != nil {
		JSON(w, http.StatusBadRequest, contactResponse{Status: "ERROR", Error: err.Error()})
		return
	}

	status, err := h.sender.Send(r.Context(), relay.Form{
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	})
	if err != nil {
		slog.Warn("Contact form relay failed",
			"visitor_id", identity.VisitorIDFromContext(r.Context()),
			"status_code", status,
			"error", err)
		JSON(w, http.StatusBadGateway, contactResponse{Status: "ERROR", Error: "message could not be delivered"})
		return
	}

	slog.Info("Contact form relayed", "visitor_id", identity.VisitorIDFromContext(r.Context()), "status_code", status)
	JSON(w, http.StatusOK, contactResponse{Status: "SUCCESS"})
}

func readContactRequest(w http.ResponseWriter, r *http.Request) (contactRequest, error) {
	var req contactRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			return req, errors.New("invalid request body")
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			return req, errors.New("invalid form body")
		}
		req = contactRequest{
			Name:    r.PostForm.Get("name"),
			Email:   r.PostForm.Get("email"),
			Message: r.PostForm.Get("message"),
		}
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Message = strings.TrimSpace(req.Message)

	if req.Name == "" || req.Email == "" || req.Message == "" {
		return req, errMissingField
	}
	if !chat.ValidEmail(req.Email) {
		return req, errors.New("email address is not valid")
	}
	return req, nil
}
