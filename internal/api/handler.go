// Package api provides HTTP handlers for the portfolio API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mihretab/portfolio/internal/relay"
	"github.com/mihretab/portfolio/internal/session"
	"github.com/mihretab/portfolio/internal/store"
)

const maxRequestBodySize = 64 << 10

// ContactSender relays a plain contact form.
type ContactSender interface {
	Send(ctx context.Context, f relay.Form) (int, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	hub    *session.Hub
	sender ContactSender
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, hub *session.Hub, sender ContactSender) *Handler {
	return &Handler{
		repo:   repo,
		hub:    hub,
		sender: sender,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
