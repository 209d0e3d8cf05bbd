package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health and stats endpoints.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":        "healthy",
		"checks":        checks,
		"conversations": h.hub.Len(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Stats returns aggregated conversation outcomes. No names, emails or
// transcripts are exposed.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.ConversationStats(r.Context())
	if err != nil {
		slog.Error("Failed to load conversation stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"stats":         stats,
		"delivery_rate": stats.DeliveryRate(),
		"active":        h.hub.Len(),
	})
}

// RegisterRoutes registers the health and stats routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/stats", h.Stats)
}
