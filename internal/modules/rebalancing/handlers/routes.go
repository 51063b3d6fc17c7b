package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the evaluate and plan routes next to the
// portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/{id}/evaluate", h.HandleEvaluate)
	r.Post("/portfolios/{id}/plan", h.HandlePlan)
}
