package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes. Patterns are flat so the
// rebalancing handler can add its own /portfolios/{id}/... routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios", h.HandleList)
	r.Post("/portfolios", h.HandlePut)
	r.Get("/portfolios/{id}", h.HandleGet)
	r.Put("/portfolios/{id}/targets", h.HandleSetTargets)
	r.Put("/portfolios/{id}/constraints", h.HandleSetConstraints)
}
