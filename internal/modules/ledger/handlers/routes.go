package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.HandleListEntries)
			r.Get("/{entryID}", h.HandleGetEntry)
			r.Post("/{entryID}/transition", h.HandleTransition)
		})

		// Chain integrity
		r.Get("/verify", h.HandleVerify)
		r.Post("/resume", h.HandleResume)

		r.Get("/export", h.HandleExport)
		r.Post("/archive", h.HandleArchive)
	})
}
