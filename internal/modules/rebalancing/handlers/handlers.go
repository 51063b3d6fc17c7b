// Package handlers provides HTTP handlers for drift evaluation and planning.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/finguard/finguard/internal/modules/ledger"
	"github.com/finguard/finguard/internal/modules/rebalancing"
	"github.com/finguard/finguard/internal/server/respond"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles rebalancing HTTP requests
type Handler struct {
	service *rebalancing.Service
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(service *rebalancing.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// PlanRequest is the optional body of a plan request
type PlanRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

// HandleEvaluate handles GET /api/portfolios/{id}/evaluate
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Evaluate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.Data(w, h.log, http.StatusOK, result)
}

// HandlePlan handles POST /api/portfolios/{id}/plan
func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}
	triggeredBy := ledger.TriggeredByUser
	if req.TriggeredBy != "" {
		triggeredBy = ledger.TriggeredBy(req.TriggeredBy)
	}

	outcome, err := h.service.Plan(r.Context(), chi.URLParam(r, "id"), triggeredBy)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == rebalancing.StatusPlanned {
		status = http.StatusCreated
	}
	respond.Data(w, h.log, status, outcome)
}
