// Package handlers provides HTTP handlers for portfolio management.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/modules/allocation"
	"github.com/finguard/finguard/internal/modules/portfolio"
	"github.com/finguard/finguard/internal/server/respond"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	registry *portfolio.Registry
	log      zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(registry *portfolio.Registry, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		log:      log.With().Str("handler", "portfolio").Logger(),
	}
}

// PortfolioRequest creates or replaces a portfolio
type PortfolioRequest struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Assets      []domain.Asset          `json:"assets"`
	Target      domain.TargetAllocation `json:"target"`
	Constraints domain.Constraints      `json:"constraints"`
}

// PortfolioView is a snapshot with its derived allocation
type PortfolioView struct {
	Portfolio  *domain.Portfolio               `json:"portfolio"`
	TotalValue decimal.Decimal                 `json:"total_value"`
	Allocation []allocation.CategoryAllocation `json:"allocation"`
}

func view(p *domain.Portfolio) PortfolioView {
	return PortfolioView{
		Portfolio:  p,
		TotalValue: p.TotalValue(),
		Allocation: allocation.Summarize(p),
	}
}

// HandleList handles GET /api/portfolios
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	owners := h.registry.Owners()
	result := make([]map[string]interface{}, 0, len(owners))
	for _, o := range owners {
		p := o.Snapshot()
		result = append(result, map[string]interface{}{
			"id":          p.ID,
			"name":        p.Name,
			"version":     p.Version,
			"assets":      len(p.Assets),
			"total_value": p.TotalValue(),
			"updated_at":  p.UpdatedAt,
		})
	}

	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{
		"portfolios": result,
		"count":      len(result),
	})
}

// HandlePut handles POST /api/portfolios
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}

	p, err := h.registry.Put(r.Context(), &domain.Portfolio{
		ID:          req.ID,
		Name:        req.Name,
		Assets:      req.Assets,
		Target:      req.Target,
		Constraints: req.Constraints,
	})
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, view(p))
}

// HandleGet handles GET /api/portfolios/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, view(p))
}

// HandleSetTargets handles PUT /api/portfolios/{id}/targets
func (h *Handler) HandleSetTargets(w http.ResponseWriter, r *http.Request) {
	owner, err := h.registry.Owner(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	var target domain.TargetAllocation
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}

	p, err := owner.SetTargets(r.Context(), target)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, view(p))
}

// HandleSetConstraints handles PUT /api/portfolios/{id}/constraints
func (h *Handler) HandleSetConstraints(w http.ResponseWriter, r *http.Request) {
	owner, err := h.registry.Owner(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	var constraints domain.Constraints
	if err := json.NewDecoder(r.Body).Decode(&constraints); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}

	p, err := owner.SetConstraints(r.Context(), constraints)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, view(p))
}
