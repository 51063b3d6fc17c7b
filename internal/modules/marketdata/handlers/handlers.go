// Package handlers provides HTTP handlers for market data ingestion.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/modules/marketdata"
	"github.com/finguard/finguard/internal/server/respond"
	"github.com/rs/zerolog"
)

// Handler handles market data HTTP requests
type Handler struct {
	provider *marketdata.Provider
	log      zerolog.Logger
}

// NewHandler creates a new market data handler
func NewHandler(provider *marketdata.Provider, log zerolog.Logger) *Handler {
	return &Handler{
		provider: provider,
		log:      log.With().Str("handler", "market_data").Logger(),
	}
}

// PricesRequest pushes quotes into the store
type PricesRequest struct {
	Quotes []domain.Quote `json:"quotes"`
}

// ReturnsRequest pushes return series into the store
type ReturnsRequest struct {
	Series []domain.ReturnSeries `json:"series"`
}

// HandleIngestPrices handles POST /api/market/prices
func (h *Handler) HandleIngestPrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}
	if len(req.Quotes) == 0 {
		respond.BadRequest(w, h.log, "quotes are required")
		return
	}

	if err := h.provider.IngestQuotes(r.Context(), req.Quotes); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{
		"ingested": len(req.Quotes),
	})
}

// HandleIngestReturns handles POST /api/market/returns
func (h *Handler) HandleIngestReturns(w http.ResponseWriter, r *http.Request) {
	var req ReturnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}
	if len(req.Series) == 0 {
		respond.BadRequest(w, h.log, "series are required")
		return
	}

	if err := h.provider.IngestReturns(r.Context(), req.Series); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{
		"ingested": len(req.Series),
	})
}

// HandleStatus handles GET /api/market/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.provider.Status(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.Data(w, h.log, http.StatusOK, status)
}
