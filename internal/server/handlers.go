package server

import (
	"net/http"
	"time"

	"github.com/finguard/finguard/internal/server/respond"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status               string `json:"status"`
	Version              string `json:"version"`
	Uptime               string `json:"uptime"`
	Portfolios           int    `json:"portfolios"`
	AuditEntries         int    `json:"audit_entries"`
	LedgerHalted         bool   `json:"ledger_halted"`
	HaltReason           string `json:"halt_reason,omitempty"`
	QuoteStreamConnected *bool  `json:"quote_stream_connected,omitempty"`
}

// handleHealth reports "degraded" while the ledger is halted or its store is unreadable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:     "healthy",
		Version:    s.version,
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Portfolios: s.container.Registry.Count(),
	}

	count, err := s.container.Ledger.Count(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count ledger entries")
		response.Status = "degraded"
	}
	response.AuditEntries = count

	if halted, reason := s.container.Ledger.Halted(); halted {
		response.Status = "degraded"
		response.LedgerHalted = true
		response.HaltReason = reason
	}

	if s.container.QuoteStream != nil {
		connected := s.container.QuoteStream.IsConnected()
		response.QuoteStreamConnected = &connected
	}

	respond.JSON(w, s.log, http.StatusOK, response)
}
