// Package handlers provides HTTP handlers for the audit ledger.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/modules/ledger"
	"github.com/finguard/finguard/internal/server/respond"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const defaultListLimit = 50

// Handler handles ledger HTTP requests
type Handler struct {
	ledger   *ledger.Ledger
	archiver *ledger.Archiver
	log      zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(l *ledger.Ledger, log zerolog.Logger) *Handler {
	return &Handler{
		ledger: l,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

// SetArchiver enables the archive endpoint
func (h *Handler) SetArchiver(archiver *ledger.Archiver) {
	h.archiver = archiver
}

// TransitionRequest is the body of a status change
type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Note   string `json:"note"`
}

// ResumeRequest is the body of a resume after manual review
type ResumeRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// HandleListEntries handles GET /api/ledger/entries
func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	portfolioID := r.URL.Query().Get("portfolio_id")

	entries, err := h.ledger.List(r.Context(), portfolioID, limit)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGetEntry handles GET /api/ledger/entries/{entryID}
func (h *Handler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entryID")

	entry, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	transitions, err := h.ledger.Transitions(r.Context(), id)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{
		"entry":       entry,
		"transitions": transitions,
	})
}

// HandleTransition handles POST /api/ledger/entries/{entryID}/transition
func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entryID")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}
	if req.Actor == "" {
		respond.BadRequest(w, h.log, "actor is required")
		return
	}

	entry, err := h.ledger.Transition(r.Context(), id, ledger.Status(req.Status), req.Actor, req.Note)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, entry)
}

// HandleVerify handles GET /api/ledger/verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Verify(r.Context())
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	halted, reason := h.ledger.Halted()
	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{
		"verification": report,
		"halted":       halted,
		"halt_reason":  reason,
	})
}

// HandleResume handles POST /api/ledger/resume
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, h.log, "invalid request body")
		return
	}

	if err := h.ledger.Resume(r.Context(), req.Actor, req.Note); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{"halted": false})
}

// HandleExport handles GET /api/ledger/export?from=&to=
// The response body is the report document itself.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	report, err := h.ledger.Export(r.Context(), from, to)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.JSON(w, h.log, http.StatusOK, report)
}

// HandleArchive handles POST /api/ledger/archive?from=&to=
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		respond.Error(w, h.log, domain.NewError(domain.KindInvalidConfiguration, "archive ledger", "archiving is not configured"))
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	result, err := h.archiver.Archive(r.Context(), from, to)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	respond.Data(w, h.log, http.StatusOK, result)
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseTime(r.URL.Query().Get("from"), "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime(r.URL.Query().Get("to"), "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func parseTime(value, name string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, domain.NewError(domain.KindInvalidConfiguration, "parse range", "%s must be RFC3339: %s", name, value)
	}
	return t, nil
}
