// Package respond writes the JSON envelope and maps domain errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
)

var statusByKind = map[domain.ErrorKind]int{
	domain.KindInvalidConfiguration:    http.StatusBadRequest,
	domain.KindDataStale:               http.StatusServiceUnavailable,
	domain.KindInfeasiblePlan:          http.StatusUnprocessableEntity,
	domain.KindInvalidTransition:       http.StatusConflict,
	domain.KindChainIntegrityViolation: http.StatusLocked,
	domain.KindNotFound:                http.StatusNotFound,
	domain.KindNoActionNeeded:          http.StatusOK,
}

// StatusFor returns the HTTP status for an error, 500 for anything that is not a domain error
func StatusFor(err error) int {
	if status, ok := statusByKind[domain.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorBody is the error half of the response contract
type ErrorBody struct {
	Kind       string               `json:"kind"`
	Message    string               `json:"message"`
	Violations []domain.DriftRecord `json:"violations,omitempty"`
}

// Error writes err with the status for its kind. Infrastructure failures are
// logged and reported without internal detail.
func Error(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)

	body := ErrorBody{Kind: "Internal", Message: "internal error"}
	var de *domain.Error
	if errors.As(err, &de) {
		body.Kind = string(de.Kind)
		body.Message = err.Error()
		body.Violations = de.Violations
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}

	JSON(w, log, status, map[string]interface{}{"error": body})
}

// BadRequest reports a malformed request
func BadRequest(w http.ResponseWriter, log zerolog.Logger, message string) {
	JSON(w, log, http.StatusBadRequest, map[string]interface{}{
		"error": ErrorBody{Kind: string(domain.KindInvalidConfiguration), Message: message},
	})
}

// Data writes data inside the standard envelope
func Data(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	JSON(w, log, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// JSON writes a JSON response
func JSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
