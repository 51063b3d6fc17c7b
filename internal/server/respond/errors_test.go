package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid configuration", domain.NewError(domain.KindInvalidConfiguration, "op", "bad"), http.StatusBadRequest},
		{"stale", domain.NewError(domain.KindDataStale, "op", "old"), http.StatusServiceUnavailable},
		{"infeasible", domain.InfeasiblePlan("op", nil, "no"), http.StatusUnprocessableEntity},
		{"transition", domain.NewError(domain.KindInvalidTransition, "op", "no"), http.StatusConflict},
		{"integrity", domain.NewError(domain.KindChainIntegrityViolation, "op", "halted"), http.StatusLocked},
		{"not found", domain.NewError(domain.KindNotFound, "op", "missing"), http.StatusNotFound},
		{"wrapped", fmt.Errorf("failed to do: %w", domain.NewError(domain.KindNotFound, "op", "x")), http.StatusNotFound},
		{"plain", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestError_Body(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	violations := []domain.DriftRecord{{Kind: domain.DriftKindAsset, Key: "BTC"}}

	rec := httptest.NewRecorder()
	Error(rec, log, domain.InfeasiblePlan("plan", violations, "all sells blocked"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "InfeasiblePlan", body.Error.Kind)
	assert.Contains(t, body.Error.Message, "all sells blocked")
	require.Len(t, body.Error.Violations, 1)
	assert.Equal(t, "BTC", body.Error.Violations[0].Key)
}

func TestError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, zerolog.New(nil).Level(zerolog.Disabled), errors.New("open /var/data/ledger.db: permission denied"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "permission denied")
}

func TestData_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Data(rec, zerolog.New(nil).Level(zerolog.Disabled), http.StatusOK, map[string]int{"count": 3})

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["data"]["count"])
	assert.NotEmpty(t, body["metadata"]["timestamp"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
