package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finguard/finguard/internal/modules/marketdata"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*chi.Mux, *marketdata.MemoryHistory) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	history := marketdata.NewMemoryHistory()
	provider := marketdata.NewProvider(history, history, history, marketdata.Config{
		FetchTimeout:     time.Second,
		StaleAfter:       15 * time.Minute,
		StalenessCeiling: 24 * time.Hour,
	}, log)

	router := chi.NewRouter()
	NewHandler(provider, log).RegisterRoutes(router)
	return router, history
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleIngestPrices(t *testing.T) {
	router, history := setupRouter(t)

	rec := do(router, http.MethodPost, "/market/prices", `{"quotes": [
		{"symbol": "AAPL", "price": "191.25", "as_of": "2024-03-15T14:30:00Z"},
		{"symbol": "BTC", "price": "62000", "as_of": "2024-03-15T14:30:00Z"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := history.Quotes(context.Background(), []string{"AAPL", "BTC"})
	require.NoError(t, err)
	assert.Equal(t, "191.25", stored["AAPL"].Price.String())
	assert.Len(t, stored, 2)
}

func TestHandleIngestPrices_Invalid(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed", `{`, http.StatusBadRequest, ""},
		{"empty", `{"quotes": []}`, http.StatusBadRequest, ""},
		{"negative price", `{"quotes": [{"symbol": "AAPL", "price": "-1", "as_of": "2024-03-15T14:30:00Z"}]}`, http.StatusBadRequest, "InvalidConfiguration"},
		{"missing as_of", `{"quotes": [{"symbol": "AAPL", "price": "10"}]}`, http.StatusBadRequest, "InvalidConfiguration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, http.MethodPost, "/market/prices", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			if tt.kind == "" {
				return
			}
			var body struct {
				Error struct {
					Kind string `json:"kind"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Error.Kind)
		})
	}
}

func TestHandleIngestReturnsAndStatus(t *testing.T) {
	router, _ := setupRouter(t)

	rec := do(router, http.MethodPost, "/market/returns", `{"series": [
		{"key": "BTC", "values": [0.01, -0.02, 0.015], "as_of": "2024-03-15T00:00:00Z", "periods_per_year": 365}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(router, http.MethodGet, "/market/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data marketdata.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.StoredSeries)
	assert.Equal(t, 1, body.Data.CachedSeries)
	assert.Equal(t, "1s", body.Data.FetchTimeout)
}
