package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/modules/ledger"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*chi.Mux, *ledger.Ledger, *ledger.Entry) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	l := ledger.NewLedger(ledger.NewMemoryStore(), log)
	entry, err := l.Append(context.Background(), ledger.Draft{
		PortfolioID: "main",
		TriggeredBy: ledger.TriggeredByUser,
		Reason:      "Portfolio drift detected",
		Plan: &domain.RebalancePlan{
			PortfolioID: "main",
			Trades: []domain.Trade{
				{Side: domain.SideSell, Symbol: "BTC", Quantity: fgtesting.Dec("0.1"), Price: fgtesting.Dec("60000"), EstimatedValue: fgtesting.Dec("6000")},
			},
		},
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	NewHandler(l, log).RegisterRoutes(router)
	return router, l, entry
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "missing data envelope: %s", rec.Body.String())
	return data
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Kind
}

func TestHandleListAndGet(t *testing.T) {
	router, _, entry := setupRouter(t)

	rec := do(router, http.MethodGet, "/ledger/entries/?portfolio_id=main&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeData(t, rec)["count"])

	rec = do(router, http.MethodGet, "/ledger/entries/"+entry.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, entry.ID, data["entry"].(map[string]interface{})["id"])
	assert.Equal(t, "pending", data["entry"].(map[string]interface{})["status"])

	rec = do(router, http.MethodGet, "/ledger/entries/AL-20200101000000-000009", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", errorKind(t, rec))
}

func TestHandleTransition(t *testing.T) {
	router, _, entry := setupRouter(t)
	path := "/ledger/entries/" + entry.ID + "/transition"

	rec := do(router, http.MethodPost, path, `{"status":"executed","actor":"alice"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidTransition", errorKind(t, rec))

	rec = do(router, http.MethodPost, path, `{"status":"approved"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, path, `{"status":"approved","actor":"alice","note":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decodeData(t, rec)["status"])
}

func TestHandleVerifyAndExport(t *testing.T) {
	router, _, entry := setupRouter(t)

	rec := do(router, http.MethodGet, "/ledger/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, true, data["verification"].(map[string]interface{})["valid"])
	assert.Equal(t, false, data["halted"])

	rec = do(router, http.MethodGet, "/ledger/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report ledger.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Entries, 1)
	assert.Equal(t, entry.Hash, report.Entries[0].Hash)
	assert.NotEmpty(t, report.Entries[0].Content)

	rec = do(router, http.MethodGet, "/ledger/export?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/ledger/export?from=2030-01-01T00:00:00Z&to=2020-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResumeAndArchive(t *testing.T) {
	router, _, _ := setupRouter(t)

	rec := do(router, http.MethodPost, "/ledger/resume", `{"actor":"alice","note":"reviewed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/ledger/resume", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/ledger/archive", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidConfiguration", errorKind(t, rec))
}
