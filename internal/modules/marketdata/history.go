// Package marketdata supplies prices and return series to the rebalancer,
// bounding every fetch and falling back to the last known good values.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/database"
	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// History stores the latest observation per symbol and per return series key.
// Older observations never replace newer ones.
type History interface {
	domain.PriceFeed
	domain.ReturnsFeed
	SaveQuotes(ctx context.Context, quotes []domain.Quote) error
	SaveReturns(ctx context.Context, series []domain.ReturnSeries) error
	Counts(ctx context.Context) (quotes int, series int, err error)
}

// HistoryDB provides access to history.db
type HistoryDB struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// SaveQuotes upserts quotes, keeping whichever observation is newer
func (h *HistoryDB) SaveQuotes(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	updatedAt := h.now().UnixMilli()

	return database.WithTransaction(h.db, func(tx *sql.Tx) error {
		for _, q := range quotes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO quotes (symbol, price, as_of, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(symbol) DO UPDATE SET
					price = excluded.price,
					as_of = excluded.as_of,
					updated_at = excluded.updated_at
				WHERE excluded.as_of >= quotes.as_of
			`, q.Symbol, q.Price, q.AsOf.UnixMilli(), updatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert quote %s: %w", q.Symbol, err)
			}
		}
		return nil
	})
}

// Quotes returns the stored quote for each known symbol
func (h *HistoryDB) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	query := `SELECT symbol, price, as_of FROM quotes WHERE symbol IN (` + placeholders(len(symbols)) + `)`
	rows, err := h.db.QueryContext(ctx, query, anySlice(symbols)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q domain.Quote
		var asOf int64
		if err := rows.Scan(&q.Symbol, &q.Price, &asOf); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		q.AsOf = time.UnixMilli(asOf).UTC()
		out[q.Symbol] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}
	return out, nil
}

// SaveReturns upserts return series. Values are stored msgpack-encoded.
func (h *HistoryDB) SaveReturns(ctx context.Context, series []domain.ReturnSeries) error {
	if len(series) == 0 {
		return nil
	}
	updatedAt := h.now().UnixMilli()

	return database.WithTransaction(h.db, func(tx *sql.Tx) error {
		for _, s := range series {
			payload, err := msgpack.Marshal(s.Values)
			if err != nil {
				return fmt.Errorf("failed to encode return series %s: %w", s.Key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO return_series (key, payload, periods_per_year, as_of, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET
					payload = excluded.payload,
					periods_per_year = excluded.periods_per_year,
					as_of = excluded.as_of,
					updated_at = excluded.updated_at
				WHERE excluded.as_of >= return_series.as_of
			`, s.Key, payload, s.PeriodsPerYear, s.AsOf.UnixMilli(), updatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert return series %s: %w", s.Key, err)
			}
		}
		return nil
	})
}

// Returns returns the stored series for each known key
func (h *HistoryDB) Returns(ctx context.Context, keys []string) (map[string]domain.ReturnSeries, error) {
	out := make(map[string]domain.ReturnSeries, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := `SELECT key, payload, periods_per_year, as_of FROM return_series WHERE key IN (` + placeholders(len(keys)) + `)`
	rows, err := h.db.QueryContext(ctx, query, anySlice(keys)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query return series: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.ReturnSeries
		var payload []byte
		var asOf int64
		if err := rows.Scan(&s.Key, &payload, &s.PeriodsPerYear, &asOf); err != nil {
			return nil, fmt.Errorf("failed to scan return series: %w", err)
		}
		if err := msgpack.Unmarshal(payload, &s.Values); err != nil {
			h.log.Warn().Err(err).Str("key", s.Key).Msg("Skipping undecodable return series")
			continue
		}
		s.AsOf = time.UnixMilli(asOf).UTC()
		out[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating return series: %w", err)
	}
	return out, nil
}

// Counts returns the number of stored quotes and return series
func (h *HistoryDB) Counts(ctx context.Context) (int, int, error) {
	var quotes, series int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quotes`).Scan(&quotes); err != nil {
		return 0, 0, fmt.Errorf("failed to count quotes: %w", err)
	}
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM return_series`).Scan(&series); err != nil {
		return 0, 0, fmt.Errorf("failed to count return series: %w", err)
	}
	return quotes, series, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// MemoryHistory keeps history in memory. Used in tests and ephemeral mode.
type MemoryHistory struct {
	quotes map[string]domain.Quote
	series map[string]domain.ReturnSeries
	mu     sync.RWMutex
}

// NewMemoryHistory creates an empty in-memory history
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		quotes: make(map[string]domain.Quote),
		series: make(map[string]domain.ReturnSeries),
	}
}

// SaveQuotes stores quotes, keeping whichever observation is newer
func (m *MemoryHistory) SaveQuotes(ctx context.Context, quotes []domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotes {
		if existing, ok := m.quotes[q.Symbol]; ok && q.AsOf.Before(existing.AsOf) {
			continue
		}
		m.quotes[q.Symbol] = q
	}
	return nil
}

// Quotes implements domain.PriceFeed
func (m *MemoryHistory) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// SaveReturns stores copies of the series, keeping whichever is newer
func (m *MemoryHistory) SaveReturns(ctx context.Context, series []domain.ReturnSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range series {
		if existing, ok := m.series[s.Key]; ok && s.AsOf.Before(existing.AsOf) {
			continue
		}
		s.Values = append([]float64(nil), s.Values...)
		m.series[s.Key] = s
	}
	return nil
}

// Returns implements domain.ReturnsFeed
func (m *MemoryHistory) Returns(ctx context.Context, keys []string) (map[string]domain.ReturnSeries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ReturnSeries, len(keys))
	for _, k := range keys {
		if s, ok := m.series[k]; ok {
			s.Values = append([]float64(nil), s.Values...)
			out[k] = s
		}
	}
	return out, nil
}

// Counts returns the number of stored quotes and return series
func (m *MemoryHistory) Counts(ctx context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.quotes), len(m.series), nil
}

// validQuote reports whether a quote can be used to price an asset
func validQuote(q domain.Quote) bool {
	return q.Symbol != "" && q.Price.GreaterThan(decimal.Zero) && !q.AsOf.IsZero()
}
