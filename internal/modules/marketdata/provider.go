package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
)

// Snapshot sources
const (
	SourceLive          = "live"
	SourceLastKnownGood = "last_known_good"
)

// Config bounds fetches and classifies data age
type Config struct {
	FetchTimeout     time.Duration
	StaleAfter       time.Duration
	StalenessCeiling time.Duration
}

// ConfigFromPolicy extracts the market data settings from the policy
func ConfigFromPolicy(p *config.Policy) Config {
	return Config{
		FetchTimeout:     p.FetchTimeout,
		StaleAfter:       p.StaleAfter,
		StalenessCeiling: p.StalenessCeiling,
	}
}

// QuoteSnapshot is the result of one price fetch
type QuoteSnapshot struct {
	AsOf    time.Time               `json:"as_of"`
	Quotes  map[string]domain.Quote `json:"quotes"`
	Source  string                  `json:"source"`
	Missing []string                `json:"missing,omitempty"`
	Stale   bool                    `json:"stale"`
}

// ReturnsSnapshot is the result of one return series fetch
type ReturnsSnapshot struct {
	AsOf   time.Time                      `json:"as_of"`
	Series map[string]domain.ReturnSeries `json:"series"`
	Source string                         `json:"source"`
	Stale  bool                           `json:"stale"`
}

// Status describes the provider for the status endpoint
type Status struct {
	LastFetch        *time.Time `json:"last_fetch,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	CachedQuotes     int        `json:"cached_quotes"`
	CachedSeries     int        `json:"cached_series"`
	StoredQuotes     int        `json:"stored_quotes"`
	StoredSeries     int        `json:"stored_series"`
	FetchTimeout     string     `json:"fetch_timeout"`
	StaleAfter       string     `json:"stale_after"`
	StalenessCeiling string     `json:"staleness_ceiling"`
}

// Provider wraps the external feeds. Every fetch runs under FetchTimeout; on
// failure or timeout the last known good values are served and flagged stale.
type Provider struct {
	prices  domain.PriceFeed
	returns domain.ReturnsFeed
	history History
	cfg     Config

	lkgQuotes map[string]domain.Quote
	lkgSeries map[string]domain.ReturnSeries
	lastFetch time.Time
	lastErr   error
	mu        sync.RWMutex

	now func() time.Time
	log zerolog.Logger
}

// NewProvider creates a provider. history may be nil, in which case the last
// known good values live in memory only.
func NewProvider(prices domain.PriceFeed, returns domain.ReturnsFeed, history History, cfg Config, log zerolog.Logger) *Provider {
	return &Provider{
		prices:    prices,
		returns:   returns,
		history:   history,
		cfg:       cfg,
		lkgQuotes: make(map[string]domain.Quote),
		lkgSeries: make(map[string]domain.ReturnSeries),
		now:       time.Now,
		log:       log.With().Str("service", "market_data").Logger(),
	}
}

// SetClock replaces the clock used to judge data age
func (p *Provider) SetClock(now func() time.Time) {
	p.now = now
}

// Quotes fetches prices for symbols. Symbols the feed could not supply are
// filled from the last known good values; any that remain unknown are listed
// in Missing.
func (p *Provider) Quotes(ctx context.Context, symbols []string) (*QuoteSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	live, err := p.prices.Quotes(fetchCtx, symbols)
	cancel()
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", ctx.Err())
	}
	p.recordFetch(err)
	if err != nil {
		p.log.Warn().Err(err).Int("symbols", len(symbols)).Msg("Price fetch failed, serving last known good")
		live = nil
	}

	snap := &QuoteSnapshot{Quotes: make(map[string]domain.Quote, len(symbols)), Source: SourceLive}
	fresh := make([]domain.Quote, 0, len(live))
	var missing []string
	for _, s := range symbols {
		if q, ok := live[s]; ok && validQuote(q) {
			q.Symbol = s
			snap.Quotes[s] = q
			fresh = append(fresh, q)
			continue
		}
		missing = append(missing, s)
	}
	p.rememberQuotes(ctx, fresh)

	if len(missing) > 0 {
		fallback := p.lastKnownQuotes(ctx, missing)
		for _, s := range missing {
			if q, ok := fallback[s]; ok {
				snap.Quotes[s] = q
				snap.Source = SourceLastKnownGood
				snap.Stale = true
				continue
			}
			snap.Missing = append(snap.Missing, s)
		}
	}

	for _, q := range snap.Quotes {
		if snap.AsOf.IsZero() || q.AsOf.Before(snap.AsOf) {
			snap.AsOf = q.AsOf
		}
	}
	if !snap.AsOf.IsZero() && p.now().Sub(snap.AsOf) > p.cfg.StaleAfter {
		snap.Stale = true
	}
	return snap, nil
}

// Returns fetches return series for keys, falling back like Quotes. Series
// older than StaleAfter mark the snapshot stale; they are still served and the
// impact estimator discounts them.
func (p *Provider) Returns(ctx context.Context, keys []string) (*ReturnsSnapshot, error) {
	snap := &ReturnsSnapshot{Series: make(map[string]domain.ReturnSeries, len(keys)), Source: SourceLive}
	if p.returns == nil {
		snap.Source = SourceLastKnownGood
		p.fillSeries(ctx, snap, keys)
		return snap, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	live, err := p.returns.Returns(fetchCtx, keys)
	cancel()
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("failed to fetch return series: %w", ctx.Err())
	}
	if err != nil {
		p.log.Warn().Err(err).Int("keys", len(keys)).Msg("Return series fetch failed, serving last known good")
		live = nil
	}

	fresh := make([]domain.ReturnSeries, 0, len(live))
	var missing []string
	for _, k := range keys {
		if s, ok := live[k]; ok && len(s.Values) > 0 {
			s.Key = k
			snap.Series[k] = s
			fresh = append(fresh, s)
			continue
		}
		missing = append(missing, k)
	}
	p.rememberSeries(ctx, fresh)
	if err != nil {
		snap.Source = SourceLastKnownGood
		snap.Stale = true
	}
	p.fillSeries(ctx, snap, missing)
	return snap, nil
}

func (p *Provider) fillSeries(ctx context.Context, snap *ReturnsSnapshot, keys []string) {
	if len(keys) > 0 {
		for k, s := range p.lastKnownSeries(ctx, keys) {
			snap.Series[k] = s
		}
	}
	for _, s := range snap.Series {
		if snap.AsOf.IsZero() || s.AsOf.Before(snap.AsOf) {
			snap.AsOf = s.AsOf
		}
	}
	if !snap.AsOf.IsZero() && p.now().Sub(snap.AsOf) > p.cfg.StaleAfter {
		snap.Stale = true
	}
}

// Assess classifies data observed at asOf. Data older than the staleness
// ceiling, or with no timestamp at all, is DataStale; data older than
// StaleAfter is usable but stale.
func (p *Provider) Assess(op string, asOf time.Time) (bool, error) {
	if asOf.IsZero() {
		return true, domain.NewError(domain.KindDataStale, op, "no market data available")
	}
	age := p.now().Sub(asOf)
	if age > p.cfg.StalenessCeiling {
		return true, domain.NewError(domain.KindDataStale, op, "market data is %s old, ceiling is %s",
			age.Truncate(time.Second), p.cfg.StalenessCeiling)
	}
	return age > p.cfg.StaleAfter, nil
}

// IngestQuotes validates pushed quotes and stores them as last known good
func (p *Provider) IngestQuotes(ctx context.Context, quotes []domain.Quote) error {
	for _, q := range quotes {
		if !validQuote(q) {
			return domain.NewError(domain.KindInvalidConfiguration, "ingest quotes",
				"quote for %q needs a symbol, a positive price and an as_of time", q.Symbol)
		}
	}
	if p.history != nil {
		if err := p.history.SaveQuotes(ctx, quotes); err != nil {
			return fmt.Errorf("failed to store quotes: %w", err)
		}
	}
	p.rememberQuotesInMemory(quotes)
	p.log.Info().Int("quotes", len(quotes)).Msg("Quotes ingested")
	return nil
}

// IngestReturns validates pushed return series and stores them as last known good
func (p *Provider) IngestReturns(ctx context.Context, series []domain.ReturnSeries) error {
	for _, s := range series {
		if s.Key == "" || len(s.Values) < 2 || s.AsOf.IsZero() || s.PeriodsPerYear < 0 {
			return domain.NewError(domain.KindInvalidConfiguration, "ingest returns",
				"series %q needs a key, at least two values and an as_of time", s.Key)
		}
	}
	if p.history != nil {
		if err := p.history.SaveReturns(ctx, series); err != nil {
			return fmt.Errorf("failed to store return series: %w", err)
		}
	}
	p.rememberSeriesInMemory(series)
	p.log.Info().Int("series", len(series)).Msg("Return series ingested")
	return nil
}

// Status reports cache sizes and the outcome of the last price fetch
func (p *Provider) Status(ctx context.Context) (*Status, error) {
	p.mu.RLock()
	status := &Status{
		CachedQuotes:     len(p.lkgQuotes),
		CachedSeries:     len(p.lkgSeries),
		FetchTimeout:     p.cfg.FetchTimeout.String(),
		StaleAfter:       p.cfg.StaleAfter.String(),
		StalenessCeiling: p.cfg.StalenessCeiling.String(),
	}
	if !p.lastFetch.IsZero() {
		t := p.lastFetch
		status.LastFetch = &t
	}
	if p.lastErr != nil {
		status.LastError = p.lastErr.Error()
	}
	p.mu.RUnlock()

	if p.history != nil {
		quotes, series, err := p.history.Counts(ctx)
		if err != nil {
			return nil, err
		}
		status.StoredQuotes = quotes
		status.StoredSeries = series
	}
	return status, nil
}

func (p *Provider) recordFetch(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFetch = p.now().UTC()
	p.lastErr = err
}

func (p *Provider) rememberQuotes(ctx context.Context, quotes []domain.Quote) {
	if len(quotes) == 0 {
		return
	}
	p.rememberQuotesInMemory(quotes)
	if p.history == nil || p.history == p.prices {
		return
	}
	if err := p.history.SaveQuotes(ctx, quotes); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist last known good quotes")
	}
}

func (p *Provider) rememberQuotesInMemory(quotes []domain.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range quotes {
		if existing, ok := p.lkgQuotes[q.Symbol]; ok && q.AsOf.Before(existing.AsOf) {
			continue
		}
		p.lkgQuotes[q.Symbol] = q
	}
}

func (p *Provider) rememberSeries(ctx context.Context, series []domain.ReturnSeries) {
	if len(series) == 0 {
		return
	}
	p.rememberSeriesInMemory(series)
	if p.history == nil || p.history == p.returns {
		return
	}
	if err := p.history.SaveReturns(ctx, series); err != nil {
		p.log.Warn().Err(err).Msg("Failed to persist last known good return series")
	}
}

func (p *Provider) rememberSeriesInMemory(series []domain.ReturnSeries) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range series {
		if existing, ok := p.lkgSeries[s.Key]; ok && s.AsOf.Before(existing.AsOf) {
			continue
		}
		s.Values = append([]float64(nil), s.Values...)
		p.lkgSeries[s.Key] = s
	}
}

// lastKnownQuotes looks in memory first, then in history
func (p *Provider) lastKnownQuotes(ctx context.Context, symbols []string) map[string]domain.Quote {
	out := make(map[string]domain.Quote, len(symbols))
	var unknown []string
	p.mu.RLock()
	for _, s := range symbols {
		if q, ok := p.lkgQuotes[s]; ok {
			out[s] = q
			continue
		}
		unknown = append(unknown, s)
	}
	p.mu.RUnlock()

	if len(unknown) == 0 || p.history == nil {
		return out
	}
	stored, err := p.history.Quotes(ctx, unknown)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to read last known good quotes")
		return out
	}
	loaded := make([]domain.Quote, 0, len(stored))
	for s, q := range stored {
		out[s] = q
		loaded = append(loaded, q)
	}
	p.rememberQuotesInMemory(loaded)
	return out
}

func (p *Provider) lastKnownSeries(ctx context.Context, keys []string) map[string]domain.ReturnSeries {
	out := make(map[string]domain.ReturnSeries, len(keys))
	var unknown []string
	p.mu.RLock()
	for _, k := range keys {
		if s, ok := p.lkgSeries[k]; ok {
			out[k] = s
			continue
		}
		unknown = append(unknown, k)
	}
	p.mu.RUnlock()

	if len(unknown) == 0 || p.history == nil {
		return out
	}
	stored, err := p.history.Returns(ctx, unknown)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to read last known good return series")
		return out
	}
	loaded := make([]domain.ReturnSeries, 0, len(stored))
	for k, s := range stored {
		out[k] = s
		loaded = append(loaded, s)
	}
	p.rememberSeriesInMemory(loaded)
	return out
}

// ReturnKeys lists the series keys a portfolio can use: every symbol and every
// category, sorted
func ReturnKeys(p *domain.Portfolio) []string {
	seen := make(map[string]bool)
	for _, a := range p.Assets {
		seen[a.Symbol] = true
		seen[string(a.Category)] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
