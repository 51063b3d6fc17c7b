package testing

import (
	"context"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/domain"
)

// MockPriceFeed is a mock implementation of domain.PriceFeed for testing
type MockPriceFeed struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
	err    error
	delay  time.Duration
	calls  int
}

// NewMockPriceFeed creates a new mock price feed
func NewMockPriceFeed() *MockPriceFeed {
	return &MockPriceFeed{quotes: make(map[string]domain.Quote)}
}

// SetQuote sets the quote returned for a symbol
func (m *MockPriceFeed) SetQuote(symbol, price string, asOf time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = domain.Quote{Symbol: symbol, Price: Dec(price), AsOf: asOf}
}

// SetError sets the error to return
func (m *MockPriceFeed) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every call block for d or until ctx is done
func (m *MockPriceFeed) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Quotes was invoked
func (m *MockPriceFeed) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Quotes implements domain.PriceFeed
func (m *MockPriceFeed) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	m.mu.Lock()
	m.calls++
	delay, err := m.delay, m.err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

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

// MockReturnsFeed is a mock implementation of domain.ReturnsFeed for testing
type MockReturnsFeed struct {
	mu     sync.RWMutex
	series map[string]domain.ReturnSeries
	err    error
	delay  time.Duration
}

// NewMockReturnsFeed creates a mock returns feed preloaded with series
func NewMockReturnsFeed(series map[string]domain.ReturnSeries) *MockReturnsFeed {
	if series == nil {
		series = make(map[string]domain.ReturnSeries)
	}
	return &MockReturnsFeed{series: series}
}

// SetError sets the error to return
func (m *MockReturnsFeed) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every call block for d or until ctx is done
func (m *MockReturnsFeed) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Returns implements domain.ReturnsFeed
func (m *MockReturnsFeed) Returns(ctx context.Context, keys []string) (map[string]domain.ReturnSeries, error) {
	m.mu.RLock()
	delay, err := m.delay, m.err
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ReturnSeries, len(keys))
	for _, k := range keys {
		if s, ok := m.series[k]; ok {
			out[k] = s
		}
	}
	return out, nil
}
