package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a price observation for one symbol
type Quote struct {
	AsOf   time.Time       `json:"as_of"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// ReturnSeries is an ordered series of periodic returns, oldest first
type ReturnSeries struct {
	AsOf           time.Time `json:"as_of"`
	Key            string    `json:"key"`
	Values         []float64 `json:"values"`
	PeriodsPerYear int       `json:"periods_per_year"`
}

// PriceFeed supplies current prices. Implementations must honour ctx cancellation.
type PriceFeed interface {
	Quotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// ReturnsFeed supplies historical return series keyed by symbol or category
type ReturnsFeed interface {
	Returns(ctx context.Context, keys []string) (map[string]ReturnSeries, error)
}
