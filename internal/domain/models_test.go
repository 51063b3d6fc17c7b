package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPortfolio_TotalValueAndCategories(t *testing.T) {
	p := &Portfolio{
		Assets: []Asset{
			{Symbol: "AAPL", Category: CategoryStocks, Quantity: d("10"), Price: d("150.25")},
			{Symbol: "BTC", Category: CategoryCrypto, Quantity: d("0.5"), Price: d("60000")},
		},
		Target: TargetAllocation{Categories: map[Category]decimal.Decimal{
			CategoryStocks: d("60"),
			CategoryBonds:  d("40"),
		}},
	}

	assert.True(t, d("31502.5").Equal(p.TotalValue()))
	assert.Equal(t, []Category{CategoryBonds, CategoryCrypto, CategoryStocks}, p.Categories())
	assert.Equal(t, []string{"AAPL", "BTC"}, p.Symbols())
}

func TestPortfolio_CloneIsIndependent(t *testing.T) {
	p := &Portfolio{
		Assets:      []Asset{{Symbol: "AAPL", Quantity: d("1"), Price: d("1")}},
		Target:      TargetAllocation{Categories: map[Category]decimal.Decimal{CategoryStocks: d("100")}},
		Constraints: Constraints{NoSell: []string{"AAPL"}},
	}

	c := p.Clone()
	c.Assets[0].Quantity = d("5")
	c.Target.Categories[CategoryStocks] = d("50")
	c.Constraints.NoSell[0] = "MSFT"

	assert.True(t, d("1").Equal(p.Assets[0].Quantity))
	assert.True(t, d("100").Equal(p.Target.Categories[CategoryStocks]))
	assert.Equal(t, "AAPL", p.Constraints.NoSell[0])
}

func TestPortfolio_OldestPrice(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	p := &Portfolio{Assets: []Asset{
		{Symbol: "A", PriceAsOf: t2},
		{Symbol: "B"},
		{Symbol: "C", PriceAsOf: t1},
	}}
	assert.Equal(t, t1, p.OldestPrice())
}

func TestConstraints(t *testing.T) {
	c := Constraints{NoSell: []string{"BTC"}, NoBuy: []string{"TSLA"}}
	assert.False(t, c.CanSell("BTC"))
	assert.True(t, c.CanSell("ETH"))
	assert.False(t, c.CanBuy("TSLA"))
	assert.True(t, c.CanBuy("BTC"))
}
