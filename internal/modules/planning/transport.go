package planning

import (
	"sort"

	"github.com/shopspring/decimal"
)

// bucket is one side of the transportation problem: a category (or an asset,
// for moves inside a category) that wants to shed or absorb value.
type bucket struct {
	key       string
	need      decimal.Decimal // distance to target value, always positive
	capacity  decimal.Decimal // most the bucket may trade under constraints
	moved     decimal.Decimal
	violating bool
}

// available is what the bucket can still trade
func (b *bucket) available() decimal.Decimal {
	a := decimal.Min(b.need, b.capacity).Sub(b.moved)
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

// residual is the distance to target that remains after moves so far
func (b *bucket) residual() decimal.Decimal {
	return b.need.Sub(b.moved)
}

type flow struct {
	from   string
	to     string
	amount decimal.Decimal
}

// sortBuckets orders by need descending, then key
func sortBuckets(buckets []*bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if c := buckets[i].need.Cmp(buckets[j].need); c != 0 {
			return c > 0
		}
		return buckets[i].key < buckets[j].key
	})
}

func violatingOnly(buckets []*bucket) []*bucket {
	out := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.violating {
			out = append(out, b)
		}
	}
	return out
}

// transport matches sources against sinks greedily.
//
// Round one pairs violating sources with violating sinks. Round two lets any
// violating bucket whose residual still exceeds tolerance trade against every
// opposite bucket with capacity left, violating or not. Buckets are never
// pushed past their target.
func transport(sources, sinks []*bucket, tolerance decimal.Decimal) []flow {
	sortBuckets(sources)
	sortBuckets(sinks)

	flows := northWest(violatingOnly(sources), violatingOnly(sinks), nil)

	for _, src := range sources {
		if src.violating && src.residual().GreaterThan(tolerance) {
			flows = northWest([]*bucket{src}, sinks, flows)
		}
	}
	for _, snk := range sinks {
		if snk.violating && snk.residual().GreaterThan(tolerance) {
			flows = northWest(sources, []*bucket{snk}, flows)
		}
	}

	return flows
}

// northWest applies the north-west corner rule over already ordered buckets
func northWest(sources, sinks []*bucket, flows []flow) []flow {
	i, j := 0, 0
	for i < len(sources) && j < len(sinks) {
		src, snk := sources[i], sinks[j]
		if !src.available().IsPositive() {
			i++
			continue
		}
		if !snk.available().IsPositive() {
			j++
			continue
		}

		amount := decimal.Min(src.available(), snk.available())
		flows = append(flows, flow{from: src.key, to: snk.key, amount: amount})
		src.moved = src.moved.Add(amount)
		snk.moved = snk.moved.Add(amount)
	}
	return flows
}

// totals sums flow amounts per source and per sink key
func totals(flows []flow) (out, in map[string]decimal.Decimal) {
	out = make(map[string]decimal.Decimal)
	in = make(map[string]decimal.Decimal)
	for _, f := range flows {
		out[f.from] = out[f.from].Add(f.amount)
		in[f.to] = in[f.to].Add(f.amount)
	}
	return out, in
}
