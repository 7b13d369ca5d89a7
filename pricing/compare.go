package pricing

import "math"

// DefaultPriceTolerance is the relative price delta below which two
// snapshots are considered to represent the same market state.
const DefaultPriceTolerance = 0.001 // 0.1%

// Equivalent reports whether two snapshots are close enough that re-running
// the opportunity search would be wasted work.
//
// Snapshots are equivalent only when they cover the same pair set (matched by
// token identity, not list position), each pair carries the identical venue
// name set in both, and every per-venue relative price delta is within
// tolerance. Any structural mismatch is non-equivalent regardless of prices.
// The comparison is symmetric and independent of internal ordering.
func Equivalent(a, b *PriceList, tolerance float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Entries) != len(b.Entries) {
		return false
	}

	for i := range a.Entries {
		entryA := &a.Entries[i]
		entryB := b.Entry(entryA.Key)
		if entryB == nil {
			return false
		}

		pricesA := venuePrices(entryA)
		pricesB := venuePrices(entryB)
		if len(pricesA) != len(pricesB) {
			return false
		}

		for venue, priceA := range pricesA {
			priceB, ok := pricesB[venue]
			if !ok {
				return false
			}
			if relativeDelta(priceA, priceB) > tolerance {
				return false
			}
		}
	}

	return true
}

func venuePrices(entry *PairQuotes) map[string]float64 {
	prices := make(map[string]float64, len(entry.Results))
	for _, q := range entry.Results {
		prices[q.Venue] = q.Price
	}
	return prices
}

// relativeDelta is symmetrized by dividing by the larger magnitude so that
// Equivalent(a, b) == Equivalent(b, a) holds exactly.
func relativeDelta(a, b float64) float64 {
	if a == b {
		return 0
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}
