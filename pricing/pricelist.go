package pricing

import (
	"math/big"
	"time"
)

// Quote is one venue's answer for an exact-input trade. Price is
// amountOut/amountIn in decimal-normalized units. Instances are never
// mutated after creation.
type Quote struct {
	Venue      string
	BaseToken  string
	QuoteToken string
	AmountIn   *big.Int
	AmountOut  *big.Int
	FeeTier    uint32
	Price      float64
}

// PairKey identifies a pair entry independent of list position.
type PairKey struct {
	Base  string
	Quote string
}

// PairQuotes holds every quote obtained for one pair during a single scan.
// Results may be shorter than the configured venue count when venues failed;
// it never contains two quotes from the same venue.
type PairQuotes struct {
	Key      PairKey
	AmountIn *big.Int
	Results  []Quote
}

// PriceList is an immutable point-in-time snapshot of quotes across all
// configured pairs. Every aggregation pass produces a brand new instance.
type PriceList struct {
	Entries   []PairQuotes
	CreatedAt time.Time
}

// Entry returns the pair entry matching the key, or nil.
func (pl *PriceList) Entry(key PairKey) *PairQuotes {
	for i := range pl.Entries {
		if pl.Entries[i].Key == key {
			return &pl.Entries[i]
		}
	}
	return nil
}
