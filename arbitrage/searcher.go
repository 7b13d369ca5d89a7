package arbitrage

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/arbetrix/arbbot/dex"
	"github.com/arbetrix/arbbot/pricing"
	umath "github.com/arbetrix/arbbot/utils/math"
)

// Direction records which borrow orientation of a configured pair produced
// the opportunity.
type Direction int

const (
	DirectionAtoB Direction = iota
	DirectionBtoA
)

func (d Direction) String() string {
	if d == DirectionBtoA {
		return "BtoA"
	}
	return "AtoB"
}

// Opportunity is a profitable two-leg round trip: borrow BorrowToken, buy on
// BuyVenue, sell on SellVenue, repay. ExpectedOut-AmountIn is the gross
// profit in borrow token units. Leg2Out is always derived from Leg1Out as the
// second leg's input; the legs are causally chained.
type Opportunity struct {
	BorrowToken dex.Token
	OtherToken  dex.Token
	Direction   Direction
	BuyVenue    dex.Venue
	SellVenue   dex.Venue
	BuyFeeTier  uint32
	SellFeeTier uint32
	AmountIn    *big.Int
	Leg1Out     *big.Int
	Leg2Out     *big.Int
	ExpectedOut *big.Int
}

// Profit returns ExpectedOut-AmountIn in borrow token units.
func (o *Opportunity) Profit() *big.Int {
	return new(big.Int).Sub(o.ExpectedOut, o.AmountIn)
}

// NormalizedProfit returns the gross profit in human borrow-token units,
// used to rank opportunities whose borrow tokens differ.
func (o *Opportunity) NormalizedProfit() float64 {
	return umath.Normalize(o.Profit(), o.BorrowToken.Decimals)
}

// Searcher enumerates venue pair combinations over a snapshot entry looking
// for the most profitable round trip.
type Searcher struct {
	registry *dex.Registry
	logger   *zap.Logger
}

func NewSearcher(registry *dex.Registry, logger *zap.Logger) *Searcher {
	return &Searcher{registry: registry, logger: logger}
}

// SearchPair evaluates every ordered pair of distinct venues (buy on X, sell
// on Y) over the entry's quotes. The first leg reuses the aggregated quote;
// the second leg is re-quoted fresh at the first leg's output, because the
// aggregated reverse quote was computed for the original trial amount, not
// for leg1's output.
//
// Venues are enumerated in the configured order so that equal-profit ties
// resolve deterministically to the first maximum encountered. Returns nil
// when fewer than two venues produced usable quotes or no combination is
// profitable.
func (s *Searcher) SearchPair(ctx context.Context, entry *pricing.PairQuotes, base, quote dex.Token, venues []dex.Venue, direction Direction) (*Opportunity, error) {
	if entry == nil || len(entry.Results) < 2 {
		return nil, nil
	}

	quotesByVenue := make(map[string]*pricing.Quote, len(entry.Results))
	for i := range entry.Results {
		quotesByVenue[entry.Results[i].Venue] = &entry.Results[i]
	}

	var best *Opportunity
	bestProfit := new(big.Int)

	for _, buyVenue := range venues {
		buyQuote, ok := quotesByVenue[buyVenue.Name]
		if !ok {
			continue
		}

		for _, sellVenue := range venues {
			if sellVenue.Name == buyVenue.Name {
				continue
			}
			if _, ok := quotesByVenue[sellVenue.Name]; !ok {
				continue
			}

			leg1Out := buyQuote.AmountOut
			leg2, err := s.quoteSecondLeg(ctx, sellVenue, leg1Out, quote, base)
			if err != nil {
				s.logger.Debug("second leg unavailable",
					zap.String("buy_venue", buyVenue.Name),
					zap.String("sell_venue", sellVenue.Name),
					zap.String("base", base.Symbol),
					zap.String("quote", quote.Symbol),
					zap.Error(err))
				continue
			}

			profit := new(big.Int).Sub(leg2.AmountOut, entry.AmountIn)
			if profit.Cmp(bestProfit) > 0 {
				bestProfit = profit
				best = &Opportunity{
					BorrowToken: base,
					OtherToken:  quote,
					Direction:   direction,
					BuyVenue:    buyVenue,
					SellVenue:   sellVenue,
					BuyFeeTier:  buyQuote.FeeTier,
					SellFeeTier: leg2.FeeTier,
					AmountIn:    entry.AmountIn,
					Leg1Out:     leg1Out,
					Leg2Out:     leg2.AmountOut,
					ExpectedOut: leg2.AmountOut,
				}
			}
		}
	}

	return best, nil
}

func (s *Searcher) quoteSecondLeg(ctx context.Context, venue dex.Venue, amountIn *big.Int, tokenIn, tokenOut dex.Token) (*dex.Result, error) {
	provider, err := s.registry.Provider(venue.Kind)
	if err != nil {
		return nil, fmt.Errorf("second leg on %s: %w", venue.Name, err)
	}
	return provider.Quote(ctx, venue, amountIn, tokenIn, tokenOut)
}

// Best returns the opportunity with the highest normalized profit, first
// encountered winning ties. Nil entries are skipped.
func Best(opportunities []*Opportunity) *Opportunity {
	var best *Opportunity
	bestProfit := 0.0
	for _, opp := range opportunities {
		if opp == nil {
			continue
		}
		if p := opp.NormalizedProfit(); best == nil || p > bestProfit {
			best = opp
			bestProfit = p
		}
	}
	return best
}
