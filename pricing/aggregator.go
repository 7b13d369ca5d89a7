package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbetrix/arbbot/dex"
	umath "github.com/arbetrix/arbbot/utils/math"
)

// PairRequest names one pair to aggregate, with the trial amount already in
// the base token's raw representation.
type PairRequest struct {
	Base     dex.Token
	Quote    dex.Token
	AmountIn *big.Int
}

// Aggregator builds price list snapshots by fanning out quote requests to
// every configured venue. It holds no state between calls; each call
// reflects live venue state at call time.
type Aggregator struct {
	registry *dex.Registry
	logger   *zap.Logger

	// onVenueFailure, when set, is invoked once per failed venue query.
	// The scanner hooks its failure counter here.
	onVenueFailure func(venue string)
}

func NewAggregator(registry *dex.Registry, logger *zap.Logger) *Aggregator {
	return &Aggregator{registry: registry, logger: logger}
}

// SetFailureHook registers a callback invoked for each venue query failure.
func (a *Aggregator) SetFailureHook(hook func(venue string)) {
	a.onVenueFailure = hook
}

// Aggregate queries every venue for every pair and assembles a fresh
// snapshot. Venue queries within a pair are issued concurrently and all of
// them settle before the pair's results are assembled. A venue failure is
// logged and excluded; it never aborts the other venues or pairs.
func (a *Aggregator) Aggregate(ctx context.Context, pairs []PairRequest, venues []dex.Venue) (*PriceList, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs to aggregate")
	}
	if len(venues) == 0 {
		return nil, fmt.Errorf("no venues to aggregate")
	}

	list := &PriceList{
		Entries:   make([]PairQuotes, 0, len(pairs)),
		CreatedAt: time.Now(),
	}

	for _, pair := range pairs {
		entry, err := a.aggregatePair(ctx, pair, venues)
		if err != nil {
			return nil, err
		}
		list.Entries = append(list.Entries, *entry)
	}

	return list, nil
}

func (a *Aggregator) aggregatePair(ctx context.Context, pair PairRequest, venues []dex.Venue) (*PairQuotes, error) {
	// Resolve every provider up front so the error path never leaves
	// spawned goroutines behind.
	providers := make([]dex.Provider, len(venues))
	for i, venue := range venues {
		provider, err := a.registry.Provider(venue.Kind)
		if err != nil {
			return nil, fmt.Errorf("pair %s/%s: %w", pair.Base.Symbol, pair.Quote.Symbol, err)
		}
		providers[i] = provider
	}

	// Indexed slots keep the assembled results in configured venue order
	// regardless of which goroutine finishes first.
	slots := make([]*Quote, len(venues))

	var wg sync.WaitGroup
	for i, venue := range venues {
		wg.Add(1)
		go func(i int, venue dex.Venue, provider dex.Provider) {
			defer wg.Done()

			res, err := provider.Quote(ctx, venue, pair.AmountIn, pair.Base, pair.Quote)
			if err != nil {
				a.recordFailure(venue, pair, err)
				return
			}

			normIn := umath.Normalize(pair.AmountIn, pair.Base.Decimals)
			normOut := umath.Normalize(res.AmountOut, pair.Quote.Decimals)
			slots[i] = &Quote{
				Venue:      venue.Name,
				BaseToken:  pair.Base.Symbol,
				QuoteToken: pair.Quote.Symbol,
				AmountIn:   pair.AmountIn,
				AmountOut:  res.AmountOut,
				FeeTier:    res.FeeTier,
				Price:      normOut / normIn,
			}
		}(i, venue, providers[i])
	}
	wg.Wait()

	entry := &PairQuotes{
		Key:      PairKey{Base: pair.Base.Symbol, Quote: pair.Quote.Symbol},
		AmountIn: pair.AmountIn,
		Results:  make([]Quote, 0, len(venues)),
	}
	for _, q := range slots {
		if q != nil {
			entry.Results = append(entry.Results, *q)
		}
	}
	return entry, nil
}

func (a *Aggregator) recordFailure(venue dex.Venue, pair PairRequest, err error) {
	if a.onVenueFailure != nil {
		a.onVenueFailure(venue.Name)
	}
	if errors.Is(err, dex.ErrNoQuote) {
		a.logger.Debug("venue has no quote",
			zap.String("venue", venue.Name),
			zap.String("base", pair.Base.Symbol),
			zap.String("quote", pair.Quote.Symbol),
			zap.Error(err))
		return
	}
	a.logger.Warn("venue quote failed",
		zap.String("venue", venue.Name),
		zap.String("base", pair.Base.Symbol),
		zap.String("quote", pair.Quote.Symbol),
		zap.Error(err))
}
