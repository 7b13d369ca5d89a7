package scanner

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/arbetrix/arbbot/arbitrage"
	"github.com/arbetrix/arbbot/contract"
	"github.com/arbetrix/arbbot/dex"
	"github.com/arbetrix/arbbot/pricing"
	"github.com/arbetrix/arbbot/utils/metrics"
	umath "github.com/arbetrix/arbbot/utils/math"
)

// aggregator, searcher, settler and gasCoster are the collaborator seams;
// production wiring passes the concrete types, tests pass fakes.
type aggregator interface {
	Aggregate(ctx context.Context, pairs []pricing.PairRequest, venues []dex.Venue) (*pricing.PriceList, error)
}

type searcher interface {
	SearchPair(ctx context.Context, entry *pricing.PairQuotes, base, quote dex.Token, venues []dex.Venue, direction arbitrage.Direction) (*arbitrage.Opportunity, error)
}

type settler interface {
	Execute(ctx context.Context, asset common.Address, amount *big.Int, params []byte) (*types.Transaction, error)
}

type gasCoster interface {
	EstimateGasCost(gasLimit uint64) (*big.Int, error)
}

// PairSpec is one borrow orientation to scan: borrow AmountIn of Base, swap
// through Quote and back. Both orientations of a configured pair appear as
// separate specs.
type PairSpec struct {
	Base      dex.Token
	Quote     dex.Token
	AmountIn  *big.Int
	Direction arbitrage.Direction
}

// Key identifies this spec's snapshot entry.
func (p PairSpec) Key() pricing.PairKey {
	return pricing.PairKey{Base: p.Base.Symbol, Quote: p.Quote.Symbol}
}

// Config holds the scanner's static parameters.
type Config struct {
	Venues        []dex.Venue
	Pairs         []PairSpec
	Interval      time.Duration
	Tolerance     float64
	SlippageBps   int64
	MinProfit     string // human units of the borrow token
	FlashFeeBips  uint16
	AaveFeeBips   int64
	GasLimit      uint64
	WrappedNative string // symbol of the wrapped native token, for gas folding
}

// Scanner owns the scan loop. Timer ticks and liquidity events both funnel
// into a single trigger channel; every trigger starts a scan carrying a
// monotonically increasing sequence number. A scan assembles its snapshot
// fully off to the side and commits it only if no newer scan has committed
// first, so a slow stale scan can never clobber fresher market state.
type Scanner struct {
	cfg       Config
	agg       aggregator
	searcher  searcher
	settler   settler
	gasCoster gasCoster
	metrics   *metrics.ScanMetrics
	logger    *zap.Logger

	trigger chan struct{}
	seq     atomic.Uint64

	mu           sync.Mutex // guards committedSeq and snapshot replacement
	committedSeq uint64
	snapshot     atomic.Pointer[pricing.PriceList]

	wg sync.WaitGroup
}

func New(cfg Config, agg aggregator, search searcher, settle settler, gasCoster gasCoster, m *metrics.ScanMetrics, logger *zap.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		agg:       agg,
		searcher:  search,
		settler:   settle,
		gasCoster: gasCoster,
		metrics:   m,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// RequestScan asks for an immediate scan. Non-blocking; a request arriving
// while one is already pending coalesces with it.
func (s *Scanner) RequestScan() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Snapshot returns the most recently committed price list, or nil before the
// first commit.
func (s *Scanner) Snapshot() *pricing.PriceList {
	return s.snapshot.Load()
}

// Run drives the scan loop until the context is cancelled. A single scan's
// failure is logged and survived; the loop continues to the next trigger.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RequestScan()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.RequestScan()
		case <-s.trigger:
			seq := s.seq.Add(1)
			s.metrics.ScansTotal.Inc()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.scan(ctx, seq)
			}()
		}
	}
}

func (s *Scanner) scan(ctx context.Context, seq uint64) {
	start := time.Now()
	defer func() {
		s.metrics.ScanLatency.Observe(time.Since(start).Seconds())
	}()

	requests := make([]pricing.PairRequest, 0, len(s.cfg.Pairs))
	for _, spec := range s.cfg.Pairs {
		requests = append(requests, pricing.PairRequest{
			Base:     spec.Base,
			Quote:    spec.Quote,
			AmountIn: spec.AmountIn,
		})
	}

	list, err := s.agg.Aggregate(ctx, requests, s.cfg.Venues)
	if err != nil {
		s.metrics.ScanFailures.Inc()
		s.logger.Error("aggregation failed", zap.Uint64("seq", seq), zap.Error(err))
		return
	}

	prev, committed := s.commit(seq, list)
	if !committed {
		s.metrics.StaleScansDropped.Inc()
		s.logger.Debug("discarding stale scan result", zap.Uint64("seq", seq))
		return
	}

	if prev != nil && pricing.Equivalent(prev, list, s.cfg.Tolerance) {
		s.metrics.UnchangedSnapshots.Inc()
		s.logger.Debug("snapshot unchanged, skipping search", zap.Uint64("seq", seq))
		return
	}

	s.evaluate(ctx, seq, list)
}

// commit atomically replaces the shared snapshot, but only when no scan with
// a higher sequence number has committed already. Returns the previous
// snapshot and whether the replacement happened.
func (s *Scanner) commit(seq uint64, list *pricing.PriceList) (*pricing.PriceList, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.committedSeq {
		return nil, false
	}
	prev := s.snapshot.Load()
	s.committedSeq = seq
	s.snapshot.Store(list)
	return prev, true
}

func (s *Scanner) evaluate(ctx context.Context, seq uint64, list *pricing.PriceList) {
	opportunities := make([]*arbitrage.Opportunity, 0, len(s.cfg.Pairs))
	for _, spec := range s.cfg.Pairs {
		entry := list.Entry(spec.Key())
		if entry == nil {
			continue
		}
		opp, err := s.searcher.SearchPair(ctx, entry, spec.Base, spec.Quote, s.cfg.Venues, spec.Direction)
		if err != nil {
			s.logger.Warn("search failed",
				zap.String("base", spec.Base.Symbol),
				zap.String("quote", spec.Quote.Symbol),
				zap.Error(err))
			continue
		}
		opportunities = append(opportunities, opp)
	}

	best := arbitrage.Best(opportunities)
	if best == nil {
		s.logger.Debug("no profitable round trip", zap.Uint64("seq", seq))
		return
	}

	floor, err := s.minProfitFloor(best)
	if err != nil {
		s.logger.Error("failed to compute profit floor", zap.Error(err))
		return
	}
	if best.Profit().Cmp(floor) <= 0 {
		s.logger.Info("opportunity below profit floor",
			zap.String("borrow", best.BorrowToken.Symbol),
			zap.String("profit", umath.FormatUnits(best.Profit(), best.BorrowToken.Decimals)),
			zap.String("floor", umath.FormatUnits(floor, best.BorrowToken.Decimals)))
		return
	}

	s.metrics.Opportunities.Inc()
	s.metrics.BestProfit.Set(best.NormalizedProfit())
	s.logger.Info("arbitrage opportunity",
		zap.Uint64("seq", seq),
		zap.String("direction", best.Direction.String()),
		zap.String("borrow", best.BorrowToken.Symbol),
		zap.String("buy_venue", best.BuyVenue.Name),
		zap.String("sell_venue", best.SellVenue.Name),
		zap.String("amount_in", umath.FormatUnits(best.AmountIn, best.BorrowToken.Decimals)),
		zap.String("expected_out", umath.FormatUnits(best.ExpectedOut, best.BorrowToken.Decimals)),
		zap.String("profit", umath.FormatUnits(best.Profit(), best.BorrowToken.Decimals)))

	params, err := contract.BuildParams(best, contract.SafetyParams{
		SlippageBps:  s.cfg.SlippageBps,
		MinProfit:    floor,
		FlashFeeBips: s.cfg.FlashFeeBips,
	})
	if err != nil {
		// Encoding errors are caller-configuration problems; discard the
		// opportunity rather than coercing anything.
		s.logger.Error("failed to build settlement params",
			zap.String("buy_venue", best.BuyVenue.Name),
			zap.String("sell_venue", best.SellVenue.Name),
			zap.Error(err))
		return
	}
	blob, err := params.Encode()
	if err != nil {
		s.logger.Error("failed to encode settlement params", zap.Error(err))
		return
	}

	if _, err := s.settler.Execute(ctx, best.BorrowToken.Address, best.AmountIn, blob); err != nil {
		s.logger.Error("settlement failed",
			zap.String("borrow", best.BorrowToken.Symbol),
			zap.Error(err))
	}
}

// minProfitFloor combines the static configured floor with the flash loan
// fee, a safety buffer of the same size, and the expected gas cost when the
// borrow token is the wrapped native token (same 18-decimal unit as wei).
func (s *Scanner) minProfitFloor(opp *arbitrage.Opportunity) (*big.Int, error) {
	floor := new(big.Int)
	if s.cfg.MinProfit != "" {
		static, err := umath.ParseUnits(s.cfg.MinProfit, opp.BorrowToken.Decimals)
		if err != nil {
			return nil, err
		}
		floor.Add(floor, static)
	}

	flashFee := umath.BpsOf(opp.AmountIn, s.cfg.AaveFeeBips)
	buffer := umath.BpsOf(opp.AmountIn, s.cfg.AaveFeeBips)
	floor.Add(floor, flashFee)
	floor.Add(floor, buffer)

	if s.gasCoster != nil && s.cfg.WrappedNative != "" && opp.BorrowToken.Symbol == s.cfg.WrappedNative {
		if gasCost, err := s.gasCoster.EstimateGasCost(s.cfg.GasLimit); err == nil {
			floor.Add(floor, gasCost)
		}
	}
	return floor, nil
}
