package scanner

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbetrix/arbbot/arbitrage"
	"github.com/arbetrix/arbbot/dex"
	"github.com/arbetrix/arbbot/pricing"
	"github.com/arbetrix/arbbot/utils/metrics"
)

var (
	usdc = dex.Token{Symbol: "USDC", Address: common.HexToAddress("0xaa"), Decimals: 6}
	weth = dex.Token{Symbol: "WETH", Address: common.HexToAddress("0xbb"), Decimals: 18}

	venueA = dex.Venue{Name: "alpha", Kind: dex.KindConstantProduct}
	venueB = dex.Venue{Name: "beta", Kind: dex.KindConstantProduct}
)

type fakeAgg struct {
	lists []*pricing.PriceList
	calls int
}

func (f *fakeAgg) Aggregate(context.Context, []pricing.PairRequest, []dex.Venue) (*pricing.PriceList, error) {
	list := f.lists[f.calls%len(f.lists)]
	f.calls++
	return list, nil
}

type fakeSearcher struct {
	opp   *arbitrage.Opportunity
	calls int
}

func (f *fakeSearcher) SearchPair(context.Context, *pricing.PairQuotes, dex.Token, dex.Token, []dex.Venue, arbitrage.Direction) (*arbitrage.Opportunity, error) {
	f.calls++
	return f.opp, nil
}

type fakeSettler struct {
	calls int
}

func (f *fakeSettler) Execute(context.Context, common.Address, *big.Int, []byte) (*types.Transaction, error) {
	f.calls++
	return nil, nil
}

type fakeGas struct {
	cost *big.Int
}

func (f *fakeGas) EstimateGasCost(uint64) (*big.Int, error) {
	return new(big.Int).Set(f.cost), nil
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func priceListAt(price float64) *pricing.PriceList {
	return &pricing.PriceList{
		Entries: []pricing.PairQuotes{{
			Key:      pricing.PairKey{Base: "USDC", Quote: "WETH"},
			AmountIn: big.NewInt(1_000_000_000),
			Results: []pricing.Quote{
				{Venue: "alpha", Price: price},
				{Venue: "beta", Price: price * 1.01},
			},
		}},
		CreatedAt: time.Now(),
	}
}

func testConfig() Config {
	return Config{
		Venues: []dex.Venue{venueA, venueB},
		Pairs: []PairSpec{{
			Base: usdc, Quote: weth,
			AmountIn:  big.NewInt(1_000_000_000),
			Direction: arbitrage.DirectionAtoB,
		}},
		Interval:     time.Minute,
		Tolerance:    pricing.DefaultPriceTolerance,
		SlippageBps:  30,
		FlashFeeBips: 30,
		AaveFeeBips:  5,
		GasLimit:     2_000_000,
	}
}

func newTestScanner(cfg Config, agg aggregator, search searcher, settle settler, gasCoster gasCoster) (*Scanner, *metrics.ScanMetrics) {
	m := metrics.NewScanMetrics("test", prometheus.NewRegistry())
	return New(cfg, agg, search, settle, gasCoster, m, zap.NewNop()), m
}

func profitableOpp() *arbitrage.Opportunity {
	return &arbitrage.Opportunity{
		BorrowToken: usdc,
		OtherToken:  weth,
		BuyVenue:    venueA,
		SellVenue:   venueB,
		AmountIn:    big.NewInt(1_000_000_000),
		Leg1Out:     big.NewInt(500_000_000),
		Leg2Out:     big.NewInt(1_006_000_000),
		ExpectedOut: big.NewInt(1_006_000_000),
	}
}

func TestCommitRejectsStaleSequence(t *testing.T) {
	s, _ := newTestScanner(testConfig(), &fakeAgg{}, &fakeSearcher{}, &fakeSettler{}, nil)

	newer := priceListAt(0.0005)
	older := priceListAt(0.0009)

	_, committed := s.commit(2, newer)
	require.True(t, committed)

	_, committed = s.commit(1, older)
	assert.False(t, committed, "a stale scan must never replace a newer snapshot")
	assert.Same(t, newer, s.Snapshot())

	_, committed = s.commit(3, older)
	assert.True(t, committed, "a fresher sequence always commits")
	assert.Same(t, older, s.Snapshot())
}

func TestScanDropsStaleResult(t *testing.T) {
	agg := &fakeAgg{lists: []*pricing.PriceList{priceListAt(0.0005)}}
	search := &fakeSearcher{}
	s, m := newTestScanner(testConfig(), agg, search, &fakeSettler{}, nil)

	s.scan(context.Background(), 5)
	searchesAfterFirst := search.calls

	// A slower scan that started earlier finishes now and must be dropped
	// before the search phase.
	s.scan(context.Background(), 3)

	assert.Equal(t, searchesAfterFirst, search.calls, "stale scans never reach the search phase")
	assert.Equal(t, 1.0, counterValue(t, m.StaleScansDropped))
}

func TestScanSkipsSearchOnEquivalentSnapshot(t *testing.T) {
	// Two snapshots with prices well inside tolerance of each other.
	agg := &fakeAgg{lists: []*pricing.PriceList{priceListAt(0.0005), priceListAt(0.00050001)}}
	search := &fakeSearcher{}
	s, m := newTestScanner(testConfig(), agg, search, &fakeSettler{}, nil)

	s.scan(context.Background(), 1)
	s.scan(context.Background(), 2)

	assert.Equal(t, 1, search.calls, "an equivalent snapshot skips the search")
	assert.Equal(t, 1.0, counterValue(t, m.UnchangedSnapshots))
	assert.Same(t, agg.lists[1], s.Snapshot(), "the equivalent snapshot still commits")
}

func TestScanSearchesAgainOnPriceMove(t *testing.T) {
	agg := &fakeAgg{lists: []*pricing.PriceList{priceListAt(0.0005), priceListAt(0.0006)}}
	search := &fakeSearcher{}
	s, _ := newTestScanner(testConfig(), agg, search, &fakeSettler{}, nil)

	s.scan(context.Background(), 1)
	s.scan(context.Background(), 2)

	assert.Equal(t, 2, search.calls)
}

func TestScanSettlesProfitableOpportunity(t *testing.T) {
	agg := &fakeAgg{lists: []*pricing.PriceList{priceListAt(0.0005)}}
	settle := &fakeSettler{}
	s, m := newTestScanner(testConfig(), agg, &fakeSearcher{opp: profitableOpp()}, settle, nil)

	s.scan(context.Background(), 1)

	// floor: 5 bps flash fee + 5 bps buffer on 1000 USDC = 1 USDC, profit 6
	assert.Equal(t, 1, settle.calls)
	assert.Equal(t, 1.0, counterValue(t, m.Opportunities))
}

func TestScanRespectsStaticProfitFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinProfit = "10" // 10 USDC floor dwarfs the 6 USDC profit

	agg := &fakeAgg{lists: []*pricing.PriceList{priceListAt(0.0005)}}
	settle := &fakeSettler{}
	s, _ := newTestScanner(cfg, agg, &fakeSearcher{opp: profitableOpp()}, settle, nil)

	s.scan(context.Background(), 1)

	assert.Zero(t, settle.calls, "below-floor opportunities are not settled")
}

func TestScanFoldsGasIntoFloorForWrappedNative(t *testing.T) {
	cfg := testConfig()
	cfg.WrappedNative = "WETH"

	// borrow 1 WETH, come back with 1.0015 WETH; the fee floor alone
	// (5 bps fee + 5 bps buffer = 0.001 WETH) would let this through
	opp := &arbitrage.Opportunity{
		BorrowToken: weth,
		OtherToken:  usdc,
		BuyVenue:    venueA,
		SellVenue:   venueB,
		AmountIn:    mustBig(t, "1000000000000000000"),
		Leg1Out:     big.NewInt(2_000_000_000),
		Leg2Out:     mustBig(t, "1001500000000000000"),
		ExpectedOut: mustBig(t, "1001500000000000000"),
	}

	// gas adds another 0.002 WETH and pushes the floor past the profit
	gasCost := mustBig(t, "2000000000000000")
	agg := &fakeAgg{lists: []*pricing.PriceList{priceListAt(0.0005)}}
	settle := &fakeSettler{}
	s, _ := newTestScanner(cfg, agg, &fakeSearcher{opp: opp}, settle, &fakeGas{cost: gasCost})

	s.scan(context.Background(), 1)

	assert.Zero(t, settle.calls, "gas cost pushes the floor above the profit")
}

func TestRequestScanCoalesces(t *testing.T) {
	s, _ := newTestScanner(testConfig(), &fakeAgg{}, &fakeSearcher{}, &fakeSettler{}, nil)

	s.RequestScan()
	s.RequestScan()
	s.RequestScan()

	<-s.trigger
	select {
	case <-s.trigger:
		t.Fatal("pending requests must coalesce into one")
	default:
	}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}
