package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCaller replays a queue of responses, one per CallContract invocation.
type fakeCaller struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	data []byte
	err  error
}

func (f *fakeCaller) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("unexpected call %d", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp.data, resp.err
}

var (
	testTokenIn  = Token{Symbol: "USDC", Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Decimals: 6}
	testTokenOut = Token{Symbol: "WETH", Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Decimals: 18}
)

func cpVenue() Venue {
	return Venue{
		Name:   "alpha",
		Kind:   KindConstantProduct,
		Router: common.HexToAddress("0x0000000000000000000000000000000000000010"),
	}
}

func clVenue(tiers ...uint32) Venue {
	return Venue{
		Name:     "beta",
		Kind:     KindConcentratedLiquidity,
		Router:   common.HexToAddress("0x0000000000000000000000000000000000000020"),
		Quoter:   common.HexToAddress("0x0000000000000000000000000000000000000021"),
		FeeTiers: tiers,
	}
}

func packAmountsOut(t *testing.T, p *ConstantProductProvider, amounts []*big.Int) []byte {
	t.Helper()
	data, err := p.abi.Methods["getAmountsOut"].Outputs.Pack(amounts)
	require.NoError(t, err)
	return data
}

func packQuoterOut(t *testing.T, p *ConcentratedLiquidityProvider, amount *big.Int) []byte {
	t.Helper()
	data, err := p.abi.Methods["quoteExactInputSingle"].Outputs.Pack(amount)
	require.NoError(t, err)
	return data
}

func TestConstantProductQuote(t *testing.T) {
	caller := &fakeCaller{}
	p, err := NewConstantProductProvider(caller, nil, zap.NewNop())
	require.NoError(t, err)

	want, ok := new(big.Int).SetString("500000000000000000", 10)
	require.True(t, ok)
	caller.responses = []fakeResponse{
		{data: packAmountsOut(t, p, []*big.Int{big.NewInt(1_000_000_000), want})},
	}

	res, err := p.Quote(context.Background(), cpVenue(), big.NewInt(1_000_000_000), testTokenIn, testTokenOut)
	require.NoError(t, err)
	assert.Zero(t, res.AmountOut.Cmp(want), "output is the last path element")
	assert.Zero(t, res.FeeTier)
}

func TestConstantProductQuoteRevertIsNoQuote(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResponse{
		{err: fmt.Errorf("execution reverted")},
	}}
	p, err := NewConstantProductProvider(caller, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Quote(context.Background(), cpVenue(), big.NewInt(1_000_000), testTokenIn, testTokenOut)
	assert.True(t, errors.Is(err, ErrNoQuote))
}

func TestConstantProductQuoteRejectsNonPositiveAmount(t *testing.T) {
	p, err := NewConstantProductProvider(&fakeCaller{}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Quote(context.Background(), cpVenue(), new(big.Int), testTokenIn, testTokenOut)
	assert.Error(t, err)
	_, err = p.Quote(context.Background(), cpVenue(), nil, testTokenIn, testTokenOut)
	assert.Error(t, err)
}

func TestConcentratedLiquidityQuoteBestTierWins(t *testing.T) {
	caller := &fakeCaller{}
	p, err := NewConcentratedLiquidityProvider(caller, nil, 0.5, zap.NewNop())
	require.NoError(t, err)

	// Two tiers, two calls each: preliminary then bounded.
	caller.responses = []fakeResponse{
		{data: packQuoterOut(t, p, big.NewInt(100))}, // tier 500 preliminary
		{data: packQuoterOut(t, p, big.NewInt(95))},  // tier 500 bounded
		{data: packQuoterOut(t, p, big.NewInt(120))}, // tier 3000 preliminary
		{data: packQuoterOut(t, p, big.NewInt(118))}, // tier 3000 bounded
	}

	res, err := p.Quote(context.Background(), clVenue(500, 3000), big.NewInt(1_000_000), testTokenIn, testTokenIn)
	require.NoError(t, err)
	assert.Zero(t, res.AmountOut.Cmp(big.NewInt(118)))
	assert.Equal(t, uint32(3000), res.FeeTier)
	assert.Equal(t, 4, caller.calls)
}

func TestConcentratedLiquidityQuoteSkipsFailedTier(t *testing.T) {
	caller := &fakeCaller{}
	p, err := NewConcentratedLiquidityProvider(caller, nil, 0.5, zap.NewNop())
	require.NoError(t, err)

	caller.responses = []fakeResponse{
		{err: fmt.Errorf("execution reverted")},      // tier 500 preliminary fails
		{data: packQuoterOut(t, p, big.NewInt(110))}, // tier 3000 preliminary
		{data: packQuoterOut(t, p, big.NewInt(108))}, // tier 3000 bounded
	}

	res, err := p.Quote(context.Background(), clVenue(500, 3000), big.NewInt(1_000_000), testTokenIn, testTokenIn)
	require.NoError(t, err)
	assert.Zero(t, res.AmountOut.Cmp(big.NewInt(108)))
	assert.Equal(t, uint32(3000), res.FeeTier)
}

func TestConcentratedLiquidityQuoteAllTiersFail(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResponse{
		{err: fmt.Errorf("execution reverted")},
		{err: fmt.Errorf("execution reverted")},
	}}
	p, err := NewConcentratedLiquidityProvider(caller, nil, 0.5, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Quote(context.Background(), clVenue(500, 3000), big.NewInt(1_000_000), testTokenIn, testTokenIn)
	assert.True(t, errors.Is(err, ErrNoQuote))
}

func TestConcentratedLiquidityZeroPreliminaryTreatedAsUnavailable(t *testing.T) {
	caller := &fakeCaller{}
	p, err := NewConcentratedLiquidityProvider(caller, nil, 0.5, zap.NewNop())
	require.NoError(t, err)

	caller.responses = []fakeResponse{
		{data: packQuoterOut(t, p, new(big.Int))}, // zero preliminary, no bounded call
	}

	_, err = p.Quote(context.Background(), clVenue(500), big.NewInt(1_000_000), testTokenIn, testTokenIn)
	assert.True(t, errors.Is(err, ErrNoQuote))
	assert.Equal(t, 1, caller.calls, "a zero limit must not trigger the bounded quote")
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	p, err := NewConstantProductProvider(&fakeCaller{}, nil, zap.NewNop())
	require.NoError(t, err)
	reg.Register(KindConstantProduct, p)

	got, err := reg.Provider(KindConstantProduct)
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = reg.Provider(KindConcentratedLiquidity)
	assert.Error(t, err)
}
