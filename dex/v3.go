package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Quoter ABI for concentrated-liquidity quoting
const v3QuoterABI = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "tokenIn", "type": "address"},
					{"internalType": "address", "name": "tokenOut", "type": "address"},
					{"internalType": "uint24", "name": "fee", "type": "uint24"},
					{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
					{"internalType": "uint160", "name": "sqrtPriceLimitX96", "type": "uint160"}
				],
				"internalType": "struct IQuoter.QuoteExactInputSingleParams",
				"name": "params",
				"type": "tuple"
			}
		],
		"name": "quoteExactInputSingle",
		"outputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// quoteExactInputSingleParams mirrors the quoter's tuple argument for ABI
// packing.
type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	AmountIn          *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ConcentratedLiquidityProvider quotes tick-based venues tier by tier.
// Liquidity is fragmented per fee tier, so each configured tier is probed
// independently: a preliminary unconstrained quote estimates the output, a
// slippage-bounded sqrt price limit is derived from it, and the final quote
// is issued with that limit. The best surviving tier wins.
type ConcentratedLiquidityProvider struct {
	caller         ContractCaller
	limiter        *rate.Limiter
	abi            abi.ABI
	maxSlippagePct float64
	logger         *zap.Logger
}

// NewConcentratedLiquidityProvider creates a provider for concentrated
// liquidity venues. maxSlippagePct is the tolerated adverse move between the
// preliminary and final quote, e.g. 0.5 for 0.5%.
func NewConcentratedLiquidityProvider(caller ContractCaller, limiter *rate.Limiter, maxSlippagePct float64, logger *zap.Logger) (*ConcentratedLiquidityProvider, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if maxSlippagePct < 0 {
		return nil, fmt.Errorf("max slippage must not be negative")
	}

	parsedABI, err := abi.JSON(strings.NewReader(v3QuoterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}

	return &ConcentratedLiquidityProvider{
		caller:         caller,
		limiter:        limiter,
		abi:            parsedABI,
		maxSlippagePct: maxSlippagePct,
		logger:         logger,
	}, nil
}

// Quote probes every configured fee tier and returns the highest bounded
// output. A tier failing at either the preliminary or final step is skipped
// without aborting the remaining tiers; if no tier survives the venue is
// unavailable for this pair.
func (p *ConcentratedLiquidityProvider) Quote(ctx context.Context, venue Venue, amountIn *big.Int, tokenIn, tokenOut Token) (*Result, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount in must be positive")
	}
	if len(venue.FeeTiers) == 0 {
		return nil, fmt.Errorf("venue %s has no fee tiers configured", venue.Name)
	}

	var best *Result
	for _, tier := range venue.FeeTiers {
		out, err := p.quoteTier(ctx, venue, tier, amountIn, tokenIn, tokenOut)
		if err != nil {
			p.logger.Debug("skipping fee tier",
				zap.String("venue", venue.Name),
				zap.Uint32("fee_tier", tier),
				zap.String("token_in", tokenIn.Symbol),
				zap.String("token_out", tokenOut.Symbol),
				zap.Error(err))
			continue
		}
		if best == nil || out.Cmp(best.AmountOut) > 0 {
			best = &Result{AmountOut: out, FeeTier: tier}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %s: no usable fee tier for %s/%s",
			ErrNoQuote, venue.Name, tokenIn.Symbol, tokenOut.Symbol)
	}
	return best, nil
}

func (p *ConcentratedLiquidityProvider) quoteTier(ctx context.Context, venue Venue, tier uint32, amountIn *big.Int, tokenIn, tokenOut Token) (*big.Int, error) {
	// Preliminary quote, unconstrained.
	preliminaryOut, err := p.callQuoter(ctx, venue, tier, amountIn, tokenIn, tokenOut, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("preliminary quote: %w", err)
	}

	limit := SqrtPriceLimitX96(amountIn, preliminaryOut, tokenIn.Decimals, tokenOut.Decimals, p.maxSlippagePct)
	if limit.Sign() == 0 {
		return nil, fmt.Errorf("zero price limit, treating tier as unavailable")
	}

	// Final quote, bounded. This protects against price movement between the
	// two reads and is the number usable for downstream legs.
	finalOut, err := p.callQuoter(ctx, venue, tier, amountIn, tokenIn, tokenOut, limit)
	if err != nil {
		return nil, fmt.Errorf("bounded quote: %w", err)
	}
	if finalOut.Sign() <= 0 {
		return nil, fmt.Errorf("zero bounded output")
	}
	return finalOut, nil
}

func (p *ConcentratedLiquidityProvider) callQuoter(ctx context.Context, venue Venue, tier uint32, amountIn *big.Int, tokenIn, tokenOut Token, sqrtPriceLimit *big.Int) (*big.Int, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callData, err := p.abi.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           tokenIn.Address,
		TokenOut:          tokenOut.Address,
		Fee:               new(big.Int).SetUint64(uint64(tier)),
		AmountIn:          amountIn,
		SqrtPriceLimitX96: sqrtPriceLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack quoteExactInputSingle: %w", err)
	}

	quoter := venue.Quoter
	raw, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &quoter, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("quoter call reverted: %w", err)
	}

	outputs, err := p.abi.Methods["quoteExactInputSingle"].Outputs.Unpack(raw)
	if err != nil || len(outputs) == 0 {
		return nil, fmt.Errorf("undecodable quoter response")
	}

	out, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quoter output type %T", outputs[0])
	}
	return out, nil
}
