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

// Router ABI for constant-product quoting
const v2RouterABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "address[]", "name": "path", "type": "address[]"}
		],
		"name": "getAmountsOut",
		"outputs": [
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ConstantProductProvider quotes x*y=k venues through the router's
// getAmountsOut view call.
type ConstantProductProvider struct {
	caller  ContractCaller
	limiter *rate.Limiter
	abi     abi.ABI
	logger  *zap.Logger
}

// NewConstantProductProvider creates a provider for constant-product venues.
// The limiter is shared across providers to bound total RPC pressure; it may
// be nil to disable limiting.
func NewConstantProductProvider(caller ContractCaller, limiter *rate.Limiter, logger *zap.Logger) (*ConstantProductProvider, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}

	parsedABI, err := abi.JSON(strings.NewReader(v2RouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	return &ConstantProductProvider{
		caller:  caller,
		limiter: limiter,
		abi:     parsedABI,
		logger:  logger,
	}, nil
}

// Quote returns the final output amount of an exact-input swap along the
// single-hop path tokenIn -> tokenOut. A revert or empty-liquidity response
// is converted into ErrNoQuote at this boundary.
func (p *ConstantProductProvider) Quote(ctx context.Context, venue Venue, amountIn *big.Int, tokenIn, tokenOut Token) (*Result, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount in must be positive")
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	path := []common.Address{tokenIn.Address, tokenOut.Address}
	callData, err := p.abi.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountsOut: %w", err)
	}

	router := venue.Router
	raw, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &router, Data: callData}, nil)
	if err != nil {
		// Reverts mean no pool or no liquidity for this path. Absorb here.
		p.logger.Debug("constant product quote reverted",
			zap.String("venue", venue.Name),
			zap.String("token_in", tokenIn.Symbol),
			zap.String("token_out", tokenOut.Symbol),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s/%s: %v", ErrNoQuote, venue.Name, tokenIn.Symbol, tokenOut.Symbol, err)
	}

	outputs, err := p.abi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: %s: undecodable getAmountsOut response", ErrNoQuote, venue.Name)
	}

	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("%w: %s: unexpected getAmountsOut shape", ErrNoQuote, venue.Name)
	}

	out := amounts[len(amounts)-1]
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s: zero output", ErrNoQuote, venue.Name)
	}

	return &Result{AmountOut: out}, nil
}
