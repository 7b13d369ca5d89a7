package dex

import (
	"context"
	"errors"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNoQuote signals that a venue (or every one of its fee tiers) has no
// usable liquidity for the requested path. It is recovered locally by the
// aggregator and never treated as fatal.
var ErrNoQuote = errors.New("no quote available")

// Kind distinguishes the two pool pricing models a venue can implement.
type Kind int

const (
	// KindConstantProduct covers x*y=k routers (Uniswap V2 and forks).
	KindConstantProduct Kind = iota
	// KindConcentratedLiquidity covers tick-based pools with per-tier
	// fragmented liquidity (Uniswap V3 and forks).
	KindConcentratedLiquidity
)

func (k Kind) String() string {
	switch k {
	case KindConstantProduct:
		return "constant_product"
	case KindConcentratedLiquidity:
		return "concentrated_liquidity"
	default:
		return "unknown"
	}
}

// Token pairs an ERC-20 address with the decimals needed to normalize
// raw amounts. The table is static configuration.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Venue describes one trading venue. Router is the address the settlement
// contract swaps through; Quoter is the read endpoint for concentrated
// liquidity venues (unused for constant product, where the router quotes).
type Venue struct {
	Name     string
	Kind     Kind
	Router   common.Address
	Quoter   common.Address
	FeeTiers []uint32
}

// Result is the raw outcome of a single exact-input quote.
// FeeTier is zero for constant product venues.
type Result struct {
	AmountOut *big.Int
	FeeTier   uint32
}

// Provider issues exact-input quotes against one venue kind.
type Provider interface {
	// Quote returns the output amount for swapping amountIn of tokenIn
	// into tokenOut on the given venue. Venue failures return an error
	// wrapping ErrNoQuote; they must never panic.
	Quote(ctx context.Context, venue Venue, amountIn *big.Int, tokenIn, tokenOut Token) (*Result, error)
}

// ContractCaller is the read-only subset of ethclient.Client the quote
// providers need. Tests substitute a fake.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}
