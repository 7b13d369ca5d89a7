package dex

import (
	"math"
	"math/big"
)

// two96 is 2^96 as a big.Float, the fixed-point scale of Uniswap V3 sqrt
// prices.
var two96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// SqrtPriceLimitX96 computes a slippage-bounded execution price limit for a
// single-hop concentrated-liquidity trade.
//
// The raw amounts are normalized by their token decimals to a real-valued
// execution price, the slippage tolerance is applied, and the result is
// converted to the X96 fixed-point square-root representation the quoter
// interface expects: floor(sqrt(price * (1 - maxSlippagePct/100)) * 2^96).
//
// Calling with a zero amountIn is a contract violation and panics. A zero
// expectedOut yields a zero limit, which callers must treat as "quote
// unavailable". The function is pure: identical inputs always produce the
// identical integer.
func SqrtPriceLimitX96(amountIn, expectedOut *big.Int, tokenInDecimals, tokenOutDecimals uint8, maxSlippagePct float64) *big.Int {
	if amountIn == nil || amountIn.Sign() == 0 {
		panic("dex: SqrtPriceLimitX96 called with zero input amount")
	}

	normalizedIn := normalize(amountIn, tokenInDecimals)
	normalizedOut := normalize(expectedOut, tokenOutDecimals)
	price := normalizedOut / normalizedIn

	minPrice := price * (1 - maxSlippagePct/100)
	if minPrice <= 0 {
		return new(big.Int)
	}

	sqrtPrice := new(big.Float).SetFloat64(math.Sqrt(minPrice))
	sqrtPrice.Mul(sqrtPrice, two96)

	limit, _ := sqrtPrice.Int(nil)
	return limit
}

func normalize(amount *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(amount)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	f.Quo(f, new(big.Float).SetInt(scale))
	out, _ := f.Float64()
	return out
}
