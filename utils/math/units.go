package math

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a human-readable decimal string into the token's raw
// integer representation, e.g. ParseUnits("1.5", 6) == 1500000.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(amount, "-") {
		neg = true
		amount = amount[1:]
	}

	whole := amount
	frac := ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		whole = amount[:idx]
		frac = amount[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", amount, decimals)
	}
	frac = frac + strings.Repeat("0", int(decimals)-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if neg {
		result.Neg(result)
	}
	return result, nil
}

// FormatUnits converts a raw integer token amount into a human-readable
// decimal string, the inverse of ParseUnits.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}

	sign := ""
	abs := new(big.Int).Abs(amount)
	if amount.Sign() < 0 {
		sign = "-"
	}

	scale := Pow10(decimals)
	whole, frac := new(big.Int).DivMod(abs, scale, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := frac.String()
	fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
	fracStr = strings.TrimRight(fracStr, "0")
	return sign + whole.String() + "." + fracStr
}

// Normalize converts a raw integer token amount to a float in human units.
// Precision loss beyond float64 is acceptable for price comparison purposes.
func Normalize(amount *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(amount)
	f.Quo(f, new(big.Float).SetInt(Pow10(decimals)))
	out, _ := f.Float64()
	return out
}

// Pow10 returns 10^n as a big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ApplyBps scales amount by (10000-bps)/10000, used for slippage buffers.
// A negative result is impossible for bps in [0, 10000].
func ApplyBps(amount *big.Int, bps int64) *big.Int {
	scaled := new(big.Int).Mul(amount, big.NewInt(10000-bps))
	return scaled.Div(scaled, big.NewInt(10000))
}

// BpsOf returns amount*bps/10000, used for fee computation.
func BpsOf(amount *big.Int, bps int64) *big.Int {
	scaled := new(big.Int).Mul(amount, big.NewInt(bps))
	return scaled.Div(scaled, big.NewInt(10000))
}
