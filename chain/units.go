package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimal places between the native unit and
// its base unit.
const NativeDecimals = 18

// ParseNative converts a decimal string in the native unit ("0.05") into base
// units. Negative values, values with more than NativeDecimals fractional
// digits, and values that overflow a uint256 are rejected.
func ParseNative(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(big.Int), nil
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid native amount %q: %w", value, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("native amount %q must not be negative", value)
	}
	shifted := amount.Shift(NativeDecimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("native amount %q has more than %d decimals", value, NativeDecimals)
	}
	base := shifted.BigInt()
	if _, overflow := uint256.FromBig(base); overflow {
		return nil, fmt.Errorf("native amount %q overflows uint256", value)
	}
	return base, nil
}

// FormatNative renders base units as an exact decimal string in the native unit.
func FormatNative(base *big.Int) string {
	if base == nil {
		return "0"
	}
	return decimal.NewFromBigInt(base, -NativeDecimals).String()
}

// NativeToFloat converts base units into a floating display value.
func NativeToFloat(base *big.Int) float64 {
	if base == nil {
		return 0
	}
	return decimal.NewFromBigInt(base, -NativeDecimals).InexactFloat64()
}
