package domain

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals matches the 6-decimal stable token the markets settle in.
const DefaultDecimals int32 = 6

// Amount is a quantity of the staked asset in its smallest unit.
type Amount uint64

var maxAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ParseAmount converts a human-readable decimal string such as "100.5" into
// base units of a token with the given number of decimals. It rejects
// negative values, values with more fractional digits than the token
// supports, and values that do not fit in an Amount.
func ParseAmount(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	if scaled.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, s)
	}
	return Amount(scaled.BigInt().Uint64()), nil
}

// Decimal returns a as a decimal number of whole tokens.
func (a Amount) Decimal(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -decimals)
}

// Format renders a as whole tokens with trailing zeros trimmed, e.g. 100.5.
func (a Amount) Format(decimals int32) string {
	return a.Decimal(decimals).String()
}
