// Package units converts APX token amounts between their on-chain smallest
// unit (18 decimals) and human readable decimal strings.
//
// Both directions truncate toward zero: a value with more than 18 fractional
// digits loses the excess digits, it is never rounded up.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the APX token.
const Decimals = 18

const (
	// MaxInputLength bounds the length of a decimal string accepted by
	// ParseDecimal.
	MaxInputLength = 96
	// MaxExponent bounds the base-10 exponent of a parsed decimal in both
	// directions.
	MaxExponent = 36
)

var (
	// ErrNegativeAmount is returned when parsing a negative amount.
	ErrNegativeAmount = errors.New("units: amount must not be negative")
	// ErrAmountOverflow is returned when an amount does not fit in 256 bits.
	ErrAmountOverflow = errors.New("units: amount overflows uint256")
	// ErrOutOfRange is returned for decimal strings that are too long or whose
	// exponent lies outside [-MaxExponent, MaxExponent].
	ErrOutOfRange = errors.New("units: decimal out of range")
)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Format renders an amount in smallest units as a decimal token string with
// trailing zeros trimmed ("12", "0.5", "1.000000000000000001").
func Format(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -Decimals).String()
}

// Parse reads a decimal token string and returns the amount in smallest units.
func Parse(s string) (*uint256.Int, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return nil, err
	}
	return FromDecimal(d)
}

// ParseDecimal reads a bounded decimal string. Scientific notation is
// accepted, but exponents beyond MaxExponent are rejected before any digits
// are expanded.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("units: empty amount")
	}
	if len(s) > MaxInputLength {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", ErrOutOfRange, MaxInputLength)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("units: invalid amount %q: %w", s, err)
	}
	if exp := d.Exponent(); exp < -MaxExponent || exp > MaxExponent {
		return decimal.Zero, fmt.Errorf("%w: exponent %d", ErrOutOfRange, exp)
	}
	return d, nil
}

// FromDecimal converts a token-denominated decimal to smallest units.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return fromBigDecimal(d.Shift(Decimals))
}

// ToDecimal converts smallest units to a token-denominated decimal.
func ToDecimal(amount *uint256.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -Decimals)
}

// MulDecimal multiplies an amount by a decimal factor. The product is exact
// before it is truncated to a whole smallest unit.
func MulDecimal(amount *uint256.Int, factor decimal.Decimal) (*uint256.Int, error) {
	if amount == nil {
		return Zero(), nil
	}
	if factor.IsNegative() {
		return nil, ErrNegativeAmount
	}
	product := decimal.NewFromBigInt(amount.ToBig(), 0).Mul(factor)
	return fromBigDecimal(product)
}

// ParseUnits reads a base-10 integer string of smallest units, the form the
// ledger stores.
func ParseUnits(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero(), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("units: invalid smallest-unit amount %q: %w", s, err)
	}
	return v, nil
}

func fromBigDecimal(d decimal.Decimal) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(d.Truncate(0).BigInt())
	if overflow {
		return nil, ErrAmountOverflow
	}
	return v, nil
}
