package claims

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"apx-claims-api/internal/units"
)

// RewardAmount scales a base reward (smallest units) by multiplier and
// truncates the result to a whole smallest unit.
//
// Validated programs keep base*multiplier far below 2^256; an overflow
// saturates and a negative multiplier pays nothing.
func RewardAmount(baseAmount *uint256.Int, multiplier decimal.Decimal) *uint256.Int {
	amount, err := units.MulDecimal(baseAmount, multiplier)
	if errors.Is(err, units.ErrAmountOverflow) {
		return new(uint256.Int).SetAllOne()
	}
	if err != nil {
		return units.Zero()
	}
	return amount
}
