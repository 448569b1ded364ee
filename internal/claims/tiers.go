package claims

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// BonusTier pays Multiplier times the base reward once a streak reaches
// Threshold consecutive claims.
type BonusTier struct {
	Threshold  int             `json:"threshold"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// BonusTierTable is a set of tiers with unique thresholds. Order does not
// matter for resolution.
type BonusTierTable []BonusTier

// ResolveMultiplier returns the multiplier of the tier with the largest
// threshold not above streak, or 1 when no tier qualifies.
func ResolveMultiplier(streak int, tiers BonusTierTable) decimal.Decimal {
	best := -1
	multiplier := one
	for _, tier := range tiers {
		if tier.Threshold <= streak && tier.Threshold > best {
			best = tier.Threshold
			multiplier = tier.Multiplier
		}
	}
	return multiplier
}

// BonusPercent converts a multiplier to the whole bonus percentage shown to
// users: 1.2 -> 20. Reward math uses the multiplier, never this value.
func BonusPercent(multiplier decimal.Decimal) int {
	return int(multiplier.Sub(one).Mul(hundred).Round(0).IntPart())
}

// Sorted returns a copy of the table ordered by ascending threshold.
func (t BonusTierTable) Sorted() BonusTierTable {
	out := make(BonusTierTable, len(t))
	copy(out, t)
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}
