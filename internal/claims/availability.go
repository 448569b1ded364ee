package claims

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Availability describes what claiming at a given instant would do.
type Availability struct {
	CanClaimNow bool
	// NextAvailableAt is nil when a claim is possible now.
	NextAvailableAt *time.Time
	// NextStreak is the streak the user would hold after claiming now, one
	// step ahead of the stored streak.
	NextStreak         int
	Multiplier         decimal.Decimal
	RewardIfClaimedNow *uint256.Int
	BonusPercent       int
}

// ComputeAvailability previews a claim at now. The bonus reflects the streak
// the claim would produce, not the streak on record.
func ComputeAvailability(record ClaimRecord, policy CooldownPolicy, tiers BonusTierTable, baseAmount *uint256.Int, now time.Time) Availability {
	record = record.Normalized()

	canClaim := IsAvailable(record.LastClaimAt, policy.Duration, now)
	streak := NextStreak(record.CurrentStreak, record.LastClaimAt, policy.Duration, policy.GracePeriod, now)
	multiplier := ResolveMultiplier(streak, tiers)

	var next *time.Time
	if !canClaim {
		next = NextAvailableAt(record.LastClaimAt, policy.Duration)
	}

	return Availability{
		CanClaimNow:        canClaim,
		NextAvailableAt:    next,
		NextStreak:         streak,
		Multiplier:         multiplier,
		RewardIfClaimedNow: RewardAmount(baseAmount, multiplier),
		BonusPercent:       BonusPercent(multiplier),
	}
}

// Evaluate is ComputeAvailability for a whole program.
func (p Program) Evaluate(record ClaimRecord, now time.Time) Availability {
	return ComputeAvailability(record, p.Policy, p.Tiers, p.BaseAmount, now)
}
