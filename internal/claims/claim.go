package claims

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrCooldownActive is returned by ApplyClaim while the cooldown runs.
var ErrCooldownActive = errors.New("claim cooldown still active")

// Payout is what a successful claim paid.
type Payout struct {
	Cadence      Cadence
	ClaimedAt    time.Time
	Streak       int
	Multiplier   decimal.Decimal
	BonusPercent int
	Amount       *uint256.Int
}

// ApplyClaim returns the record after a claim at now. Ledgers must run the
// read, this call and the write as one atomic step per user and cadence.
// The input record is not modified.
func ApplyClaim(record ClaimRecord, program Program, now time.Time) (ClaimRecord, Payout, error) {
	record = record.Normalized()

	preview := program.Evaluate(record, now)
	if !preview.CanClaimNow {
		return record, Payout{}, ErrCooldownActive
	}

	lifetime, overflow := new(uint256.Int).AddOverflow(record.LifetimeReward, preview.RewardIfClaimedNow)
	if overflow {
		lifetime = new(uint256.Int).SetAllOne()
	}

	claimedAt := now
	next := ClaimRecord{
		LastClaimAt:    &claimedAt,
		CurrentStreak:  preview.NextStreak,
		TotalClaims:    record.TotalClaims + 1,
		LifetimeReward: lifetime,
	}
	payout := Payout{
		Cadence:      program.Cadence,
		ClaimedAt:    claimedAt,
		Streak:       preview.NextStreak,
		Multiplier:   preview.Multiplier,
		BonusPercent: preview.BonusPercent,
		Amount:       preview.RewardIfClaimedNow,
	}
	return next, payout, nil
}
