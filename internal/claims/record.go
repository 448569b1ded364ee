package claims

import (
	"time"

	"github.com/holiman/uint256"
)

// ClaimRecord is one user's claim state for one cadence. The zero value is
// the record of a user who never claimed.
type ClaimRecord struct {
	LastClaimAt   *time.Time
	CurrentStreak int
	TotalClaims   int
	// LifetimeReward is the sum of every reward paid to the user, across
	// all cadences, in smallest units.
	LifetimeReward *uint256.Int
}

// Normalized clamps malformed fields: negative counters become zero and a
// record without a last claim carries no streak.
func (r ClaimRecord) Normalized() ClaimRecord {
	if r.CurrentStreak < 0 || r.LastClaimAt == nil {
		r.CurrentStreak = 0
	}
	if r.TotalClaims < 0 {
		r.TotalClaims = 0
	}
	if r.LifetimeReward == nil {
		r.LifetimeReward = new(uint256.Int)
	}
	return r
}
