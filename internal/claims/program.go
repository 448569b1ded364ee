package claims

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Cadence names a claim schedule.
type Cadence string

const (
	Daily  Cadence = "daily"
	Weekly Cadence = "weekly"
)

// Cadences lists every supported cadence in display order.
var Cadences = []Cadence{Daily, Weekly}

// ParseCadence returns the cadence named by s.
func ParseCadence(s string) (Cadence, bool) {
	for _, c := range Cadences {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// CooldownPolicy is the time configuration of one cadence.
type CooldownPolicy struct {
	// Duration is the minimum gap between two claims.
	Duration time.Duration
	// GracePeriod extends the streak window past Duration.
	GracePeriod time.Duration
}

// StreakWindow is the longest gap that still continues a streak.
func (p CooldownPolicy) StreakWindow() time.Duration {
	return p.Duration + p.GracePeriod
}

// Program is the full reward configuration of one cadence.
type Program struct {
	Cadence    Cadence
	Policy     CooldownPolicy
	Tiers      BonusTierTable
	BaseAmount *uint256.Int
}

// ErrInvalidProgram wraps every program configuration error.
var ErrInvalidProgram = errors.New("invalid reward program")

// Validate rejects programs the engine is not specified for. It runs when
// configuration is loaded or changed, never on the claim path.
func (p Program) Validate() error {
	if _, ok := ParseCadence(string(p.Cadence)); !ok {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidProgram, p.Cadence)
	}
	if p.Policy.Duration <= 0 {
		return fmt.Errorf("%w: %s cooldown must be positive", ErrInvalidProgram, p.Cadence)
	}
	if p.Policy.GracePeriod < 0 {
		return fmt.Errorf("%w: %s grace period must not be negative", ErrInvalidProgram, p.Cadence)
	}
	if p.BaseAmount == nil || p.BaseAmount.IsZero() {
		return fmt.Errorf("%w: %s base amount must be positive", ErrInvalidProgram, p.Cadence)
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("%w: %s bonus tier table is empty", ErrInvalidProgram, p.Cadence)
	}
	seen := make(map[int]bool, len(p.Tiers))
	for _, tier := range p.Tiers {
		if tier.Threshold < 0 {
			return fmt.Errorf("%w: %s tier threshold %d is negative", ErrInvalidProgram, p.Cadence, tier.Threshold)
		}
		if seen[tier.Threshold] {
			return fmt.Errorf("%w: %s duplicate tier threshold %d", ErrInvalidProgram, p.Cadence, tier.Threshold)
		}
		seen[tier.Threshold] = true
		if tier.Multiplier.LessThan(one) {
			return fmt.Errorf("%w: %s tier %d multiplier %s is below 1", ErrInvalidProgram, p.Cadence, tier.Threshold, tier.Multiplier)
		}
	}

	sorted := p.Tiers.Sorted()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Multiplier.LessThan(sorted[i-1].Multiplier) {
			return fmt.Errorf("%w: %s tier %d pays less than tier %d", ErrInvalidProgram, p.Cadence, sorted[i].Threshold, sorted[i-1].Threshold)
		}
	}
	return nil
}
