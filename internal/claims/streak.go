package claims

import "time"

// IsStreakMaintained reports whether a claim at now continues the streak.
// The window is cooldown+grace and its upper bound is inclusive.
func IsStreakMaintained(lastClaimAt *time.Time, cooldown, grace time.Duration, now time.Time) bool {
	if lastClaimAt == nil {
		return false
	}
	return now.Sub(*lastClaimAt) <= cooldown+grace
}

// NextStreak returns the streak a claim at now would produce. A broken
// streak restarts at 1, which also covers the very first claim.
func NextStreak(currentStreak int, lastClaimAt *time.Time, cooldown, grace time.Duration, now time.Time) int {
	if !IsStreakMaintained(lastClaimAt, cooldown, grace, now) {
		return 1
	}
	if currentStreak < 0 {
		currentStreak = 0
	}
	return currentStreak + 1
}
