// Package claims decides whether a time-gated APX reward can be claimed and
// what it would pay. Every function here is pure: callers pass the record,
// the program and the current instant, and get a value back.
package claims

import "time"

// IsAvailable reports whether the cooldown since the last claim has elapsed.
// A nil last claim means the user never claimed and can claim right away.
func IsAvailable(lastClaimAt *time.Time, cooldown time.Duration, now time.Time) bool {
	if lastClaimAt == nil {
		return true
	}
	return now.Sub(*lastClaimAt) >= cooldown
}

// NextAvailableAt returns the instant the cooldown ends. The result is not
// clamped against the current time; combine it with IsAvailable for display.
func NextAvailableAt(lastClaimAt *time.Time, cooldown time.Duration) *time.Time {
	if lastClaimAt == nil {
		return nil
	}
	next := lastClaimAt.Add(cooldown)
	return &next
}
