package models

import "time"

// TierView is one bonus tier as exposed over the API.
type TierView struct {
	Threshold  int    `json:"threshold" yaml:"threshold"`
	Multiplier string `json:"multiplier" yaml:"multiplier"` // decimal, e.g. "1.2"
}

// Program is a cadence's reward configuration. The same shape is read from
// the programs file, exposed over the API and accepted by the admin update
// endpoint.
type Program struct {
	Cadence     string     `json:"cadence" yaml:"cadence"`
	Cooldown    string     `json:"cooldown" yaml:"cooldown"`         // Go duration, e.g. "24h"
	GracePeriod string     `json:"grace_period" yaml:"grace_period"` // Go duration, e.g. "2h"
	BaseAmount  string     `json:"base_amount" yaml:"base_amount"`   // APX, decimal string
	Tiers       []TierView `json:"tiers" yaml:"tiers"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// ProgramsResponse lists every configured program.
type ProgramsResponse struct {
	Programs []Program `json:"programs"`
}

// ClaimRecord is the stored claim state of one user for one cadence.
type ClaimRecord struct {
	LastClaimAt   *time.Time `json:"last_claim_at"`
	CurrentStreak int        `json:"current_streak"`
	TotalClaims   int        `json:"total_claims"`
}

// CadenceAvailability is the claim preview for one cadence.
type CadenceAvailability struct {
	Cadence         string      `json:"cadence"`
	CanClaimNow     bool        `json:"can_claim_now"`
	NextAvailableAt *time.Time  `json:"next_available_at"`
	NextStreak      int         `json:"next_streak"`
	Multiplier      string      `json:"multiplier"`
	BonusPercent    int         `json:"bonus_percent"`
	Reward          string      `json:"reward"`       // APX
	RewardUnits     string      `json:"reward_units"` // smallest units
	Record          ClaimRecord `json:"record"`
}

// AvailabilityResponse is the response payload when asking what a user can
// claim. Source is "ledger", or "cache" when the ledger was unreachable and
// the mirror answered instead.
type AvailabilityResponse struct {
	Address   string                `json:"address"`
	Source    string                `json:"source"`
	CheckedAt time.Time             `json:"checked_at"`
	Claims    []CadenceAvailability `json:"claims"`
}

// ClaimReceipt is returned after a successful claim.
type ClaimReceipt struct {
	ID             string    `json:"id"` // uuid
	Address        string    `json:"address"`
	Cadence        string    `json:"cadence"`
	ClaimedAt      time.Time `json:"claimed_at"`
	Streak         int       `json:"streak"`
	Multiplier     string    `json:"multiplier"`
	BonusPercent   int       `json:"bonus_percent"`
	Reward         string    `json:"reward"`
	RewardUnits    string    `json:"reward_units"`
	LifetimeReward string    `json:"lifetime_reward"`
}

// BalanceResponse reports what a user has accumulated from claims.
type BalanceResponse struct {
	Address             string `json:"address"`
	Source              string `json:"source"`
	LifetimeReward      string `json:"lifetime_reward"`
	LifetimeRewardUnits string `json:"lifetime_reward_units"`
}

// HistoryResponse lists past claims, newest first.
type HistoryResponse struct {
	Address string         `json:"address"`
	Claims  []ClaimReceipt `json:"claims"`
}

// CachedClaimRecord is the JSON shape of a claim record in the local
// mirror. Timestamps are epoch milliseconds.
type CachedClaimRecord struct {
	LastClaimTimestamp        *int64 `json:"lastClaimTimestamp"`
	CurrentStreak             int    `json:"currentStreak"`
	TotalClaims               int    `json:"totalClaims"`
	LifetimeRewardAccumulated string `json:"lifetimeRewardAccumulated"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error           string     `json:"error"`
	NextAvailableAt *time.Time `json:"next_available_at,omitempty"`
}
