package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/models"
	"apx-claims-api/internal/units"
)

const recordKeyPrefix = "apx:claims:"

// RecordKey is the mirror key of one user's record for one cadence.
func RecordKey(address string, cadence claims.Cadence) string {
	return recordKeyPrefix + strings.ToLower(address) + ":" + string(cadence)
}

// ClaimMirror keeps the last known claim record of each user and cadence.
// It is a fallback for reads while the ledger is unreachable, never a source
// of truth: entries are overwritten whole, never merged.
type ClaimMirror struct {
	cache Cache
	ttl   time.Duration
}

// NewClaimMirror wraps a cache. A ttl of zero keeps records forever.
func NewClaimMirror(c Cache, ttl time.Duration) *ClaimMirror {
	return &ClaimMirror{cache: c, ttl: ttl}
}

// Put stores the record, replacing whatever was there.
func (m *ClaimMirror) Put(ctx context.Context, address string, cadence claims.Cadence, record claims.ClaimRecord) error {
	return SetJSON(ctx, m.cache, RecordKey(address, cadence), EncodeRecord(record), m.ttl)
}

// Get returns the mirrored record or ErrNotFound.
func (m *ClaimMirror) Get(ctx context.Context, address string, cadence claims.Cadence) (claims.ClaimRecord, error) {
	var cached models.CachedClaimRecord
	if err := GetJSON(ctx, m.cache, RecordKey(address, cadence), &cached); err != nil {
		return claims.ClaimRecord{}, err
	}
	return DecodeRecord(cached)
}

// Purge drops every mirrored record. Other keys sharing the cache are kept.
func (m *ClaimMirror) Purge(ctx context.Context) (int, error) {
	return m.cache.DeletePrefix(ctx, recordKeyPrefix)
}

// EncodeRecord converts a record to its mirror shape.
func EncodeRecord(record claims.ClaimRecord) models.CachedClaimRecord {
	record = record.Normalized()

	cached := models.CachedClaimRecord{
		CurrentStreak:             record.CurrentStreak,
		TotalClaims:               record.TotalClaims,
		LifetimeRewardAccumulated: record.LifetimeReward.Dec(),
	}
	if record.LastClaimAt != nil {
		ms := record.LastClaimAt.UnixMilli()
		cached.LastClaimTimestamp = &ms
	}
	return cached
}

// DecodeRecord converts a mirrored record back. Malformed amounts are an
// error rather than a silent zero.
func DecodeRecord(cached models.CachedClaimRecord) (claims.ClaimRecord, error) {
	lifetime, err := units.ParseUnits(cached.LifetimeRewardAccumulated)
	if err != nil {
		return claims.ClaimRecord{}, fmt.Errorf("cache: bad lifetime reward: %w", err)
	}

	record := claims.ClaimRecord{
		CurrentStreak:  cached.CurrentStreak,
		TotalClaims:    cached.TotalClaims,
		LifetimeReward: lifetime,
	}
	if cached.LastClaimTimestamp != nil {
		at := time.UnixMilli(*cached.LastClaimTimestamp).UTC()
		record.LastClaimAt = &at
	}
	return record.Normalized(), nil
}
