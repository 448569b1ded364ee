package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/units"
)

const testAddress = "0xabcdef0123456789abcdef0123456789abcdef01"

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "ledger.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func apx(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := units.Parse(s)
	require.NoError(t, err)
	return v
}

func dailyProgram(t *testing.T) claims.Program {
	return claims.Program{
		Cadence: claims.Daily,
		Policy:  claims.CooldownPolicy{Duration: 24 * time.Hour, GracePeriod: 2 * time.Hour},
		Tiers: claims.BonusTierTable{
			{Threshold: 7, Multiplier: decimal.RequireFromString("1.2")},
			{Threshold: 30, Multiplier: decimal.RequireFromString("1.5")},
			{Threshold: 100, Multiplier: decimal.RequireFromString("2.0")},
		},
		BaseAmount: apx(t, "10"),
	}
}

func weeklyProgram(t *testing.T) claims.Program {
	return claims.Program{
		Cadence: claims.Weekly,
		Policy:  claims.CooldownPolicy{Duration: 168 * time.Hour, GracePeriod: 24 * time.Hour},
		Tiers: claims.BonusTierTable{
			{Threshold: 4, Multiplier: decimal.RequireFromString("1.25")},
		},
		BaseAmount: apx(t, "100"),
	}
}

func TestGetClaimRecord_NeverSeen(t *testing.T) {
	db := setupTestDB(t)

	record, err := db.GetClaimRecord(context.Background(), testAddress, claims.Daily)
	require.NoError(t, err)

	assert.Nil(t, record.LastClaimAt)
	assert.Equal(t, 0, record.CurrentStreak)
	assert.Equal(t, 0, record.TotalClaims)
	assert.True(t, record.LifetimeReward.IsZero())

	history, err := db.ListClaimHistory(context.Background(), testAddress, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestClaim_PersistsRecordAndHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

	entry, record, err := db.Claim(ctx, testAddress, dailyProgram(t), now)
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 1, entry.Streak)
	assert.Equal(t, "10", units.Format(entry.Amount))
	assert.Equal(t, 0, entry.BonusPercent)
	assert.True(t, now.Equal(entry.ClaimedAt))
	assert.Equal(t, 1, record.TotalClaims)

	stored, err := db.GetClaimRecord(ctx, testAddress, claims.Daily)
	require.NoError(t, err)
	require.NotNil(t, stored.LastClaimAt)
	assert.True(t, now.Equal(*stored.LastClaimAt))
	assert.Equal(t, 1, stored.CurrentStreak)
	assert.Equal(t, "10", units.Format(stored.LifetimeReward))

	history, err := db.ListClaimHistory(ctx, testAddress, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entry.ID, history[0].ID)
	assert.Equal(t, claims.Daily, history[0].Cadence)
	assert.Equal(t, "1", history[0].Multiplier.String())
}

func TestClaim_CooldownActive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

	_, _, err := db.Claim(ctx, testAddress, dailyProgram(t), now)
	require.NoError(t, err)

	_, record, err := db.Claim(ctx, testAddress, dailyProgram(t), now.Add(23*time.Hour))
	assert.ErrorIs(t, err, claims.ErrCooldownActive)
	assert.Equal(t, 1, record.TotalClaims)
	require.NotNil(t, record.LastClaimAt)
	assert.True(t, now.Equal(*record.LastClaimAt))

	history, err := db.ListClaimHistory(ctx, testAddress, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestClaim_StreakAndLifetimeAcrossCadences(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)

	for day := 0; day < 7; day++ {
		_, _, err := db.Claim(ctx, testAddress, dailyProgram(t), start.Add(time.Duration(day)*25*time.Hour))
		require.NoError(t, err)
	}

	daily, err := db.GetClaimRecord(ctx, testAddress, claims.Daily)
	require.NoError(t, err)
	assert.Equal(t, 7, daily.CurrentStreak)
	// six claims at 10 and the seventh at 12
	assert.Equal(t, "72", units.Format(daily.LifetimeReward))

	_, _, err = db.Claim(ctx, testAddress, weeklyProgram(t), start)
	require.NoError(t, err)

	lifetime, err := db.GetLifetimeReward(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, "172", units.Format(lifetime))

	weekly, err := db.GetClaimRecord(ctx, testAddress, claims.Weekly)
	require.NoError(t, err)
	assert.Equal(t, 1, weekly.CurrentStreak)
	assert.Equal(t, "172", units.Format(weekly.LifetimeReward))

	history, err := db.ListClaimHistory(ctx, testAddress, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, claims.Daily, history[0].Cadence)
	assert.Equal(t, 7, history[0].Streak)
	assert.Equal(t, 20, history[0].BonusPercent)
}

func TestClaim_MillisecondPrecision(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2025, 10, 21, 10, 0, 0, 123_456_789, time.UTC)

	entry, record, err := db.Claim(context.Background(), testAddress, dailyProgram(t), now)
	require.NoError(t, err)

	want := time.Date(2025, 10, 21, 10, 0, 0, 123_000_000, time.UTC)
	assert.True(t, want.Equal(entry.ClaimedAt))
	assert.True(t, want.Equal(*record.LastClaimAt))
}

func TestClaim_ConcurrentClaimsPayOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	program := dailyProgram(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		cooling   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := db.Claim(ctx, testAddress, program, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, claims.ErrCooldownActive):
				cooling++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, cooling)

	record, err := db.GetClaimRecord(ctx, testAddress, claims.Daily)
	require.NoError(t, err)
	assert.Equal(t, 1, record.TotalClaims)
	assert.Equal(t, "10", units.Format(record.LifetimeReward))
}

func TestResetLapsedStreaks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	other := "0x1111111111111111111111111111111111111111"

	_, _, err := db.Claim(ctx, testAddress, dailyProgram(t), now.Add(-30*time.Hour))
	require.NoError(t, err)
	_, _, err = db.Claim(ctx, other, dailyProgram(t), now.Add(-26*time.Hour))
	require.NoError(t, err)
	_, _, err = db.Claim(ctx, testAddress, weeklyProgram(t), now.Add(-30*time.Hour))
	require.NoError(t, err)

	// the cutoff itself is not lapsed
	n, err := db.ResetLapsedStreaks(ctx, claims.Daily, now.Add(-26*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	lapsed, err := db.GetClaimRecord(ctx, testAddress, claims.Daily)
	require.NoError(t, err)
	assert.Equal(t, 0, lapsed.CurrentStreak)
	assert.NotNil(t, lapsed.LastClaimAt)
	assert.Equal(t, 1, lapsed.TotalClaims)

	kept, err := db.GetClaimRecord(ctx, other, claims.Daily)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.CurrentStreak)

	weekly, err := db.GetClaimRecord(ctx, testAddress, claims.Weekly)
	require.NoError(t, err)
	assert.Equal(t, 1, weekly.CurrentStreak)

	n, err = db.ResetLapsedStreaks(ctx, claims.Daily, now.Add(-26*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPrograms_SeedUpsertGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetProgram(ctx, claims.Daily)
	assert.ErrorIs(t, err, ErrProgramNotFound)

	inserted, err := db.SeedPrograms(ctx, []claims.Program{dailyProgram(t), weeklyProgram(t)})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	stored, err := db.GetProgram(ctx, claims.Daily)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, stored.Policy.Duration)
	assert.Equal(t, 2*time.Hour, stored.Policy.GracePeriod)
	assert.Equal(t, "10", units.Format(stored.BaseAmount))
	require.Len(t, stored.Tiers, 3)
	assert.True(t, stored.Tiers[0].Multiplier.Equal(decimal.RequireFromString("1.2")))
	assert.False(t, stored.UpdatedAt.IsZero())

	changed := dailyProgram(t)
	changed.BaseAmount = apx(t, "12.5")
	_, err = db.UpsertProgram(ctx, changed)
	require.NoError(t, err)

	// seeding again must not undo the admin change
	inserted, err = db.SeedPrograms(ctx, []claims.Program{dailyProgram(t), weeklyProgram(t)})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	stored, err = db.GetProgram(ctx, claims.Daily)
	require.NoError(t, err)
	assert.Equal(t, "12.5", units.Format(stored.BaseAmount))

	all, err := db.ListPrograms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, claims.Daily, all[0].Cadence)
	assert.Equal(t, claims.Weekly, all[1].Cadence)
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Ping(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}
