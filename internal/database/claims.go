package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/units"
)

// ClaimEntry is one row of the claim history.
type ClaimEntry struct {
	ID             string
	Address        string
	Cadence        claims.Cadence
	ClaimedAt      time.Time
	Streak         int
	Multiplier     decimal.Decimal
	BonusPercent   int
	Amount         *uint256.Int
	LifetimeReward *uint256.Int
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetClaimRecord returns the record of address for cadence. Users the ledger
// has never seen get the zero record; nothing is written.
func (db *DB) GetClaimRecord(ctx context.Context, address string, cadence claims.Cadence) (claims.ClaimRecord, error) {
	return readRecord(ctx, db.conn, address, cadence)
}

func readRecord(ctx context.Context, q queryer, address string, cadence claims.Cadence) (claims.ClaimRecord, error) {
	lifetime, err := readLifetime(ctx, q, address)
	if err != nil {
		return claims.ClaimRecord{}, err
	}

	var (
		lastMillis sql.NullInt64
		record     = claims.ClaimRecord{LifetimeReward: lifetime}
	)
	err = q.QueryRowContext(ctx,
		`SELECT last_claim_at_ms, current_streak, total_claims
		FROM claim_records WHERE address = ? AND cadence = ?`,
		address, string(cadence),
	).Scan(&lastMillis, &record.CurrentStreak, &record.TotalClaims)
	if errors.Is(err, sql.ErrNoRows) {
		return record, nil
	}
	if err != nil {
		return claims.ClaimRecord{}, fmt.Errorf("failed to read claim record: %w", err)
	}

	if lastMillis.Valid {
		last := fromMillis(lastMillis.Int64)
		record.LastClaimAt = &last
	}
	return record.Normalized(), nil
}

// GetLifetimeReward returns the total paid to address across cadences.
func (db *DB) GetLifetimeReward(ctx context.Context, address string) (*uint256.Int, error) {
	return readLifetime(ctx, db.conn, address)
}

func readLifetime(ctx context.Context, q queryer, address string) (*uint256.Int, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT lifetime_reward FROM accounts WHERE address = ?`, address,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return units.Zero(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	lifetime, err := units.ParseUnits(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt lifetime reward for %s: %w", address, err)
	}
	return lifetime, nil
}

// Claim performs a claim for address at now inside one immediate
// transaction. When the cooldown is still running it returns the stored
// record together with claims.ErrCooldownActive and writes nothing.
func (db *DB) Claim(ctx context.Context, address string, program claims.Program, now time.Time) (ClaimEntry, claims.ClaimRecord, error) {
	// the ledger keeps millisecond precision; decide on the instant it stores
	now = fromMillis(toMillis(now))

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return ClaimEntry{}, claims.ClaimRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := readRecord(ctx, tx, address, program.Cadence)
	if err != nil {
		return ClaimEntry{}, claims.ClaimRecord{}, err
	}

	next, payout, err := claims.ApplyClaim(record, program, now)
	if err != nil {
		return ClaimEntry{}, record, err
	}

	updatedAt := time.Now().UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (address, lifetime_reward, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			lifetime_reward = excluded.lifetime_reward,
			updated_at = excluded.updated_at`,
		address, next.LifetimeReward.Dec(), updatedAt,
	)
	if err != nil {
		return ClaimEntry{}, claims.ClaimRecord{}, fmt.Errorf("failed to update account: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claim_records (address, cadence, last_claim_at_ms, current_streak, total_claims, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address, cadence) DO UPDATE SET
			last_claim_at_ms = excluded.last_claim_at_ms,
			current_streak = excluded.current_streak,
			total_claims = excluded.total_claims,
			updated_at = excluded.updated_at`,
		address, string(program.Cadence), toMillis(*next.LastClaimAt), next.CurrentStreak, next.TotalClaims, updatedAt,
	)
	if err != nil {
		return ClaimEntry{}, claims.ClaimRecord{}, fmt.Errorf("failed to update claim record: %w", err)
	}

	entry := ClaimEntry{
		ID:             uuid.New().String(),
		Address:        address,
		Cadence:        program.Cadence,
		ClaimedAt:      payout.ClaimedAt,
		Streak:         payout.Streak,
		Multiplier:     payout.Multiplier,
		BonusPercent:   payout.BonusPercent,
		Amount:         payout.Amount,
		LifetimeReward: next.LifetimeReward,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claim_history (id, address, cadence, claimed_at_ms, streak, multiplier, bonus_percent, reward, lifetime_reward)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, address, string(entry.Cadence), toMillis(entry.ClaimedAt), entry.Streak,
		entry.Multiplier.String(), entry.BonusPercent, entry.Amount.Dec(), entry.LifetimeReward.Dec(),
	)
	if err != nil {
		return ClaimEntry{}, claims.ClaimRecord{}, fmt.Errorf("failed to insert claim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ClaimEntry{}, claims.ClaimRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, next, nil
}

// ResetLapsedStreaks zeroes the streak of every record of cadence whose last
// claim is strictly before cutoff, and returns how many were reset.
func (db *DB) ResetLapsedStreaks(ctx context.Context, cadence claims.Cadence, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE claim_records SET current_streak = 0, updated_at = ?
		WHERE cadence = ?
		AND current_streak > 0
		AND last_claim_at_ms IS NOT NULL
		AND last_claim_at_ms < ?`,
		time.Now().UTC().Format(time.RFC3339), string(cadence), toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset lapsed streaks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset streaks: %w", err)
	}
	return n, nil
}

// ListClaimHistory returns the latest claims of address, newest first.
func (db *DB) ListClaimHistory(ctx context.Context, address string, limit int) ([]ClaimEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, address, cadence, claimed_at_ms, streak, multiplier, bonus_percent, reward, lifetime_reward
		FROM claim_history
		WHERE address = ?
		ORDER BY claimed_at_ms DESC, rowid DESC
		LIMIT ?`,
		address, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query claim history: %w", err)
	}
	defer rows.Close()

	entries := []ClaimEntry{}
	for rows.Next() {
		var (
			entry                            ClaimEntry
			cadence, multiplier, reward, sum string
			claimedAt                        int64
		)

		err := rows.Scan(&entry.ID, &entry.Address, &cadence, &claimedAt, &entry.Streak,
			&multiplier, &entry.BonusPercent, &reward, &sum)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim history: %w", err)
		}

		entry.Cadence = claims.Cadence(cadence)
		entry.ClaimedAt = fromMillis(claimedAt)

		if entry.Multiplier, err = decimal.NewFromString(multiplier); err != nil {
			return nil, fmt.Errorf("failed to parse multiplier of claim %s: %w", entry.ID, err)
		}
		if entry.Amount, err = units.ParseUnits(reward); err != nil {
			return nil, fmt.Errorf("failed to parse reward of claim %s: %w", entry.ID, err)
		}
		if entry.LifetimeReward, err = units.ParseUnits(sum); err != nil {
			return nil, fmt.Errorf("failed to parse lifetime reward of claim %s: %w", entry.ID, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claim history: %w", err)
	}

	return entries, nil
}
