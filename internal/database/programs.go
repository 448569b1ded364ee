package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/units"
)

// ErrProgramNotFound is returned when no program is stored for a cadence.
var ErrProgramNotFound = errors.New("reward program not found")

// StoredProgram is a program together with its last change time.
type StoredProgram struct {
	claims.Program
	UpdatedAt time.Time
}

// SeedPrograms inserts the programs that are not stored yet and leaves
// existing ones alone, so admin changes survive restarts.
func (db *DB) SeedPrograms(ctx context.Context, programs []claims.Program) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inserted := 0
	for _, program := range programs {
		args, err := programArgs(program, now)
		if err != nil {
			return 0, err
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO reward_programs (cadence, cooldown_ms, grace_ms, base_amount, tiers_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(cadence) DO NOTHING`,
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to seed %s program: %w", program.Cadence, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// UpsertProgram creates or replaces the program of its cadence.
func (db *DB) UpsertProgram(ctx context.Context, program claims.Program) (StoredProgram, error) {
	now := time.Now().UTC().Truncate(time.Second)
	args, err := programArgs(program, now)
	if err != nil {
		return StoredProgram{}, err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO reward_programs (cadence, cooldown_ms, grace_ms, base_amount, tiers_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cadence) DO UPDATE SET
			cooldown_ms = excluded.cooldown_ms,
			grace_ms = excluded.grace_ms,
			base_amount = excluded.base_amount,
			tiers_json = excluded.tiers_json,
			updated_at = excluded.updated_at`,
		args...,
	)
	if err != nil {
		return StoredProgram{}, fmt.Errorf("failed to upsert program: %w", err)
	}

	return StoredProgram{Program: program, UpdatedAt: now}, nil
}

// GetProgram returns the program of cadence or ErrProgramNotFound.
func (db *DB) GetProgram(ctx context.Context, cadence claims.Cadence) (StoredProgram, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT cadence, cooldown_ms, grace_ms, base_amount, tiers_json, updated_at
		FROM reward_programs WHERE cadence = ?`,
		string(cadence),
	)

	program, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredProgram{}, ErrProgramNotFound
	}
	return program, err
}

// ListPrograms returns every stored program ordered by cadence.
func (db *DB) ListPrograms(ctx context.Context) ([]StoredProgram, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT cadence, cooldown_ms, grace_ms, base_amount, tiers_json, updated_at
		FROM reward_programs ORDER BY cadence`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	var programs []StoredProgram
	for rows.Next() {
		program, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, program)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating programs: %w", err)
	}

	return programs, nil
}

func programArgs(program claims.Program, updatedAt time.Time) ([]any, error) {
	tiersJSON, err := json.Marshal(program.Tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s tiers: %w", program.Cadence, err)
	}

	return []any{
		string(program.Cadence),
		program.Policy.Duration.Milliseconds(),
		program.Policy.GracePeriod.Milliseconds(),
		program.BaseAmount.Dec(),
		string(tiersJSON),
		updatedAt.Format(time.RFC3339),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgram(s scanner) (StoredProgram, error) {
	var (
		program                       StoredProgram
		cadence, base, tiers, updated string
		cooldownMillis, graceMillis   int64
	)

	if err := s.Scan(&cadence, &cooldownMillis, &graceMillis, &base, &tiers, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredProgram{}, err
		}
		return StoredProgram{}, fmt.Errorf("failed to scan program: %w", err)
	}

	program.Cadence = claims.Cadence(cadence)
	program.Policy = claims.CooldownPolicy{
		Duration:    time.Duration(cooldownMillis) * time.Millisecond,
		GracePeriod: time.Duration(graceMillis) * time.Millisecond,
	}

	var err error
	if program.BaseAmount, err = units.ParseUnits(base); err != nil {
		return StoredProgram{}, fmt.Errorf("failed to parse %s base amount: %w", cadence, err)
	}
	if err := json.Unmarshal([]byte(tiers), &program.Tiers); err != nil {
		return StoredProgram{}, fmt.Errorf("failed to parse %s tiers: %w", cadence, err)
	}
	if program.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return StoredProgram{}, fmt.Errorf("failed to parse %s updated_at: %w", cadence, err)
	}

	return program, nil
}
