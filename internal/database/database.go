package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the ledger connection. Every write transaction is opened with
// BEGIN IMMEDIATE so concurrent claims on the same file serialize instead of
// racing between read and write.
type DB struct {
	conn *sql.DB
}

// NewDB opens the ledger and initializes the schema.
func NewDB(dbPath string, busyTimeout time.Duration) (*DB, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=1&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, busyTimeout.Milliseconds())

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the ledger is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			lifetime_reward TEXT NOT NULL DEFAULT '0',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS claim_records (
			address TEXT NOT NULL REFERENCES accounts(address),
			cadence TEXT NOT NULL,
			last_claim_at_ms INTEGER,
			current_streak INTEGER NOT NULL DEFAULT 0,
			total_claims INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (address, cadence)
		)`,
		`CREATE TABLE IF NOT EXISTS claim_history (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL REFERENCES accounts(address),
			cadence TEXT NOT NULL,
			claimed_at_ms INTEGER NOT NULL,
			streak INTEGER NOT NULL,
			multiplier TEXT NOT NULL,
			bonus_percent INTEGER NOT NULL,
			reward TEXT NOT NULL,
			lifetime_reward TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reward_programs (
			cadence TEXT PRIMARY KEY,
			cooldown_ms INTEGER NOT NULL,
			grace_ms INTEGER NOT NULL,
			base_amount TEXT NOT NULL,
			tiers_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_address_claimed_at ON claim_history(address, claimed_at_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_records_cadence_last_claim ON claim_records(cadence, last_claim_at_ms)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
