// Package sqlite is the durable store for the credit ledger, wallet cache,
// signup-risk records, and abuse counters.
//
// The ledger table is append-only: rows are inserted inside the same
// transaction that updates the wallet cache, and never updated or deleted.
// The UNIQUE constraint on idempotency_key is the primary concurrency guard.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite has a single writer; capping the pool at one connection keeps
	// the driver from returning SQLITE_BUSY under concurrent mutations.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	db := &DB{db: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// migrate applies the schema migration statements in order.
func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Append-only ledger. balance_after snapshots the wallet balance at
		// commit time so the history is auditable without replay.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id              TEXT PRIMARY KEY,
			account_id      TEXT NOT NULL,
			type            TEXT NOT NULL,
			amount          INTEGER NOT NULL CHECK (amount > 0),
			balance_after   INTEGER NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			reference_type  TEXT NOT NULL DEFAULT '',
			reference_id    TEXT NOT NULL DEFAULT '',
			metadata        TEXT NOT NULL DEFAULT '{}',
			idempotency_key TEXT NOT NULL UNIQUE,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger_entries(account_id, reference_type)`,

		// Wallet cache: one mutable row per account, created lazily.
		`CREATE TABLE IF NOT EXISTS wallets (
			account_id      TEXT PRIMARY KEY,
			balance         INTEGER NOT NULL DEFAULT 0,
			total_granted   INTEGER NOT NULL DEFAULT 0,
			total_spent     INTEGER NOT NULL DEFAULT 0,
			total_purchased INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Signup risk: one row per account, updated in place as
		// verifications complete, never deleted.
		`CREATE TABLE IF NOT EXISTS signup_risk (
			account_id         TEXT PRIMARY KEY,
			ip                 TEXT NOT NULL DEFAULT '',
			device_fingerprint TEXT NOT NULL DEFAULT '',
			user_agent         TEXT NOT NULL DEFAULT '',
			email_domain       TEXT NOT NULL DEFAULT '',
			risk_score         INTEGER NOT NULL DEFAULT 0,
			credit_tier        TEXT NOT NULL DEFAULT 'full',
			reasons            TEXT NOT NULL DEFAULT '',
			phone_verified     INTEGER NOT NULL DEFAULT 0,
			captcha_verified   INTEGER NOT NULL DEFAULT 0,
			identity_verified  INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		)`,

		// Abuse counters: reuse indices and subnet-velocity buckets,
		// TTL-bounded and purged periodically.
		`CREATE TABLE IF NOT EXISTS abuse_counters (
			key        TEXT PRIMARY KEY,
			count      INTEGER NOT NULL DEFAULT 0,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_counters_expiry ON abuse_counters(expires_at)`,
	}
}
