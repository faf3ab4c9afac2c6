package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/credgate/credgate/internal/domain"
)

// ─── Wallet Operations ──────────────────────────────────────────────────────

// GetOrCreateWallet returns the account's wallet, creating a zero-balance
// row if none exists. Concurrent calls cannot create duplicates: the
// account_id primary key (not application locking) enforces uniqueness and
// the losing insert is a no-op.
func (db *DB) GetOrCreateWallet(accountID string) (domain.Wallet, error) {
	if accountID == "" {
		return domain.Wallet{}, domain.ErrValidation
	}
	_, err := db.db.Exec(`
		INSERT INTO wallets (account_id, created_at, updated_at)
		VALUES (?, datetime('now'), datetime('now'))
		ON CONFLICT(account_id) DO NOTHING
	`, accountID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("%w: create wallet: %v", domain.ErrPersistence, err)
	}
	return db.GetWallet(accountID)
}

// GetWallet returns the wallet row for an account.
func (db *DB) GetWallet(accountID string) (domain.Wallet, error) {
	var w domain.Wallet
	var createdStr, updatedStr string
	err := db.db.QueryRow(`
		SELECT account_id, balance, total_granted, total_spent, total_purchased, created_at, updated_at
		FROM wallets WHERE account_id = ?
	`, accountID).Scan(&w.AccountID, &w.Balance, &w.TotalGranted, &w.TotalSpent, &w.TotalPurchased, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("%w: get wallet: %v", domain.ErrPersistence, err)
	}
	w.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdStr)
	w.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedStr)
	return w, nil
}

// ─── Ledger Mutation ────────────────────────────────────────────────────────

// Mutate executes exactly one balance mutation atomically: read the current
// balance, compute the new one, append the ledger row with its
// balance_after snapshot, and update the wallet aggregates — all in a
// single transaction scoped to one account's wallet row.
//
// A request whose idempotency key has already been processed returns the
// committed entry's result with AlreadyProcessed set — a success, so
// retries from timeouts, duplicate webhooks, and double-clicks are safe.
// When two concurrent calls race on the same key, the loser detects the
// UNIQUE violation, re-reads the winner's committed entry, and returns it.
func (db *DB) Mutate(req domain.MutationRequest) (domain.MutationResult, error) {
	if err := req.Validate(); err != nil {
		return domain.MutationResult{}, err
	}

	// Fast path: key already processed.
	if entry, err := db.EntryByIdempotencyKey(req.IdempotencyKey); err != nil {
		return domain.MutationResult{}, err
	} else if entry != nil {
		return domain.MutationResult{
			LedgerEntryID:    entry.ID,
			NewBalance:       entry.BalanceAfter,
			AlreadyProcessed: true,
		}, nil
	}

	tx, err := db.db.Begin()
	if err != nil {
		return domain.MutationResult{}, fmt.Errorf("%w: begin: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	// Lazy wallet creation inside the transaction keeps first-touch
	// mutations atomic too.
	if _, err := tx.Exec(`
		INSERT INTO wallets (account_id, created_at, updated_at)
		VALUES (?, datetime('now'), datetime('now'))
		ON CONFLICT(account_id) DO NOTHING
	`, req.AccountID); err != nil {
		return domain.MutationResult{}, fmt.Errorf("%w: ensure wallet: %v", domain.ErrPersistence, err)
	}

	var balance int64
	if err := tx.QueryRow(`SELECT balance FROM wallets WHERE account_id = ?`, req.AccountID).Scan(&balance); err != nil {
		return domain.MutationResult{}, fmt.Errorf("%w: read balance: %v", domain.ErrPersistence, err)
	}

	newBalance := balance + req.Type.Sign()*req.Amount
	if req.Type == domain.EntryDebit && newBalance < 0 {
		return domain.MutationResult{}, domain.ErrInsufficientBalance
	}

	entryID := uuid.NewString()
	now := time.Now().UTC()
	metaJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return domain.MutationResult{}, domain.ErrValidation
	}
	if req.Metadata == nil {
		metaJSON = []byte("{}")
	}

	_, err = tx.Exec(`
		INSERT INTO ledger_entries
			(id, account_id, type, amount, balance_after, description,
			 reference_type, reference_id, metadata, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entryID, req.AccountID, string(req.Type), req.Amount, newBalance,
		req.Description, req.ReferenceType, req.ReferenceID, string(metaJSON),
		req.IdempotencyKey, now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			// Race loser: the winner committed this key first. Return its
			// result as success rather than propagating an error.
			tx.Rollback()
			entry, rerr := db.EntryByIdempotencyKey(req.IdempotencyKey)
			if rerr != nil {
				return domain.MutationResult{}, rerr
			}
			if entry == nil {
				return domain.MutationResult{}, fmt.Errorf("%w: idempotency race lost but entry missing", domain.ErrPersistence)
			}
			return domain.MutationResult{
				LedgerEntryID:    entry.ID,
				NewBalance:       entry.BalanceAfter,
				AlreadyProcessed: true,
			}, nil
		}
		return domain.MutationResult{}, fmt.Errorf("%w: insert entry: %v", domain.ErrPersistence, err)
	}

	if _, err := tx.Exec(`
		UPDATE wallets SET
			balance         = ?,
			total_granted   = total_granted + ?,
			total_spent     = total_spent + ?,
			total_purchased = total_purchased + ?,
			updated_at      = datetime('now')
		WHERE account_id = ?
	`, newBalance,
		aggregateDelta(req, domain.EntryGrant, domain.EntryRefund, domain.EntryAdjustment),
		aggregateDelta(req, domain.EntryDebit),
		purchaseDelta(req),
		req.AccountID); err != nil {
		return domain.MutationResult{}, fmt.Errorf("%w: update wallet: %v", domain.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.MutationResult{}, fmt.Errorf("%w: commit: %v", domain.ErrPersistence, err)
	}

	return domain.MutationResult{LedgerEntryID: entryID, NewBalance: newBalance}, nil
}

// aggregateDelta returns req.Amount when req.Type matches one of types.
func aggregateDelta(req domain.MutationRequest, types ...domain.EntryType) int64 {
	for _, t := range types {
		if req.Type == t {
			return req.Amount
		}
	}
	return 0
}

// purchaseDelta counts GRANTs that reference a purchase toward total_purchased.
func purchaseDelta(req domain.MutationRequest) int64 {
	if req.Type == domain.EntryGrant && req.ReferenceType == domain.RefPurchase {
		return req.Amount
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ─── Ledger Queries ─────────────────────────────────────────────────────────

const entryColumns = `id, account_id, type, amount, balance_after, description,
	reference_type, reference_id, metadata, idempotency_key, created_at`

// EntryByIdempotencyKey returns the entry for a key, or nil if none exists.
func (db *DB) EntryByIdempotencyKey(key string) (*domain.LedgerEntry, error) {
	row := db.db.QueryRow(`SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key)
	return scanEntry(row)
}

// EntryForReference returns the oldest entry for an account matching a
// reference type (e.g. the trial grant), or nil if none exists.
func (db *DB) EntryForReference(accountID, referenceType string) (*domain.LedgerEntry, error) {
	row := db.db.QueryRow(`
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = ? AND reference_type = ?
		ORDER BY created_at ASC LIMIT 1
	`, accountID, referenceType)
	return scanEntry(row)
}

// HasEntryForReference reports whether any entry exists for the account
// with the given reference type.
func (db *DB) HasEntryForReference(accountID, referenceType string) (bool, error) {
	var count int
	err := db.db.QueryRow(`
		SELECT COUNT(*) FROM ledger_entries WHERE account_id = ? AND reference_type = ?
	`, accountID, referenceType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: reference query: %v", domain.ErrPersistence, err)
	}
	return count > 0, nil
}

// EntriesByAccount returns the account's full ledger history, oldest first.
func (db *DB) EntriesByAccount(accountID string) ([]domain.LedgerEntry, error) {
	rows, err := db.db.Query(`
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = ? ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntryFromRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SumSignedAmounts returns the sum of signed ledger amounts for an account.
// By the conservation invariant this always equals the wallet balance after
// any committed transaction.
func (db *DB) SumSignedAmounts(accountID string) (int64, error) {
	var sum int64
	err := db.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN type = 'DEBIT' THEN -amount ELSE amount END), 0)
		FROM ledger_entries WHERE account_id = ?
	`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("%w: sum entries: %v", domain.ErrPersistence, err)
	}
	return sum, nil
}

// CountEntriesByKey returns how many rows exist for an idempotency key.
// Always 0 or 1 — exposed for invariant checks.
func (db *DB) CountEntriesByKey(key string) (int, error) {
	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?`, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count by key: %v", domain.ErrPersistence, err)
	}
	return count, nil
}

// ─── Row Scanning ───────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row *sql.Row) (*domain.LedgerEntry, error) {
	entry, err := scanEntryScanner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan entry: %v", domain.ErrPersistence, err)
	}
	return &entry, nil
}

func scanEntryFromRows(rows *sql.Rows) (domain.LedgerEntry, error) {
	entry, err := scanEntryScanner(rows)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("%w: scan entry: %v", domain.ErrPersistence, err)
	}
	return entry, nil
}

func scanEntryScanner(s rowScanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var typ, metaJSON, createdStr string
	if err := s.Scan(&e.ID, &e.AccountID, &typ, &e.Amount, &e.BalanceAfter,
		&e.Description, &e.ReferenceType, &e.ReferenceID, &metaJSON,
		&e.IdempotencyKey, &createdStr); err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Type = domain.EntryType(typ)
	if metaJSON != "" && metaJSON != "{}" {
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return e, nil
}
