// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Ledger Types ───────────────────────────────────────────────────────────

// EntryType represents the accounting direction of a ledger entry.
type EntryType string

const (
	EntryGrant      EntryType = "GRANT"
	EntryDebit      EntryType = "DEBIT"
	EntryRefund     EntryType = "REFUND"
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// Valid reports whether the entry type is one of the four known kinds.
func (t EntryType) Valid() bool {
	switch t {
	case EntryGrant, EntryDebit, EntryRefund, EntryAdjustment:
		return true
	}
	return false
}

// Sign returns +1 for balance-increasing types and -1 for DEBIT.
func (t EntryType) Sign() int64 {
	if t == EntryDebit {
		return -1
	}
	return 1
}

// Reference types identify the business event that triggered a mutation.
const (
	RefSignup    = "signup"
	RefTrial     = "trial"
	RefPurchase  = "purchase"
	RefInterview = "interview"
	RefRefund    = "refund"
)

// LedgerEntry is one immutable row in the append-only credit ledger.
// Entries are never updated or deleted; for a given account, ordered by
// creation time, each entry's BalanceAfter equals the previous entry's
// BalanceAfter plus the signed amount.
type LedgerEntry struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"account_id"`
	Type           EntryType         `json:"type"`
	Amount         int64             `json:"amount"` // always positive; direction comes from Type
	BalanceAfter   int64             `json:"balance_after"`
	Description    string            `json:"description,omitempty"`
	ReferenceType  string            `json:"reference_type"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	CreatedAt      time.Time         `json:"created_at"`
}

// SignedAmount returns the balance delta this entry applied.
func (e LedgerEntry) SignedAmount() int64 {
	return e.Type.Sign() * e.Amount
}

// Wallet is the denormalized balance cache for one account.
// Balance always equals the sum of signed ledger amounts for that account;
// it is mutated exclusively by the transaction that appends a ledger entry.
type Wallet struct {
	AccountID      string    `json:"account_id"`
	Balance        int64     `json:"balance"`
	TotalGranted   int64     `json:"total_granted"`
	TotalSpent     int64     `json:"total_spent"`
	TotalPurchased int64     `json:"total_purchased"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ─── Mutation Contract ──────────────────────────────────────────────────────

// MutationRequest describes one balance-affecting operation.
type MutationRequest struct {
	AccountID      string            `json:"account_id"`
	Type           EntryType         `json:"type"`
	Amount         int64             `json:"amount"`
	Description    string            `json:"description,omitempty"`
	ReferenceType  string            `json:"reference_type"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// Validate checks the request shape before it reaches a transaction.
func (r MutationRequest) Validate() error {
	if r.AccountID == "" {
		return ErrValidation
	}
	if !r.Type.Valid() {
		return ErrValidation
	}
	if r.Amount <= 0 {
		return ErrValidation
	}
	if r.IdempotencyKey == "" {
		return ErrValidation
	}
	return nil
}

// MutationResult is returned for every accepted mutation.
// AlreadyProcessed marks an idempotent replay — a success, not a failure.
type MutationResult struct {
	LedgerEntryID    string `json:"ledger_entry_id"`
	NewBalance       int64  `json:"new_balance"`
	AlreadyProcessed bool   `json:"already_processed"`
}
