package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.
// Policy and eligibility outcomes are typed results, not errors; these
// sentinels cover the genuinely exceptional paths.

var (
	// Ledger errors
	ErrValidation          = errors.New("invalid mutation request")
	ErrInsufficientBalance = errors.New("debit exceeds current balance")
	ErrWalletNotFound      = errors.New("wallet not found")

	// Abuse errors
	ErrAbuseBlocked = errors.New("signup blocked by abuse risk score")

	// Storage errors — transient failures are wrapped with this so callers
	// can retry safely (every mutation is idempotent).
	ErrPersistence = errors.New("persistence failure")
)
