package domain

import "time"

// ─── Trial Policy ───────────────────────────────────────────────────────────

// TrialPolicyMode selects one of the two mutually exclusive trial shapes.
// The modes are never merged: a deployment runs exactly one.
type TrialPolicyMode string

const (
	// ModePromo auto-grants at account creation, with a larger amount
	// inside the configured promo window.
	ModePromo TrialPolicyMode = "promo"

	// ModeClaim grants a fixed amount, but only on an explicit claim call
	// after all verification gates pass.
	ModeClaim TrialPolicyMode = "claim"
)

// Valid reports whether the mode is one of the two known shapes.
func (m TrialPolicyMode) Valid() bool {
	return m == ModePromo || m == ModeClaim
}

// Eligibility is the outcome of the ordered policy rules. Rules short-circuit
// on the first failure, so exactly one reason is ever reported.
type Eligibility string

const (
	Eligible         Eligibility = "eligible"
	AlreadyGranted   Eligibility = "already_granted"
	NotPersonal      Eligibility = "not_personal"
	EmailNotVerified Eligibility = "email_not_verified"
	PhoneNotVerified Eligibility = "phone_not_verified"
	AbuseBlocked     Eligibility = "abuse_blocked"
)

// TrialIdempotencyKey derives the deterministic idempotency key for an
// account's trial grant. Deriving it from the account ID (never randomly)
// is what makes repeated signup or claim calls safe no-ops.
func TrialIdempotencyKey(accountID string) string {
	return "trial:" + accountID
}

// ─── Trial Outcomes ─────────────────────────────────────────────────────────

// GrantOutcome is the typed result of a grant-or-claim attempt.
// Policy failures are reported here, never as Go errors.
type GrantOutcome struct {
	Success        bool        `json:"success"`
	Eligibility    Eligibility `json:"eligibility"`
	CreditsGranted int64       `json:"credits_granted"`
	LedgerEntryID  string      `json:"ledger_entry_id,omitempty"`
	NewBalance     int64       `json:"new_balance,omitempty"`
}

// TrialStatus answers "has this account had its trial, and can it still
// claim one" for status pages and lazy-retry paths.
type TrialStatus struct {
	Granted        bool        `json:"granted"`
	Amount         int64       `json:"amount,omitempty"`
	GrantedAt      time.Time   `json:"granted_at,omitempty"`
	CurrentBalance int64       `json:"current_balance"`
	CanClaim       bool        `json:"can_claim"`
	BlockedReason  Eligibility `json:"blocked_reason,omitempty"`
}
