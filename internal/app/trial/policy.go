// Package trial decides whether a new account may receive trial credits,
// and how many.
//
// Two policy shapes exist and are never merged:
//   - promo: auto-grant at account creation, with a larger amount inside
//     the configured promo window
//   - claim: a fixed amount the account holder claims explicitly once all
//     verification gates pass
//
// Eligibility rules run in strict order and short-circuit on the first
// failure, so callers always see exactly one reason code.
package trial

import (
	"fmt"
	"time"

	"github.com/credgate/credgate/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config selects the policy mode and its amounts.
type Config struct {
	Mode domain.TrialPolicyMode

	// Promo mode: PromoAmount inside [PromoStart, PromoEnd), BaseAmount
	// outside. The interval is half-open — start inclusive, end exclusive.
	PromoStart  time.Time
	PromoEnd    time.Time
	PromoAmount int64
	BaseAmount  int64

	// Claim mode: a single constant regardless of date.
	ClaimAmount int64
}

// DefaultConfig returns the claim-mode defaults. Claim is the safer
// default: nothing moves until phone verification passes.
func DefaultConfig() Config {
	return Config{
		Mode:        domain.ModeClaim,
		ClaimAmount: 5,
		PromoAmount: 5,
		BaseAmount:  1,
	}
}

// Validate rejects configurations that would merge or break the two modes.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("trial mode must be %q or %q, got %q", domain.ModePromo, domain.ModeClaim, c.Mode)
	}
	switch c.Mode {
	case domain.ModePromo:
		if c.PromoAmount <= 0 || c.BaseAmount <= 0 {
			return fmt.Errorf("promo mode requires positive promo and base amounts")
		}
		if !c.PromoStart.IsZero() && !c.PromoEnd.After(c.PromoStart) {
			return fmt.Errorf("promo window end must be after start")
		}
	case domain.ModeClaim:
		if c.ClaimAmount <= 0 {
			return fmt.Errorf("claim mode requires a positive claim amount")
		}
	}
	return nil
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// GrantChecker answers "was a trial already recorded for this account" —
// a ledger query, so the ledger stays the sole source of truth.
type GrantChecker interface {
	HasEntryForReference(accountID, referenceType string) (bool, error)
}

// Engine evaluates trial eligibility and amounts.
type Engine struct {
	config Config
	ledger GrantChecker

	// Injectable clock for testing.
	now func() time.Time
}

// NewEngine creates a policy engine over the given ledger.
func NewEngine(cfg Config, ledger GrantChecker) *Engine {
	return &Engine{config: cfg, ledger: ledger, now: time.Now}
}

// Mode returns the configured policy mode.
func (e *Engine) Mode() domain.TrialPolicyMode { return e.config.Mode }

// AutoGrant reports whether the grant is issued automatically at account
// creation (promo mode) rather than claimed explicitly (claim mode).
func (e *Engine) AutoGrant() bool { return e.config.Mode == domain.ModePromo }

// Evaluate runs the ordered eligibility rules. The assessment is optional:
// callers pass the fresh abuse assessment at signup, or a reconstruction
// from the stored risk record on later claim calls; nil means no abuse
// signals are available and the abuse rule is skipped.
func (e *Engine) Evaluate(account domain.AccountState, assessment *domain.Assessment) (domain.Eligibility, error) {
	// Rule 1: one trial per account, ever — checked against the ledger.
	granted, err := e.ledger.HasEntryForReference(account.AccountID, domain.RefTrial)
	if err != nil {
		return "", err
	}
	if granted {
		return domain.AlreadyGranted, nil
	}

	// Rule 2: personal accounts only.
	if account.Type != domain.AccountPersonal {
		return domain.NotPersonal, nil
	}

	// Rule 3: email must be verified.
	if !account.EmailVerified {
		return domain.EmailNotVerified, nil
	}

	// Rule 4 (claim mode only): phone must be verified.
	if e.config.Mode == domain.ModeClaim && !account.PhoneVerified {
		return domain.PhoneNotVerified, nil
	}

	// Rule 5: abuse check must allow the account.
	if assessment != nil && !assessment.Allowed {
		return domain.AbuseBlocked, nil
	}

	return domain.Eligible, nil
}

// Amount returns the credits a grant issued at the given instant carries.
func (e *Engine) Amount(now time.Time) int64 {
	if e.config.Mode == domain.ModeClaim {
		return e.config.ClaimAmount
	}
	if e.inPromoWindow(now) {
		return e.config.PromoAmount
	}
	return e.config.BaseAmount
}

// AmountNow returns the credits a grant issued right now carries.
func (e *Engine) AmountNow() int64 { return e.Amount(e.now()) }

// inPromoWindow checks the half-open promo interval: start inclusive,
// end exclusive.
func (e *Engine) inPromoWindow(now time.Time) bool {
	if e.config.PromoStart.IsZero() || e.config.PromoEnd.IsZero() {
		return false
	}
	return !now.Before(e.config.PromoStart) && now.Before(e.config.PromoEnd)
}
