// Package grantor is the orchestration layer tying the ledger, the abuse
// scorer, and the trial policy engine together. It owns the call order for
// a grant attempt: idempotency fast path, then policy, then the ledger
// mutation, then a best-effort risk record refresh that is never allowed to
// roll back an applied grant.
package grantor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/credgate/credgate/internal/app/trial"
	"github.com/credgate/credgate/internal/domain"
	"github.com/credgate/credgate/internal/infra/abuse"
	"github.com/credgate/credgate/internal/infra/observability"
	"github.com/credgate/credgate/internal/infra/sqlite"
)

// Grantor coordinates credit grants and spends against a single store.
type Grantor struct {
	db     *sqlite.DB
	scorer *abuse.Scorer
	policy *trial.Engine
	logger *log.Logger

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a Grantor over the given store, scorer, and policy engine.
func New(db *sqlite.DB, scorer *abuse.Scorer, policy *trial.Engine) *Grantor {
	return &Grantor{
		db:     db,
		scorer: scorer,
		policy: policy,
		logger: log.New(log.Writer(), "[grantor] ", log.LstdFlags),
		now:    time.Now,
	}
}

// ─── Ledger Passthrough ─────────────────────────────────────────────────────

// MutateLedger applies one balance-affecting operation. Replays of a seen
// idempotency key succeed with the original result.
func (g *Grantor) MutateLedger(ctx context.Context, req domain.MutationRequest) (domain.MutationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.MutationResult{}, err
	}

	res, err := g.db.Mutate(req)
	observability.LedgerMutations.WithLabelValues(string(req.Type), mutationOutcome(res, err)).Inc()
	return res, err
}

// GetWallet returns the wallet aggregates for an account.
// Returns domain.ErrWalletNotFound when no mutation ever touched it.
func (g *Grantor) GetWallet(accountID string) (domain.Wallet, error) {
	return g.db.GetWallet(accountID)
}

// ListEntries returns the account's ledger history, oldest first.
func (g *Grantor) ListEntries(accountID string) ([]domain.LedgerEntry, error) {
	return g.db.EntriesByAccount(accountID)
}

// mutationOutcome maps a mutation result onto a metric label.
func mutationOutcome(res domain.MutationResult, err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case err != nil:
		return "error"
	case res.AlreadyProcessed:
		return "replayed"
	default:
		return "applied"
	}
}

// ─── Abuse Check ────────────────────────────────────────────────────────────

// CheckAbuse scores a signup, persists the resulting risk record, and
// registers the account against the reuse counters.
func (g *Grantor) CheckAbuse(info domain.SignupInfo) (domain.Assessment, error) {
	a := g.scorer.Assess(info)

	observability.AbuseAssessments.WithLabelValues(string(a.Tier)).Inc()
	observability.RiskScore.Observe(float64(a.RiskScore))

	rec := domain.SignupRiskRecord{
		AccountID:         info.AccountID,
		IP:                info.IP,
		DeviceFingerprint: info.DeviceFingerprint,
		UserAgent:         info.UserAgent,
		EmailDomain:       info.EmailDomain(),
		RiskScore:         a.RiskScore,
		Tier:              a.Tier,
		Reasons:           a.Reasons,
		CaptchaVerified:   info.CaptchaCompleted,
		IdentityVerified:  info.IdentityVerified,
	}
	if err := g.db.UpsertSignupRisk(rec); err != nil {
		return a, err
	}
	g.scorer.RecordAccount(info)
	return a, nil
}

// ─── Trial Grant / Claim ────────────────────────────────────────────────────

// GrantOrClaimTrial attempts the one-per-account trial grant. In promo mode
// this runs automatically at account creation; in claim mode the account
// holder triggers it. Policy refusals come back as a typed outcome, never
// as a Go error; errors mean the store itself failed.
func (g *Grantor) GrantOrClaimTrial(ctx context.Context, account domain.AccountState, info *domain.SignupInfo) (domain.GrantOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.GrantOutcome{}, err
	}

	mode := string(g.policy.Mode())
	key := domain.TrialIdempotencyKey(account.AccountID)

	// Fast path: the deterministic key already has an entry, so a grant
	// was applied before. Return the original result unchanged.
	if entry, err := g.db.EntryByIdempotencyKey(key); err != nil {
		return domain.GrantOutcome{}, err
	} else if entry != nil {
		observability.TrialGrants.WithLabelValues(mode, string(domain.Eligible)).Inc()
		return domain.GrantOutcome{
			Success:        true,
			Eligibility:    domain.Eligible,
			CreditsGranted: entry.Amount,
			LedgerEntryID:  entry.ID,
			NewBalance:     entry.BalanceAfter,
		}, nil
	}

	assessment, err := g.assessmentFor(account.AccountID, info)
	if err != nil {
		return domain.GrantOutcome{}, err
	}

	eligibility, err := g.policy.Evaluate(account, assessment)
	if err != nil {
		return domain.GrantOutcome{}, err
	}
	observability.TrialGrants.WithLabelValues(mode, string(eligibility)).Inc()
	if eligibility != domain.Eligible {
		return domain.GrantOutcome{Eligibility: eligibility}, nil
	}

	amount := g.policy.Amount(g.now().UTC())
	res, err := g.db.Mutate(domain.MutationRequest{
		AccountID:      account.AccountID,
		Type:           domain.EntryGrant,
		Amount:         amount,
		Description:    "Trial credits",
		ReferenceType:  domain.RefTrial,
		ReferenceID:    account.AccountID,
		Metadata:       map[string]string{"mode": mode},
		IdempotencyKey: key,
	})
	observability.LedgerMutations.WithLabelValues(string(domain.EntryGrant), mutationOutcome(res, err)).Inc()
	if err != nil {
		return domain.GrantOutcome{}, err
	}

	// Best effort: refresh the stored tier now that the grant went through.
	// The grant is already committed; a failure here is logged and dropped.
	if assessment != nil {
		if err := g.db.UpdateRiskTier(account.AccountID, assessment.Tier); err != nil {
			g.logger.Printf("risk tier refresh failed for %s: %v", account.AccountID, err)
		}
	}

	return domain.GrantOutcome{
		Success:        true,
		Eligibility:    domain.Eligible,
		CreditsGranted: amount,
		LedgerEntryID:  res.LedgerEntryID,
		NewBalance:     res.NewBalance,
	}, nil
}

// assessmentFor returns the abuse assessment for a grant attempt: a fresh
// one when signup signals are provided, a reconstruction from the stored
// risk record otherwise, nil when neither exists.
func (g *Grantor) assessmentFor(accountID string, info *domain.SignupInfo) (*domain.Assessment, error) {
	if info != nil {
		a, err := g.CheckAbuse(*info)
		if err != nil {
			return nil, err
		}
		return &a, nil
	}

	rec, err := g.db.GetSignupRisk(accountID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &domain.Assessment{
		RiskScore: rec.RiskScore,
		Tier:      rec.Tier,
		Allowed:   rec.Tier != domain.TierBlocked,
		Reasons:   rec.Reasons,
	}, nil
}

// ─── Trial Status ───────────────────────────────────────────────────────────

// GetTrialStatus reports whether the account has received its trial and,
// in claim mode, whether a claim is still possible.
func (g *Grantor) GetTrialStatus(accountID string) (domain.TrialStatus, error) {
	entry, err := g.db.EntryForReference(accountID, domain.RefTrial)
	if err != nil {
		return domain.TrialStatus{}, err
	}

	var balance int64
	wallet, err := g.db.GetWallet(accountID)
	switch {
	case err == nil:
		balance = wallet.Balance
	case errors.Is(err, domain.ErrWalletNotFound):
		// No wallet yet means no credits yet.
	default:
		return domain.TrialStatus{}, err
	}

	rec, err := g.db.GetSignupRisk(accountID)
	if err != nil {
		return domain.TrialStatus{}, err
	}
	blocked := rec != nil && rec.Tier == domain.TierBlocked

	status := domain.TrialStatus{
		CurrentBalance: balance,
		CanClaim:       g.policy.Mode() == domain.ModeClaim && entry == nil && !blocked,
	}
	if entry != nil {
		status.Granted = true
		status.Amount = entry.Amount
		status.GrantedAt = entry.CreatedAt
	} else if blocked {
		status.BlockedReason = domain.AbuseBlocked
	}
	return status, nil
}

// ─── Verification & Tier Upgrade ────────────────────────────────────────────

// RecordVerification marks a verification channel completed and, when usage
// stats are supplied, upgrades a throttled account to the full tier if its
// behavior score clears the bar. Returns the risk record after the update.
func (g *Grantor) RecordVerification(accountID string, kind domain.VerificationKind, stats *domain.UsageStats) (*domain.SignupRiskRecord, error) {
	if err := g.db.SetVerification(accountID, kind); err != nil {
		return nil, err
	}

	rec, err := g.db.GetSignupRisk(accountID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrPersistence
	}

	if stats != nil && abuse.UpgradeEligible(*rec, *stats) {
		if err := g.db.UpdateRiskTier(accountID, domain.TierFull); err != nil {
			return nil, err
		}
		rec.Tier = domain.TierFull
		g.logger.Printf("account %s upgraded to full tier after %s verification", accountID, kind)
	}
	return rec, nil
}

// ─── Maintenance ────────────────────────────────────────────────────────────

// PurgeCounters drops expired velocity counters. Called on a ticker by the
// daemon; safe to call at any time.
func (g *Grantor) PurgeCounters() int {
	purged := g.scorer.PurgeCounters()
	observability.CountersPurged.Add(float64(purged))
	return purged
}
