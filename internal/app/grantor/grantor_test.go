package grantor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/credgate/credgate/internal/app/trial"
	"github.com/credgate/credgate/internal/domain"
	"github.com/credgate/credgate/internal/infra/abuse"
	"github.com/credgate/credgate/internal/infra/sqlite"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func testClock() time.Time {
	return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
}

func newTestGrantor(t *testing.T, cfg trial.Config) *Grantor {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "credgate.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	scorer := abuse.NewScorer(abuse.DefaultConfig(), abuse.NewMemoryCounterStore())
	g := New(db, scorer, trial.NewEngine(cfg, db))
	g.now = testClock
	return g
}

func claimConfig() trial.Config { return trial.DefaultConfig() }

func promoConfig() trial.Config {
	return trial.Config{
		Mode:        domain.ModePromo,
		PromoStart:  time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
		PromoEnd:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		PromoAmount: 5,
		BaseAmount:  1,
	}
}

func verifiedAccount(id string) domain.AccountState {
	return domain.AccountState{
		AccountID:     id,
		Type:          domain.AccountPersonal,
		EmailVerified: true,
		PhoneVerified: true,
	}
}

func signupInfo(id string) domain.SignupInfo {
	return domain.SignupInfo{
		AccountID:         id,
		Email:             "alice@example.com",
		IP:                "203.0.113.7",
		DeviceFingerprint: "fp-" + id,
		UserAgent:         "Mozilla/5.0",
	}
}

// ─── Claim Mode Tests ───────────────────────────────────────────────────────

func TestGrantOrClaimTrial_ClaimSuccess(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	out, err := g.GrantOrClaimTrial(context.Background(), verifiedAccount("acct-1"), nil)
	if err != nil {
		t.Fatalf("GrantOrClaimTrial() error: %v", err)
	}
	if !out.Success {
		t.Fatalf("Success = false, eligibility = %q", out.Eligibility)
	}
	if out.CreditsGranted != 5 {
		t.Errorf("CreditsGranted = %d, want 5", out.CreditsGranted)
	}
	if out.NewBalance != 5 {
		t.Errorf("NewBalance = %d, want 5", out.NewBalance)
	}

	wallet, err := g.db.GetWallet("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if wallet.Balance != 5 || wallet.TotalGranted != 5 {
		t.Errorf("wallet = %+v, want balance 5, granted 5", wallet)
	}
}

func TestGrantOrClaimTrial_PhoneGate(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	account := verifiedAccount("acct-1")
	account.PhoneVerified = false

	// Unverified phone: nothing moves.
	out, err := g.GrantOrClaimTrial(context.Background(), account, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("claim without phone verification should not succeed")
	}
	if out.Eligibility != domain.PhoneNotVerified {
		t.Errorf("eligibility = %q, want %q", out.Eligibility, domain.PhoneNotVerified)
	}
	if out.CreditsGranted != 0 {
		t.Errorf("CreditsGranted = %d, want 0", out.CreditsGranted)
	}
	if _, err := g.db.GetWallet("acct-1"); err == nil {
		t.Error("no wallet should have been credited")
	}

	// Verify the phone and retry: full claim amount.
	account.PhoneVerified = true
	out, err = g.GrantOrClaimTrial(context.Background(), account, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.CreditsGranted != 5 {
		t.Errorf("post-verification claim = %+v, want success with 5 credits", out)
	}
}

func TestGrantOrClaimTrial_Idempotent(t *testing.T) {
	g := newTestGrantor(t, claimConfig())
	account := verifiedAccount("acct-1")

	first, err := g.GrantOrClaimTrial(context.Background(), account, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.GrantOrClaimTrial(context.Background(), account, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !second.Success {
		t.Fatal("replayed claim should still be a success")
	}
	if second.LedgerEntryID != first.LedgerEntryID {
		t.Errorf("replay entry ID = %q, want original %q", second.LedgerEntryID, first.LedgerEntryID)
	}
	if second.NewBalance != first.NewBalance {
		t.Errorf("replay balance = %d, want %d", second.NewBalance, first.NewBalance)
	}

	n, err := g.db.CountEntriesByKey(domain.TrialIdempotencyKey("acct-1"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ledger entries = %d, want exactly 1", n)
	}
}

func TestGrantOrClaimTrial_Concurrent(t *testing.T) {
	g := newTestGrantor(t, claimConfig())
	account := verifiedAccount("acct-1")

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.GrantOrClaimTrial(context.Background(), account, nil); err != nil {
				t.Errorf("concurrent claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := g.db.CountEntriesByKey(domain.TrialIdempotencyKey("acct-1"))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("concurrent claims created %d entries, want 1", count)
	}
	wallet, err := g.db.GetWallet("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if wallet.Balance != 5 {
		t.Errorf("balance = %d, want 5 after %d racing claims", wallet.Balance, n)
	}
}

func TestGrantOrClaimTrial_BlockedByStoredRecord(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	err := g.db.UpsertSignupRisk(domain.SignupRiskRecord{
		AccountID: "acct-1",
		RiskScore: 90,
		Tier:      domain.TierBlocked,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := g.GrantOrClaimTrial(context.Background(), verifiedAccount("acct-1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Eligibility != domain.AbuseBlocked {
		t.Errorf("outcome = %+v, want abuse_blocked refusal", out)
	}
	if _, err := g.db.GetWallet("acct-1"); err == nil {
		t.Error("blocked account should not have been credited")
	}
}

func TestGrantOrClaimTrial_NotPersonal(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	account := verifiedAccount("org-1")
	account.Type = domain.AccountOrganization

	out, err := g.GrantOrClaimTrial(context.Background(), account, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Eligibility != domain.NotPersonal {
		t.Errorf("outcome = %+v, want not_personal refusal", out)
	}
}

// ─── Promo Mode Tests ───────────────────────────────────────────────────────

func TestGrantOrClaimTrial_PromoAmounts(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int64
	}{
		{"inside window", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), 5},
		{"after window", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGrantor(t, promoConfig())
			g.now = func() time.Time { return tt.now }

			// Promo grants fire at account creation; phone is not verified yet.
			account := verifiedAccount("acct-1")
			account.PhoneVerified = false
			info := signupInfo("acct-1")

			out, err := g.GrantOrClaimTrial(context.Background(), account, &info)
			if err != nil {
				t.Fatal(err)
			}
			if !out.Success {
				t.Fatalf("Success = false, eligibility = %q", out.Eligibility)
			}
			if out.CreditsGranted != tt.want {
				t.Errorf("CreditsGranted = %d, want %d", out.CreditsGranted, tt.want)
			}
		})
	}
}

func TestGrantOrClaimTrial_PromoBlockedSignup(t *testing.T) {
	g := newTestGrantor(t, promoConfig())

	// Disposable email plus heavy fingerprint reuse scores 90 — blocked.
	info := signupInfo("acct-1")
	info.Email = "bot@mailinator.com"
	info.DeviceFingerprint = "fp-shared"
	for i := int64(0); i < abuse.DefaultConfig().MaxAccountsPerFingerprint; i++ {
		prior := info
		prior.IP = ""
		if _, err := g.CheckAbuse(prior); err != nil {
			t.Fatal(err)
		}
	}

	account := verifiedAccount("acct-1")
	out, err := g.GrantOrClaimTrial(context.Background(), account, &info)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Eligibility != domain.AbuseBlocked {
		t.Errorf("outcome = %+v, want abuse_blocked refusal", out)
	}

	// The grant refusal must not have blocked record persistence.
	rec, err := g.db.GetSignupRisk("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Tier != domain.TierBlocked {
		t.Errorf("risk record = %+v, want blocked tier persisted", rec)
	}
}

// ─── Abuse Check Tests ──────────────────────────────────────────────────────

func TestCheckAbuse_PersistsRecord(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	info := signupInfo("acct-1")
	info.Email = "bot@mailinator.com"

	a, err := g.CheckAbuse(info)
	if err != nil {
		t.Fatal(err)
	}
	if a.Tier != domain.TierThrottled {
		t.Fatalf("tier = %q, want throttled", a.Tier)
	}

	rec, err := g.db.GetSignupRisk("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("risk record was not persisted")
	}
	if rec.RiskScore != a.RiskScore || rec.Tier != a.Tier {
		t.Errorf("stored record (%d, %q) does not match assessment (%d, %q)",
			rec.RiskScore, rec.Tier, a.RiskScore, a.Tier)
	}
	if rec.EmailDomain != "mailinator.com" {
		t.Errorf("EmailDomain = %q, want mailinator.com", rec.EmailDomain)
	}
}

// ─── Status Tests ───────────────────────────────────────────────────────────

func TestGetTrialStatus(t *testing.T) {
	g := newTestGrantor(t, claimConfig())
	account := verifiedAccount("acct-1")

	before, err := g.GetTrialStatus("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if before.Granted || !before.CanClaim || before.CurrentBalance != 0 {
		t.Errorf("pre-grant status = %+v, want claimable with zero balance", before)
	}

	if _, err := g.GrantOrClaimTrial(context.Background(), account, nil); err != nil {
		t.Fatal(err)
	}

	after, err := g.GetTrialStatus("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if !after.Granted || after.CanClaim {
		t.Errorf("post-grant status = %+v, want granted and not claimable", after)
	}
	if after.Amount != 5 || after.CurrentBalance != 5 {
		t.Errorf("status amounts = (%d, %d), want (5, 5)", after.Amount, after.CurrentBalance)
	}
	if after.GrantedAt.IsZero() {
		t.Error("GrantedAt should be set")
	}
}

func TestGetTrialStatus_Blocked(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	err := g.db.UpsertSignupRisk(domain.SignupRiskRecord{
		AccountID: "acct-1",
		RiskScore: 90,
		Tier:      domain.TierBlocked,
	})
	if err != nil {
		t.Fatal(err)
	}

	status, err := g.GetTrialStatus("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if status.CanClaim {
		t.Error("blocked account should not be claimable")
	}
	if status.BlockedReason != domain.AbuseBlocked {
		t.Errorf("BlockedReason = %q, want %q", status.BlockedReason, domain.AbuseBlocked)
	}
}

// ─── Verification Tests ─────────────────────────────────────────────────────

func TestRecordVerification_UpgradesThrottledAccount(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	// A throttled signup: disposable email alone scores 40.
	info := signupInfo("acct-1")
	info.Email = "bot@mailinator.com"
	if _, err := g.CheckAbuse(info); err != nil {
		t.Fatal(err)
	}

	stats := domain.UsageStats{
		SessionsStarted:     10,
		SessionsCompleted:   9,
		SessionsCancelled:   1,
		MedianSessionLength: 15 * time.Minute,
		TimeToFirstActivity: 2 * time.Hour,
	}
	rec, err := g.RecordVerification("acct-1", domain.VerifyPhone, &stats)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.PhoneVerified {
		t.Error("phone verification not recorded")
	}
	if rec.Tier != domain.TierFull {
		t.Errorf("tier = %q, want full after verification plus healthy usage", rec.Tier)
	}

	stored, err := g.db.GetSignupRisk("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Tier != domain.TierFull {
		t.Errorf("stored tier = %q, want full", stored.Tier)
	}
}

func TestRecordVerification_NoUpgradeWithoutStats(t *testing.T) {
	g := newTestGrantor(t, claimConfig())

	info := signupInfo("acct-1")
	info.Email = "bot@mailinator.com"
	if _, err := g.CheckAbuse(info); err != nil {
		t.Fatal(err)
	}

	rec, err := g.RecordVerification("acct-1", domain.VerifyPhone, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Tier != domain.TierThrottled {
		t.Errorf("tier = %q, want still throttled without usage evidence", rec.Tier)
	}
}

// ─── Ledger Passthrough Tests ───────────────────────────────────────────────

func TestMutateLedger(t *testing.T) {
	g := newTestGrantor(t, claimConfig())
	ctx := context.Background()

	if _, err := g.MutateLedger(ctx, domain.MutationRequest{
		AccountID:      "acct-1",
		Type:           domain.EntryGrant,
		Amount:         10,
		ReferenceType:  domain.RefPurchase,
		IdempotencyKey: "purchase-1",
	}); err != nil {
		t.Fatal(err)
	}

	res, err := g.MutateLedger(ctx, domain.MutationRequest{
		AccountID:      "acct-1",
		Type:           domain.EntryDebit,
		Amount:         4,
		ReferenceType:  domain.RefInterview,
		IdempotencyKey: "debit-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewBalance != 6 {
		t.Errorf("NewBalance = %d, want 6", res.NewBalance)
	}
}
