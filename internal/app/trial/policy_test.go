package trial

import (
	"errors"
	"testing"
	"time"

	"github.com/credgate/credgate/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

// fakeLedger is a GrantChecker with canned answers.
type fakeLedger struct {
	granted map[string]bool
	err     error
}

func (f *fakeLedger) HasEntryForReference(accountID, referenceType string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.granted[accountID], nil
}

func verifiedAccount(id string) domain.AccountState {
	return domain.AccountState{
		AccountID:     id,
		Type:          domain.AccountPersonal,
		EmailVerified: true,
		PhoneVerified: true,
	}
}

func allowedAssessment() *domain.Assessment {
	return &domain.Assessment{Allowed: true, Tier: domain.TierFull}
}

func blockedAssessment() *domain.Assessment {
	return &domain.Assessment{Allowed: false, Tier: domain.TierBlocked, RiskScore: 90}
}

func newClaimEngine(ledger GrantChecker) *Engine {
	return NewEngine(DefaultConfig(), ledger)
}

// ─── Eligibility Rule Tests ─────────────────────────────────────────────────

func TestEvaluate_Eligible(t *testing.T) {
	e := newClaimEngine(&fakeLedger{})

	got, err := e.Evaluate(verifiedAccount("acct-1"), allowedAssessment())
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if got != domain.Eligible {
		t.Errorf("eligibility = %q, want %q", got, domain.Eligible)
	}
}

func TestEvaluate_RuleOrder(t *testing.T) {
	// Each case stacks every later failure on top of the expected one; the
	// first failing rule must win.
	granted := &fakeLedger{granted: map[string]bool{"acct-1": true}}

	org := verifiedAccount("acct-1")
	org.Type = domain.AccountOrganization
	org.EmailVerified = false
	org.PhoneVerified = false

	noEmail := verifiedAccount("acct-1")
	noEmail.EmailVerified = false
	noEmail.PhoneVerified = false

	noPhone := verifiedAccount("acct-1")
	noPhone.PhoneVerified = false

	tests := []struct {
		name       string
		ledger     GrantChecker
		account    domain.AccountState
		assessment *domain.Assessment
		want       domain.Eligibility
	}{
		{"already granted wins over everything", granted, org, blockedAssessment(), domain.AlreadyGranted},
		{"account type before email", &fakeLedger{}, org, blockedAssessment(), domain.NotPersonal},
		{"email before phone", &fakeLedger{}, noEmail, blockedAssessment(), domain.EmailNotVerified},
		{"phone before abuse", &fakeLedger{}, noPhone, blockedAssessment(), domain.PhoneNotVerified},
		{"abuse last", &fakeLedger{}, verifiedAccount("acct-1"), blockedAssessment(), domain.AbuseBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newClaimEngine(tt.ledger)
			got, err := e.Evaluate(tt.account, tt.assessment)
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("eligibility = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvaluate_PromoSkipsPhoneGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = domain.ModePromo
	e := NewEngine(cfg, &fakeLedger{})

	account := verifiedAccount("acct-1")
	account.PhoneVerified = false

	got, err := e.Evaluate(account, allowedAssessment())
	if err != nil {
		t.Fatal(err)
	}
	if got != domain.Eligible {
		t.Errorf("promo mode eligibility = %q, want eligible without phone verification", got)
	}
}

func TestEvaluate_NilAssessmentSkipsAbuseRule(t *testing.T) {
	e := newClaimEngine(&fakeLedger{})

	got, err := e.Evaluate(verifiedAccount("acct-1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != domain.Eligible {
		t.Errorf("eligibility = %q, want eligible when no abuse signals exist", got)
	}
}

func TestEvaluate_LedgerError(t *testing.T) {
	e := newClaimEngine(&fakeLedger{err: errors.New("disk gone")})

	if _, err := e.Evaluate(verifiedAccount("acct-1"), nil); err == nil {
		t.Error("ledger failure should surface as an error, not an eligibility")
	}
}

// ─── Amount Tests ───────────────────────────────────────────────────────────

func TestAmount_PromoWindowBoundaries(t *testing.T) {
	cfg := Config{
		Mode:        domain.ModePromo,
		PromoStart:  time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
		PromoEnd:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		PromoAmount: 5,
		BaseAmount:  1,
	}
	e := NewEngine(cfg, &fakeLedger{})

	tests := []struct {
		name string
		now  time.Time
		want int64
	}{
		{"instant before start", time.Date(2025, 12, 27, 23, 59, 59, 0, time.UTC), 1},
		{"window start is inclusive", cfg.PromoStart, 5},
		{"mid-window", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), 5},
		{"last instant inside", time.Date(2026, 1, 14, 23, 59, 59, 0, time.UTC), 5},
		{"window end is exclusive", cfg.PromoEnd, 1},
		{"well after", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Amount(tt.now); got != tt.want {
				t.Errorf("Amount(%s) = %d, want %d", tt.now.Format(time.RFC3339), got, tt.want)
			}
		})
	}
}

func TestAmount_ClaimIgnoresDate(t *testing.T) {
	e := newClaimEngine(&fakeLedger{})

	for _, now := range []time.Time{
		time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	} {
		if got := e.Amount(now); got != 5 {
			t.Errorf("Amount(%s) = %d, want 5 in claim mode", now.Format(time.RFC3339), got)
		}
	}
}

func TestAmount_PromoWithoutWindow(t *testing.T) {
	cfg := Config{Mode: domain.ModePromo, PromoAmount: 5, BaseAmount: 1}
	e := NewEngine(cfg, &fakeLedger{})

	if got := e.Amount(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)); got != 1 {
		t.Errorf("Amount() = %d, want base amount when no window is configured", got)
	}
}

// ─── Config Tests ───────────────────────────────────────────────────────────

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.Mode = "freebie" }, true},
		{"claim amount zero", func(c *Config) { c.ClaimAmount = 0 }, true},
		{"promo window inverted", func(c *Config) {
			c.Mode = domain.ModePromo
			c.PromoStart = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
			c.PromoEnd = time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC)
		}, true},
		{"promo amounts missing", func(c *Config) {
			c.Mode = domain.ModePromo
			c.PromoAmount = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
