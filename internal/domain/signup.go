package domain

import (
	"strings"
	"time"
)

// ─── Signup Signals ─────────────────────────────────────────────────────────

// SignupInfo is the superset of signals a signup flow can hand to the
// abuse scorer. Everything except AccountID and Email is optional; absent
// signals simply contribute nothing (or a mild penalty for a missing
// fingerprint).
type SignupInfo struct {
	AccountID         string `json:"account_id"`
	Email             string `json:"email"`
	IP                string `json:"ip,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`
	CaptchaCompleted  bool   `json:"captcha_completed,omitempty"`
	IdentityVerified  bool   `json:"identity_verified,omitempty"`
}

// EmailDomain returns the lowercased domain part of the signup email.
func (s SignupInfo) EmailDomain() string {
	at := strings.LastIndex(s.Email, "@")
	if at < 0 || at == len(s.Email)-1 {
		return ""
	}
	return strings.ToLower(s.Email[at+1:])
}

// ─── Risk Assessment ────────────────────────────────────────────────────────

// CreditTier is the throttling classification assigned at signup.
type CreditTier string

const (
	TierFull      CreditTier = "full"
	TierThrottled CreditTier = "throttled"
	TierBlocked   CreditTier = "blocked"
)

// SuspicionReason names one signal that contributed to the risk score.
type SuspicionReason string

const (
	ReasonDisposableEmail  SuspicionReason = "disposable_email"
	ReasonFingerprintReuse SuspicionReason = "fingerprint_reuse"
	ReasonIPReuse          SuspicionReason = "ip_reuse"
	ReasonSubnetVelocity   SuspicionReason = "subnet_velocity"
	ReasonNoFingerprint    SuspicionReason = "missing_fingerprint"
)

// RequiredAction is a follow-up verification the account must complete.
type RequiredAction string

const (
	ActionPhoneVerification    RequiredAction = "phone_verification"
	ActionCaptcha              RequiredAction = "captcha"
	ActionIdentityVerification RequiredAction = "identity_verification"
)

// Assessment is the scorer's gating decision for one signup.
type Assessment struct {
	RiskScore       int               `json:"risk_score"` // 0–100
	Tier            CreditTier        `json:"credit_tier"`
	Allowed         bool              `json:"allowed"`
	Suspicious      bool              `json:"is_suspicious"`
	Reasons         []SuspicionReason `json:"suspicion_reasons,omitempty"`
	RequiredActions []RequiredAction  `json:"required_actions,omitempty"`
}

// ─── Signup Risk Record ─────────────────────────────────────────────────────

// VerificationKind names a verification channel a user can complete.
type VerificationKind string

const (
	VerifyPhone    VerificationKind = "phone"
	VerifyCaptcha  VerificationKind = "captcha"
	VerifyIdentity VerificationKind = "identity"
)

// SignupRiskRecord is the per-account row written at signup and updated in
// place as verifications complete. It is never deleted.
type SignupRiskRecord struct {
	AccountID         string            `json:"account_id"`
	IP                string            `json:"ip,omitempty"`
	DeviceFingerprint string            `json:"device_fingerprint,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	EmailDomain       string            `json:"email_domain,omitempty"`
	RiskScore         int               `json:"risk_score"`
	Tier              CreditTier        `json:"credit_tier"`
	Reasons           []SuspicionReason `json:"suspicion_reasons,omitempty"`
	PhoneVerified     bool              `json:"phone_verified"`
	CaptchaVerified   bool              `json:"captcha_verified"`
	IdentityVerified  bool              `json:"identity_verified"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ─── Account State (caller-provided) ────────────────────────────────────────

// AccountType distinguishes personal accounts from organizational ones.
type AccountType string

const (
	AccountPersonal     AccountType = "personal"
	AccountOrganization AccountType = "organization"
)

// AccountState is the slice of identity state the surrounding system hands
// to the policy engine. Auth and session mechanics stay external; this core
// only consumes the verified flags.
type AccountState struct {
	AccountID     string      `json:"account_id"`
	Type          AccountType `json:"type"`
	EmailVerified bool        `json:"email_verified"`
	PhoneVerified bool        `json:"phone_verified"`
}

// ─── Post-Signup Usage ──────────────────────────────────────────────────────

// UsageStats summarizes post-signup behavior. It feeds the behavior score,
// which only ever upgrades a throttled account — it never gates signup.
type UsageStats struct {
	SessionsStarted     int           `json:"sessions_started"`
	SessionsCompleted   int           `json:"sessions_completed"`
	SessionsCancelled   int           `json:"sessions_cancelled"`
	MedianSessionLength time.Duration `json:"median_session_length"`
	TimeToFirstActivity time.Duration `json:"time_to_first_activity"`
}
