// Package abuse implements heuristic signup risk scoring.
//
// Each signup is scored from independent additive signals:
//   - Disposable email domain: +40 (and identity verification required)
//   - Device fingerprint reused across accounts: +50
//   - IP address reused across accounts: +30
//   - Subnet signup velocity over threshold: +25 (and captcha required)
//   - Missing device fingerprint: +10 (mild penalty, not a hard signal)
//
// Score ≥ 80 blocks the signup outright; 40–79 throttles it pending
// verification; below 40 is the full tier. The counters behind the reuse
// and velocity signals are advisory — losing them degrades detection, never
// ledger correctness.
package abuse

import (
	"fmt"
	"log"
	"net/netip"
	"strings"
	"time"

	"github.com/credgate/credgate/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// Additive signal weights.
	WeightDisposableEmail    = 40
	WeightFingerprintReuse   = 50
	WeightIPReuse            = 30
	WeightSubnetVelocity     = 25
	WeightMissingFingerprint = 10

	// MaxScore caps the additive total.
	MaxScore = 100

	// BlockThreshold and above → tier blocked, zero credits possible.
	BlockThreshold = 80

	// ThrottleThreshold up to BlockThreshold → tier throttled.
	ThrottleThreshold = 40

	// SuspicionThreshold and above marks the signup suspicious.
	SuspicionThreshold = 20

	// CaptchaScoreThreshold: captcha required above this score.
	CaptchaScoreThreshold = 30

	// IdentityScoreThreshold: identity verification required above this score.
	IdentityScoreThreshold = 50
)

// defaultDisposableDomains are the built-in disposable email providers.
// Config can extend the list but never shrink it.
var defaultDisposableDomains = []string{
	"mailinator.com", "guerrillamail.com", "10minutemail.com",
	"tempmail.com", "temp-mail.org", "throwaway.email", "yopmail.com",
	"sharklasers.com", "trashmail.com", "getnada.com", "maildrop.cc",
	"fakeinbox.com", "dispostable.com", "mintemail.com", "mytemp.email",
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config tunes the scorer's reuse and velocity limits.
type Config struct {
	MaxAccountsPerFingerprint int64         // fingerprint reuse limit (default: 3)
	MaxAccountsPerIP          int64         // IP reuse limit (default: 3)
	SubnetHourlyThreshold     int64         // signups per subnet per bucket (default: 10)
	BucketDuration            time.Duration // velocity bucket width (default: 1h)
	Retention                 time.Duration // counter retention window (default: 24h)
	ExtraDisposableDomains    []string      // extends the built-in disposable list
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAccountsPerFingerprint: 3,
		MaxAccountsPerIP:          3,
		SubnetHourlyThreshold:     10,
		BucketDuration:            time.Hour,
		Retention:                 24 * time.Hour,
	}
}

// ─── Scorer ─────────────────────────────────────────────────────────────────

// Scorer turns signup signals into a gating decision.
type Scorer struct {
	config     Config
	counters   CounterStore
	disposable map[string]struct{}

	// Injectable clock for testing.
	now func() time.Time
}

// NewScorer creates a scorer backed by the given counter store.
func NewScorer(cfg Config, counters CounterStore) *Scorer {
	disposable := make(map[string]struct{}, len(defaultDisposableDomains)+len(cfg.ExtraDisposableDomains))
	for _, d := range defaultDisposableDomains {
		disposable[d] = struct{}{}
	}
	for _, d := range cfg.ExtraDisposableDomains {
		disposable[strings.ToLower(d)] = struct{}{}
	}
	return &Scorer{
		config:     cfg,
		counters:   counters,
		disposable: disposable,
		now:        time.Now,
	}
}

// Assess scores one signup attempt. It records the attempt in the subnet
// velocity bucket (attempts count, not just successful signups) and reads
// the reuse counters, but never writes them — RecordAccount does that once
// the risk record actually exists.
//
// Adding a positive-weight signal to a fixed base input never lowers the
// resulting score.
func (s *Scorer) Assess(info domain.SignupInfo) domain.Assessment {
	now := s.now()
	score := 0
	var reasons []domain.SuspicionReason
	var actions []domain.RequiredAction

	disposable := s.isDisposable(info.EmailDomain())
	if disposable {
		score += WeightDisposableEmail
		reasons = append(reasons, domain.ReasonDisposableEmail)
	}

	if info.DeviceFingerprint == "" {
		score += WeightMissingFingerprint
		reasons = append(reasons, domain.ReasonNoFingerprint)
	} else if s.count(fingerprintKey(info.DeviceFingerprint), now) >= s.config.MaxAccountsPerFingerprint {
		score += WeightFingerprintReuse
		reasons = append(reasons, domain.ReasonFingerprintReuse)
	}

	if info.IP != "" && s.count(ipKey(info.IP), now) >= s.config.MaxAccountsPerIP {
		score += WeightIPReuse
		reasons = append(reasons, domain.ReasonIPReuse)
	}

	velocityHigh := s.recordAndCheckVelocity(info.IP, now)
	if velocityHigh {
		score += WeightSubnetVelocity
		reasons = append(reasons, domain.ReasonSubnetVelocity)
	}

	if score > MaxScore {
		score = MaxScore
	}

	tier := tierFor(score)

	// Required actions accumulate independently of tier. Signals the caller
	// already proved (captcha solved, identity attested) are not re-required.
	actions = append(actions, domain.ActionPhoneVerification)
	if (score > CaptchaScoreThreshold || velocityHigh) && !info.CaptchaCompleted {
		actions = append(actions, domain.ActionCaptcha)
	}
	if (score > IdentityScoreThreshold || disposable) && !info.IdentityVerified {
		actions = append(actions, domain.ActionIdentityVerification)
	}

	return domain.Assessment{
		RiskScore:       score,
		Tier:            tier,
		Allowed:         tier != domain.TierBlocked,
		Suspicious:      score >= SuspicionThreshold,
		Reasons:         reasons,
		RequiredActions: actions,
	}
}

// RecordAccount increments the fingerprint and IP reuse counters. Call it
// exactly once per created SignupRiskRecord, after the record is stored.
func (s *Scorer) RecordAccount(info domain.SignupInfo) {
	now := s.now()
	expires := now.Add(s.config.Retention)
	if info.DeviceFingerprint != "" {
		if _, err := s.counters.Increment(fingerprintKey(info.DeviceFingerprint), now, expires); err != nil {
			log.Printf("[abuse] fingerprint counter increment failed: %v", err)
		}
	}
	if info.IP != "" {
		if _, err := s.counters.Increment(ipKey(info.IP), now, expires); err != nil {
			log.Printf("[abuse] ip counter increment failed: %v", err)
		}
	}
}

// PurgeCounters drops expired counters; run it periodically so the reuse
// maps and velocity buckets stay bounded by the retention window.
func (s *Scorer) PurgeCounters() int {
	purged, err := s.counters.Purge(s.now())
	if err != nil {
		log.Printf("[abuse] counter purge failed: %v", err)
		return 0
	}
	return purged
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (s *Scorer) isDisposable(emailDomain string) bool {
	_, ok := s.disposable[emailDomain]
	return ok
}

// count reads a counter; store failures degrade to zero because the
// counters are advisory, never load-bearing for the ledger.
func (s *Scorer) count(key string, now time.Time) int64 {
	n, err := s.counters.Count(key, now)
	if err != nil {
		log.Printf("[abuse] counter read failed for %s: %v", key, err)
		return 0
	}
	return n
}

// recordAndCheckVelocity increments the current subnet bucket and reports
// whether the signup rate is over the limit. Buckets are fixed and
// non-overlapping; summing the current and previous bucket against twice
// the threshold bounds the rate an attacker can hide by straddling a
// bucket boundary.
func (s *Scorer) recordAndCheckVelocity(ip string, now time.Time) bool {
	subnet, ok := subnetFor(ip)
	if !ok {
		return false
	}

	bucket := now.Truncate(s.config.BucketDuration)
	current, err := s.counters.Increment(subnetKey(subnet, bucket), now, now.Add(s.config.Retention))
	if err != nil {
		log.Printf("[abuse] velocity counter increment failed: %v", err)
		return false
	}
	previous := s.count(subnetKey(subnet, bucket.Add(-s.config.BucketDuration)), now)

	return current > s.config.SubnetHourlyThreshold ||
		current+previous > 2*s.config.SubnetHourlyThreshold
}

// subnetFor maps an address onto its abuse-detection subnet:
// /24 for IPv4, /48 for IPv6.
func subnetFor(ip string) (netip.Prefix, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	bits := 24
	if addr.Is6() {
		bits = 48
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return prefix, true
}

func tierFor(score int) domain.CreditTier {
	switch {
	case score >= BlockThreshold:
		return domain.TierBlocked
	case score >= ThrottleThreshold:
		return domain.TierThrottled
	default:
		return domain.TierFull
	}
}

func fingerprintKey(fp string) string { return "fp:" + fp }
func ipKey(ip string) string          { return "ip:" + ip }

func subnetKey(subnet netip.Prefix, bucket time.Time) string {
	return fmt.Sprintf("subnet:%s:%d", subnet, bucket.Unix())
}
