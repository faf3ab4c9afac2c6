package abuse

import (
	"math"
	"time"

	"github.com/credgate/credgate/internal/domain"
)

// ─── Behavior Score ─────────────────────────────────────────────────────────
// Computed after the fact from post-signup usage. It is only ever used to
// UPGRADE an account already in the throttled tier once a required
// verification completes — it never gates the initial signup decision.

const (
	// Component weights (sum to 1.0).
	WeightCompletion   = 0.40
	WeightDuration     = 0.25
	WeightActivation   = 0.20
	WeightCancellation = 0.15

	// UpgradeThreshold is the minimum behavior score for a throttled→full
	// tier upgrade.
	UpgradeThreshold = 0.6

	// healthySessionLength is the session length at which the duration
	// component saturates; shorter sessions score proportionally less.
	healthySessionLength = 10 * time.Minute

	// promptActivation is the account-creation-to-first-activity delay at
	// or under which the activation component is maximal. Bots that never
	// use the product and farms that activate weeks later both score low.
	promptActivation = 24 * time.Hour

	// activationFloor is where the activation component bottoms out.
	activationFloor = 7 * 24 * time.Hour
)

// BehaviorScore condenses usage stats into [0, 1]:
//
//	score = 0.40×completion + 0.25×duration + 0.20×activation + 0.15×(1 − cancellation)
//
// An account with no sessions at all scores 0 — no evidence is not good
// evidence.
func BehaviorScore(stats domain.UsageStats) float64 {
	if stats.SessionsStarted <= 0 {
		return 0
	}

	completion := float64(stats.SessionsCompleted) / float64(stats.SessionsStarted)
	cancellation := float64(stats.SessionsCancelled) / float64(stats.SessionsStarted)
	duration := math.Min(1.0, float64(stats.MedianSessionLength)/float64(healthySessionLength))

	activation := 0.0
	switch {
	case stats.TimeToFirstActivity <= 0:
		activation = 0
	case stats.TimeToFirstActivity <= promptActivation:
		activation = 1.0
	case stats.TimeToFirstActivity >= activationFloor:
		activation = 0
	default:
		span := float64(activationFloor - promptActivation)
		activation = 1.0 - float64(stats.TimeToFirstActivity-promptActivation)/span
	}

	score := WeightCompletion*clamp01(completion) +
		WeightDuration*clamp01(duration) +
		WeightActivation*clamp01(activation) +
		WeightCancellation*clamp01(1.0-cancellation)

	return clamp01(score)
}

// UpgradeEligible reports whether a throttled account has earned a full-tier
// upgrade: at least one required verification completed plus a behavior
// score over the threshold. Blocked accounts never upgrade this way.
func UpgradeEligible(rec domain.SignupRiskRecord, stats domain.UsageStats) bool {
	if rec.Tier != domain.TierThrottled {
		return false
	}
	if !rec.PhoneVerified && !rec.CaptchaVerified && !rec.IdentityVerified {
		return false
	}
	return BehaviorScore(stats) >= UpgradeThreshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
