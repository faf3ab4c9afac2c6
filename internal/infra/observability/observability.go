// Package observability defines the Prometheus metrics exported by the
// credit service. Metrics are registered on the default registry at import
// time and served by the API's /metrics handler when enabled.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerMutations counts ledger mutation attempts by entry type and outcome
// (applied, replayed, insufficient_balance, invalid, error).
var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credgate",
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Total ledger mutation attempts by entry type and outcome.",
}, []string{"type", "outcome"})

// ─── Trial Metrics ──────────────────────────────────────────────────────────

// TrialGrants counts trial grant/claim attempts by policy mode and the
// eligibility result they produced.
var TrialGrants = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credgate",
	Subsystem: "trial",
	Name:      "grants_total",
	Help:      "Total trial grant attempts by policy mode and eligibility result.",
}, []string{"mode", "eligibility"})

// ─── Abuse Metrics ──────────────────────────────────────────────────────────

// AbuseAssessments counts signup risk assessments by resulting tier.
var AbuseAssessments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credgate",
	Subsystem: "abuse",
	Name:      "assessments_total",
	Help:      "Total signup risk assessments by resulting credit tier.",
}, []string{"tier"})

// RiskScore observes the distribution of computed risk scores.
var RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "credgate",
	Subsystem: "abuse",
	Name:      "risk_score",
	Help:      "Distribution of signup risk scores (0-100).",
	Buckets:   []float64{0, 10, 20, 40, 60, 80, 100},
})

// CountersPurged counts velocity counter rows removed by the purge loop.
var CountersPurged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "credgate",
	Subsystem: "abuse",
	Name:      "counter_purge_total",
	Help:      "Total expired velocity counters removed by purge.",
})
