package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/credgate/credgate/internal/domain"
)

// ─── Signup Risk Records ────────────────────────────────────────────────────

// UpsertSignupRisk inserts the account's risk record or refreshes the score,
// tier, and reasons if a record already exists. Verification flags are
// preserved on conflict — a re-assessment never undoes a completed
// verification.
func (db *DB) UpsertSignupRisk(rec domain.SignupRiskRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.db.Exec(`
		INSERT INTO signup_risk
			(account_id, ip, device_fingerprint, user_agent, email_domain,
			 risk_score, credit_tier, reasons, phone_verified, captcha_verified,
			 identity_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			risk_score  = excluded.risk_score,
			credit_tier = excluded.credit_tier,
			reasons     = excluded.reasons,
			updated_at  = excluded.updated_at
	`, rec.AccountID, rec.IP, rec.DeviceFingerprint, rec.UserAgent, rec.EmailDomain,
		rec.RiskScore, string(rec.Tier), joinReasons(rec.Reasons),
		boolToInt(rec.PhoneVerified), boolToInt(rec.CaptchaVerified),
		boolToInt(rec.IdentityVerified), createdAt.Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("%w: upsert signup risk: %v", domain.ErrPersistence, err)
	}
	return nil
}

// GetSignupRisk returns the account's risk record, or nil if none exists.
func (db *DB) GetSignupRisk(accountID string) (*domain.SignupRiskRecord, error) {
	var rec domain.SignupRiskRecord
	var tier, reasons, createdStr, updatedStr string
	var phone, captcha, identity int
	err := db.db.QueryRow(`
		SELECT account_id, ip, device_fingerprint, user_agent, email_domain,
		       risk_score, credit_tier, reasons, phone_verified, captcha_verified,
		       identity_verified, created_at, updated_at
		FROM signup_risk WHERE account_id = ?
	`, accountID).Scan(&rec.AccountID, &rec.IP, &rec.DeviceFingerprint, &rec.UserAgent,
		&rec.EmailDomain, &rec.RiskScore, &tier, &reasons, &phone, &captcha,
		&identity, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get signup risk: %v", domain.ErrPersistence, err)
	}
	rec.Tier = domain.CreditTier(tier)
	rec.Reasons = splitReasons(reasons)
	rec.PhoneVerified = phone == 1
	rec.CaptchaVerified = captcha == 1
	rec.IdentityVerified = identity == 1
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &rec, nil
}

// SetVerification marks one verification channel complete on the record.
func (db *DB) SetVerification(accountID string, kind domain.VerificationKind) error {
	var column string
	switch kind {
	case domain.VerifyPhone:
		column = "phone_verified"
	case domain.VerifyCaptcha:
		column = "captcha_verified"
	case domain.VerifyIdentity:
		column = "identity_verified"
	default:
		return domain.ErrValidation
	}
	res, err := db.db.Exec(`
		UPDATE signup_risk SET `+column+` = 1, updated_at = ? WHERE account_id = ?
	`, time.Now().UTC().Format(time.RFC3339), accountID)
	if err != nil {
		return fmt.Errorf("%w: set verification: %v", domain.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no risk record for account %s", domain.ErrPersistence, accountID)
	}
	return nil
}

// UpdateRiskTier rewrites the account's credit tier (e.g. a throttled
// account upgraded after verification plus good behavior).
func (db *DB) UpdateRiskTier(accountID string, tier domain.CreditTier) error {
	_, err := db.db.Exec(`
		UPDATE signup_risk SET credit_tier = ?, updated_at = ? WHERE account_id = ?
	`, string(tier), time.Now().UTC().Format(time.RFC3339), accountID)
	if err != nil {
		return fmt.Errorf("%w: update tier: %v", domain.ErrPersistence, err)
	}
	return nil
}

func joinReasons(reasons []domain.SuspicionReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func splitReasons(s string) []domain.SuspicionReason {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	reasons := make([]domain.SuspicionReason, len(parts))
	for i, p := range parts {
		reasons[i] = domain.SuspicionReason(p)
	}
	return reasons
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ─── Abuse Counters ─────────────────────────────────────────────────────────
// DB implements abuse.CounterStore, so multi-instance deployments can share
// fingerprint/IP reuse counts and subnet-velocity buckets through the
// database instead of per-process memory.

// Increment bumps the counter for key and returns the new count. An expired
// row restarts at 1 with the fresh expiry; a live row keeps its original
// expiry so a counter's retention window never extends.
func (db *DB) Increment(key string, now, expiresAt time.Time) (int64, error) {
	var count int64
	err := db.db.QueryRow(`
		INSERT INTO abuse_counters (key, count, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count      = CASE WHEN expires_at <= ?3 THEN 1 ELSE count + 1 END,
			expires_at = CASE WHEN expires_at <= ?3 THEN ?2 ELSE expires_at END
		RETURNING count
	`, key, expiresAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: increment counter: %v", domain.ErrPersistence, err)
	}
	return count, nil
}

// Count returns the counter value for key, treating expired rows as zero.
func (db *DB) Count(key string, now time.Time) (int64, error) {
	var count int64
	err := db.db.QueryRow(`
		SELECT count FROM abuse_counters WHERE key = ? AND expires_at > ?
	`, key, now.UTC().Format(time.RFC3339)).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read counter: %v", domain.ErrPersistence, err)
	}
	return count, nil
}

// Purge deletes expired counters and returns how many were removed.
func (db *DB) Purge(now time.Time) (int, error) {
	res, err := db.db.Exec(`
		DELETE FROM abuse_counters WHERE expires_at <= ?
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("%w: purge counters: %v", domain.ErrPersistence, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
