package model

import "time"

const VerificationCodeTTL = 30 * time.Minute

type PendingCode struct {
	Email     string    `db:"email" json:"email"`
	Code      string    `db:"code" json:"code"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	RequestID string    `db:"request_id" json:"requestId"`
}

// Expired reports whether the code is no longer valid at now. A code is
// invalid at or after its expiry instant.
func (c *PendingCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
