package model

import "time"

// ResetToken is one password-reset grant.
//
// Only TokenHash (hex SHA-256 of the emailed secret) is stored; the raw
// secret exists solely in the email. A token is live while UsedAt is nil
// and the current time is before ExpiresAt.
type ResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// IsLive reports whether the token can still be redeemed at now.
func (t *ResetToken) IsLive(now time.Time) bool {
	return t != nil && t.UsedAt == nil && now.Before(t.ExpiresAt)
}
