package model

import "time"

// OAuthToken is the shared credential of the social-posting integration.
// There is one row per provider, not per user: every vendor's announcements
// are posted from the same connected account.
type OAuthToken struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	// ExpiresAt is zero when the provider did not send expires_in.
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the access token is past its expiry, treating a
// token as expired leeway early so an in-flight call doesn't race the deadline.
func (t *OAuthToken) Expired(now time.Time, leeway time.Duration) bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(t.ExpiresAt)
}
