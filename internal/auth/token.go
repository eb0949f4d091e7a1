package auth

import (
	"time"
)

// TokenRecord holds the credentials obtained from a token-endpoint exchange
// or refresh. It is the unit persisted by the keystore and held in memory by
// the client between calls.
type TokenRecord struct {
	// AccessToken is the bearer credential sent on API requests.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens when the current one
	// expires. Empty when the provider did not issue one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the absolute instant the access token expires. The zero
	// value means the token never expires, per provider semantics.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// StoredAt is the instant the record was created or last refreshed.
	StoredAt time.Time `json:"stored_at"`
}

// Expired reports whether the access token is expired at the given instant.
// Records without an expiry never expire.
func (t *TokenRecord) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// TimeToExpiry returns the remaining lifetime of the access token at the
// given instant, and false when the token never expires.
func (t *TokenRecord) TimeToExpiry(now time.Time) (time.Duration, bool) {
	if t.ExpiresAt.IsZero() {
		return 0, false
	}
	return t.ExpiresAt.Sub(now), true
}
