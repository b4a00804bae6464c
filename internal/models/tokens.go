package models

import (
	"fmt"
	"time"
)

// TokenError marks a token record whose credentials can no longer be used.
type TokenError string

const (
	NoTokenError            TokenError = ""
	RefreshAccessTokenError TokenError = "RefreshAccessTokenError"
)

// TokenRecord is the set of OAuth tokens kept for one session. Records are treated as
// immutable values: every change produces a new record.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// Unix timestamp (seconds) at which the access token expires
	ExpiresAt int64
	Provider  string
	Error     TokenError
}

// Errored reports whether a refresh failed for this record. The access and refresh tokens of
// an errored record are stale and should not be used until the user logs in again.
func (t TokenRecord) Errored() bool {
	return t.Error != NoTokenError
}

// Expired reports whether the access token is expired at the given time.
func (t TokenRecord) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// String implements the Stringer interface for printing the token record in logs
func (t TokenRecord) String() string {
	return fmt.Sprintf(
		"TokenRecord<AccessToken: redacted, RefreshToken: redacted, IDToken: redacted, ExpiresAt: %d, Provider: %s, Error: %q>",
		t.ExpiresAt,
		t.Provider,
		t.Error,
	)
}

// Grant holds the tokens returned by a successful authorization code exchange (a login or re-login).
type Grant struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Provider     string
	// ExpiresAt is zero when the provider did not report an expiry for the access token
	ExpiresAt        time.Time
	RefreshExpiresIn int64
}

func (g Grant) String() string {
	return fmt.Sprintf(
		"Grant<AccessToken: redacted, RefreshToken: redacted, IDToken: redacted, ExpiresAt: %s, RefreshExpiresIn: %d, Provider: %s>",
		g.ExpiresAt,
		g.RefreshExpiresIn,
		g.Provider,
	)
}
