// Package gwerrors contains all common errors used by the gateway.
package gwerrors

import (
	"context"
	"errors"
	"fmt"
)

var ErrSessionParse = fmt.Errorf("cannot parse session from context")
var ErrSessionNotFound = fmt.Errorf("cannot find the session")
var ErrSessionExpired = fmt.Errorf("the session is expired")
var ErrTokenNotFound = fmt.Errorf("the token cannot be found")
var ErrMissingDBResource = fmt.Errorf("the requested resource cannot be found in the DB")

// ErrNoSession is returned when tokens are reconciled without an existing token record
// and without a fresh authorization grant.
var ErrNoSession = fmt.Errorf("there is no token record to reconcile and no authorization grant")

// ErrRefreshAccessToken is the error every RefreshError matches with errors.Is.
var ErrRefreshAccessToken = fmt.Errorf("RefreshAccessTokenError")

// MissingCredentialError is returned when the identity provider completed an authorization
// exchange without one of the required tokens.
type MissingCredentialError struct {
	Field string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("auth provider missing %s", e.Field)
}

// RefreshError is returned when exchanging a refresh token for a new access token fails.
type RefreshError struct {
	// StatusCode is the HTTP status returned by the token endpoint, 0 when no response was received.
	StatusCode int
	Err        error
	timeout    bool
}

func NewRefreshError(statusCode int, err error) *RefreshError {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &RefreshError{
		StatusCode: statusCode,
		Err:        err,
		timeout:    timeout,
	}
}

func (e *RefreshError) Error() string {
	switch {
	case e.timeout:
		return fmt.Sprintf("%s: timed out: %v", ErrRefreshAccessToken, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: token endpoint returned status %d: %v", ErrRefreshAccessToken, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", ErrRefreshAccessToken, e.Err)
	}
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshAccessToken, e.Err}
}

// Timeout reports whether the refresh failed because the request was cancelled or ran out of time.
func (e *RefreshError) Timeout() bool {
	return e.timeout
}
