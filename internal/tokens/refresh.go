package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strconv"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/metrics"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"golang.org/x/oauth2"
)

// Refresh exchanges the refresh token of the record for a new set of tokens at the token
// endpoint of the identity provider. It makes exactly one request and does not retry. All
// failures are returned as *gwerrors.RefreshError.
func (m *Manager) Refresh(ctx context.Context, current models.TokenRecord) (models.TokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	// the oauth2 package picks up the http client from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	// the access token is left empty so that the token source always refreshes
	expired := &oauth2.Token{RefreshToken: current.RefreshToken}
	token, err := m.oauthConfig.TokenSource(ctx, expired).Token()
	if err != nil {
		statusCode := 0
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			statusCode = retrieveErr.Response.StatusCode
		}
		refreshErr := gwerrors.NewRefreshError(statusCode, err)
		if refreshErr.Timeout() {
			metrics.RefreshObserved(metrics.ResultTimeout)
		} else {
			metrics.RefreshObserved(metrics.ResultFailure)
		}
		return models.TokenRecord{}, refreshErr
	}

	now := m.now()
	expiresIn, _ := extraSeconds(token, "expires_in")
	refreshExpiresIn, _ := extraSeconds(token, "refresh_expires_in")
	expiresAt := int64(math.Floor(float64(now.UnixMilli())/1000 + expiresIn))

	// keycloak rotates the refresh token and sends a new ID token on refresh, keep the previous
	// values if it did not
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}
	idToken := current.IDToken
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken = rawIDToken
	}

	slog.Info(
		"TOKEN MANAGER",
		"message", "token was refreshed",
		"expiresIn", expiresIn,
		"expiresAt", expiresAt,
		"refreshExpiresIn", refreshExpiresIn,
	)
	metrics.RefreshObserved(metrics.ResultSuccess)
	return models.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
		ExpiresAt:    expiresAt,
		Provider:     current.Provider,
	}, nil
}

// extraSeconds reads a duration in seconds from the raw token response. JSON numbers are
// decoded as float64 by the oauth2 package but some providers send strings.
func extraSeconds(token *oauth2.Token, key string) (float64, bool) {
	switch value := token.Extra(key).(type) {
	case float64:
		return value, true
	case int64:
		return float64(value), true
	case int:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
