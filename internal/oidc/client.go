// Package oidc starts the authorization code flow at the identity provider and exchanges the
// returned code for tokens.
package oidc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"github.com/zitadel/oidc/v2/pkg/client/rp"
	httphelper "github.com/zitadel/oidc/v2/pkg/http"
	"github.com/zitadel/oidc/v2/pkg/oidc"
)

type Client struct {
	client rp.RelyingParty
	id     string
}

func (c *Client) getCodeExchangeCallback(grantHandler models.GrantHandler) func(
	w http.ResponseWriter,
	r *http.Request,
	tokens *oidc.Tokens[*oidc.IDTokenClaims],
	state string,
	client rp.RelyingParty,
) {
	return func(
		w http.ResponseWriter,
		r *http.Request,
		tokens *oidc.Tokens[*oidc.IDTokenClaims],
		state string,
		client rp.RelyingParty,
	) {
		refreshExpiresIn, err := refreshTokenExpiresIn(tokens.Extra("refresh_expires_in"))
		if err != nil {
			// refresh_expires_in is not a standard field, it is only informational
			slog.Warn(
				"OIDC CLIENT",
				"message", "cannot parse expires_in of refresh token",
				"error", err,
				"requestID", r.Header.Get("X-Request-ID"),
			)
		}
		grant := models.Grant{
			AccessToken:      tokens.AccessToken,
			RefreshToken:     tokens.RefreshToken,
			IDToken:          tokens.IDToken,
			Provider:         c.ID(),
			ExpiresAt:        tokens.Expiry,
			RefreshExpiresIn: refreshExpiresIn,
		}
		slog.Debug("OIDC CLIENT", "message", "completed code exchange", "grant", grant, "requestID", r.Header.Get("X-Request-ID"))
		err = grantHandler(grant)
		var missingCredential *gwerrors.MissingCredentialError
		if errors.As(err, &missingCredential) {
			slog.Warn(
				"OIDC CLIENT",
				"message", "the identity provider did not issue all tokens",
				"error", err,
				"requestID", r.Header.Get("X-Request-ID"),
			)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if err != nil {
			slog.Error(
				"OIDC CLIENT",
				"message", "error when handling the authorization grant",
				"error", err,
				"requestID", r.Header.Get("X-Request-ID"),
			)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func refreshTokenExpiresIn(raw any) (int64, error) {
	switch value := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(value), nil
	case int:
		return int64(value), nil
	case int64:
		return value, nil
	case string:
		return strconv.ParseInt(value, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T for refresh_expires_in", raw)
	}
}

// AuthHandler returns a http handler that starts the login flow and redirects to the
// authorization page of the identity provider. The state value is generated and stored in the
// gateway session, the handler only forwards it.
func (c *Client) AuthHandler(state string) http.HandlerFunc {
	stateFunc := func() string {
		return state
	}
	return rp.AuthURLHandler(stateFunc, c.client)
}

// CodeExchangeHandler returns a http handler that receives the authorization code from the
// identity provider, swaps it for tokens and passes them to the grant handler.
func (c *Client) CodeExchangeHandler(grantHandler models.GrantHandler) http.HandlerFunc {
	return rp.CodeExchangeHandler(c.getCodeExchangeCallback(grantHandler), c.client)
}

func (c *Client) ID() string {
	return c.id
}

type ClientOption func(*Client) error

func WithProviderConfig(providerConfig config.ProviderConfig) ClientOption {
	validateConfig := func(providerConfig config.ProviderConfig) error {
		cookieEncKey := []byte(providerConfig.CookieEncodingKey)
		cookieHashKey := []byte(providerConfig.CookieHashKey)
		if len(cookieEncKey) > 0 && !(len(cookieEncKey) == 16 || len(cookieEncKey) == 32) {
			return fmt.Errorf(
				"invalid length for oauth2 state cookie encryption key, got %d, but allowed sizes are 16 or 32",
				len(cookieEncKey),
			)
		}
		if len(cookieHashKey) > 0 && len(cookieHashKey) != 32 {
			return fmt.Errorf(
				"invalid length for oauth2 state cookie hash key, got %d, allowed size is 32",
				len(cookieHashKey),
			)
		}
		return nil
	}
	makeClient := func(providerConfig config.ProviderConfig) (rp.RelyingParty, error) {
		options := []rp.Option{}
		if !providerConfig.UnsafeNoCookieHandler {
			cookieEncKey := []byte(providerConfig.CookieEncodingKey)
			cookieHashKey := []byte(providerConfig.CookieHashKey)
			if len(cookieEncKey) == 0 {
				cookieEncKey = nil
			}
			cookieHandler := httphelper.NewCookieHandler(cookieHashKey, cookieEncKey)
			options = append(options, rp.WithCookieHandler(cookieHandler))
			if providerConfig.UsePKCE {
				options = append(options, rp.WithPKCE(cookieHandler))
			}
		}
		return rp.NewRelyingPartyOIDC(
			providerConfig.IssuerBaseURL(),
			providerConfig.ClientID,
			string(providerConfig.ClientSecret),
			providerConfig.CallbackURI,
			providerConfig.Scopes,
			options...,
		)
	}
	return func(c *Client) error {
		err := validateConfig(providerConfig)
		if err != nil {
			return err
		}
		client, err := makeClient(providerConfig)
		if err != nil {
			return err
		}
		c.client = client
		c.id = providerConfig.ID
		return nil
	}
}

// WithRelyingParty uses an already configured relying party.
func WithRelyingParty(id string, relyingParty rp.RelyingParty) ClientOption {
	return func(c *Client) error {
		if relyingParty == nil {
			return fmt.Errorf("the relying party cannot be nil")
		}
		c.client = relyingParty
		c.id = id
		return nil
	}
}

func NewClient(options ...ClientOption) (*Client, error) {
	client := Client{}
	for _, opt := range options {
		err := opt(&client)
		if err != nil {
			return nil, err
		}
	}
	if client.client == nil {
		return nil, fmt.Errorf("the oidc client is not configured")
	}
	if client.id == "" {
		return nil, fmt.Errorf("the oidc client id cannot be empty")
	}
	return &client, nil
}
