// Package tokens manages the lifecycle of the OAuth tokens of a session: capturing them on
// login, refreshing the access token when it expires and ending the provider session on logout.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshTimeout time.Duration = 10 * time.Second
	defaultLogoutTimeout  time.Duration = 5 * time.Second
	tokenEndpointPath     string        = "/protocol/openid-connect/token"
	logoutEndpointPath    string        = "/protocol/openid-connect/logout"
)

// Manager decides which token record should be kept for a session. It holds no per-session
// state, so a single Manager is shared by all requests.
type Manager struct {
	providerID     string
	issuer         string
	oauthConfig    *oauth2.Config
	httpClient     *http.Client
	now            func() time.Time
	refreshTimeout time.Duration
	logoutTimeout  time.Duration
	refreshGroup   *singleflight.Group
}

// Reconcile returns the token record that should be persisted for the session. A fresh grant
// always wins and produces a new record. Without a grant the current record is returned as is
// while its access token is valid, and refreshed once it has expired. A failed refresh does not
// return an error: the previous record is returned with its Error field set.
func (m *Manager) Reconcile(ctx context.Context, current *models.TokenRecord, grant *models.Grant) (models.TokenRecord, error) {
	if grant != nil {
		return recordFromGrant(*grant)
	}
	if current == nil {
		return models.TokenRecord{}, gwerrors.ErrNoSession
	}
	if current.Errored() {
		slog.Debug("TOKEN MANAGER", "message", "token record is errored, a new login is required", "token", *current)
		return *current, nil
	}
	now := m.now()
	if !current.Expired(now) {
		return *current, nil
	}
	slog.Info("TOKEN MANAGER", "message", "access token expired", "expiresAt", current.ExpiresAt, "now", now.Unix())
	refreshed, err := m.sharedRefresh(ctx, *current)
	if err != nil {
		slog.Error("TOKEN MANAGER", "message", "error refreshing access token", "error", err)
		errored := *current
		errored.Error = models.RefreshAccessTokenError
		return errored, nil
	}
	return refreshed, nil
}

func recordFromGrant(grant models.Grant) (models.TokenRecord, error) {
	if grant.AccessToken == "" {
		return models.TokenRecord{}, &gwerrors.MissingCredentialError{Field: "access token"}
	}
	if grant.RefreshToken == "" {
		return models.TokenRecord{}, &gwerrors.MissingCredentialError{Field: "refresh token"}
	}
	if grant.IDToken == "" {
		return models.TokenRecord{}, &gwerrors.MissingCredentialError{Field: "ID token"}
	}
	var expiresAt int64
	if !grant.ExpiresAt.IsZero() {
		expiresAt = grant.ExpiresAt.Unix()
	}
	return models.TokenRecord{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IDToken:      grant.IDToken,
		ExpiresAt:    expiresAt,
		Provider:     grant.Provider,
	}, nil
}

// sharedRefresh collapses concurrent refreshes of the same refresh token into one call to the
// identity provider when single flight is enabled. Every caller still waits on its own context.
func (m *Manager) sharedRefresh(ctx context.Context, current models.TokenRecord) (models.TokenRecord, error) {
	if m.refreshGroup == nil {
		return m.Refresh(ctx, current)
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := m.refreshGroup.DoChan(current.RefreshToken, func() (any, error) {
		return m.Refresh(flightCtx, current)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.TokenRecord{}, res.Err
		}
		record, ok := res.Val.(models.TokenRecord)
		if !ok {
			return models.TokenRecord{}, gwerrors.NewRefreshError(0, fmt.Errorf("unexpected refresh result %T", res.Val))
		}
		return record, nil
	case <-ctx.Done():
		return models.TokenRecord{}, gwerrors.NewRefreshError(0, ctx.Err())
	}
}

func (m *Manager) tokenEndpoint() string {
	return m.issuer + tokenEndpointPath
}

func (m *Manager) logoutEndpoint() string {
	return m.issuer + logoutEndpointPath
}

type ManagerOption func(*Manager) error

func WithProviderConfig(providerConfig config.ProviderConfig) ManagerOption {
	return func(m *Manager) error {
		m.providerID = providerConfig.ID
		m.issuer = providerConfig.IssuerBaseURL()
		m.oauthConfig = &oauth2.Config{
			ClientID:     providerConfig.ClientID,
			ClientSecret: string(providerConfig.ClientSecret),
			Scopes:       providerConfig.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  m.tokenEndpoint(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		return nil
	}
}

func WithRefreshConfig(refreshConfig config.RefreshConfig) ManagerOption {
	return func(m *Manager) error {
		if refreshConfig.TimeoutSeconds > 0 {
			m.refreshTimeout = refreshConfig.Timeout()
		}
		if refreshConfig.LogoutTimeoutSeconds > 0 {
			m.logoutTimeout = refreshConfig.LogoutTimeout()
		}
		if refreshConfig.SingleFlight {
			m.refreshGroup = &singleflight.Group{}
		} else {
			m.refreshGroup = nil
		}
		return nil
	}
}

func WithRefreshTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid refresh timeout %s", timeout)
		}
		m.refreshTimeout = timeout
		return nil
	}
}

func WithSingleFlight(enabled bool) ManagerOption {
	return func(m *Manager) error {
		if enabled {
			m.refreshGroup = &singleflight.Group{}
		} else {
			m.refreshGroup = nil
		}
		return nil
	}
}

func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) error {
		if client == nil {
			return fmt.Errorf("the http client cannot be nil")
		}
		m.httpClient = client
		return nil
	}
}

// WithClock replaces the source of the current time, used to decide when access tokens expire.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if now == nil {
			return fmt.Errorf("the clock cannot be nil")
		}
		m.now = now
		return nil
	}
}

// NewManager creates the token lifecycle manager for the configured identity provider.
func NewManager(options ...ManagerOption) (*Manager, error) {
	m := Manager{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
		logoutTimeout:  defaultLogoutTimeout,
		refreshGroup:   &singleflight.Group{},
	}
	for _, opt := range options {
		err := opt(&m)
		if err != nil {
			return nil, err
		}
	}
	if m.oauthConfig == nil {
		return nil, errors.New("the identity provider is not configured")
	}
	if m.providerID == "" {
		return nil, errors.New("the identity provider id cannot be empty")
	}
	if m.issuer == "" {
		return nil, fmt.Errorf("the issuer of provider %s cannot be empty", m.providerID)
	}
	if m.oauthConfig.ClientID == "" {
		return nil, fmt.Errorf("the client id of provider %s cannot be empty", m.providerID)
	}
	return &m, nil
}
