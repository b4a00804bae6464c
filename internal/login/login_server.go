// Package login serves the login, callback, session, token and logout endpoints of the gateway.
package login

import (
	"fmt"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/sessions"
	"github.com/labstack/echo/v4"
)

type LoginServer struct {
	config    *config.LoginConfig
	provider  models.OIDCProvider
	tokens    TokenManager
	sessions  *sessions.SessionStore
	tokenRepo models.TokenRecordRepository
}

func (l *LoginServer) RegisterHandlers(server *echo.Echo, commonMiddlewares ...echo.MiddlewareFunc) {
	e := server.Group(l.config.EndpointsBasePath)
	e.Use(commonMiddlewares...)
	e.Use(l.sessions.Middleware())

	e.GET("/login", l.GetLogin, NoCaching)
	e.GET("/callback", l.GetCallback, NoCaching)
	e.GET("/session", l.GetSession, NoCaching)
	e.GET("/token", l.GetToken, NoCaching)
	e.GET("/logout", l.GetLogout, NoCaching)
}

type LoginServerOption func(*LoginServer) error

func WithConfig(loginConfig config.LoginConfig) LoginServerOption {
	return func(l *LoginServer) error {
		l.config = &loginConfig
		return nil
	}
}

func WithProvider(provider models.OIDCProvider) LoginServerOption {
	return func(l *LoginServer) error {
		l.provider = provider
		return nil
	}
}

func WithTokenManager(tokens TokenManager) LoginServerOption {
	return func(l *LoginServer) error {
		l.tokens = tokens
		return nil
	}
}

func WithSessionStore(sessions *sessions.SessionStore) LoginServerOption {
	return func(l *LoginServer) error {
		l.sessions = sessions
		return nil
	}
}

func WithTokenRepository(repo models.TokenRecordRepository) LoginServerOption {
	return func(l *LoginServer) error {
		l.tokenRepo = repo
		return nil
	}
}

// NewLoginServer creates a new LoginServer that handles the callbacks from the identity provider
// and initiates the login flow for users.
func NewLoginServer(options ...LoginServerOption) (*LoginServer, error) {
	server := LoginServer{}
	for _, opt := range options {
		err := opt(&server)
		if err != nil {
			return &LoginServer{}, err
		}
	}
	if server.config == nil {
		return &LoginServer{}, fmt.Errorf("login server config not provided")
	}
	if server.provider == nil {
		return &LoginServer{}, fmt.Errorf("OIDC provider not initialized")
	}
	if server.tokens == nil {
		return &LoginServer{}, fmt.Errorf("token manager not initialized")
	}
	if server.sessions == nil {
		return &LoginServer{}, fmt.Errorf("session store not initialized")
	}
	if server.tokenRepo == nil {
		return &LoginServer{}, fmt.Errorf("token repository is not initialized")
	}
	return &server, nil
}
