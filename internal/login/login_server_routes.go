package login

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/utils"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string `json:"error"`
}

type sessionResponse struct {
	ExpiresAt int64         `json:"expiresAt"`
	Provider  string        `json:"provider"`
	Error     string        `json:"error,omitempty"`
	User      *userResponse `json:"user,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

var errUnauthorized = errorResponse{Error: "unauthorized"}

// GetLogin starts a new session and redirects the browser to the identity provider.
func (l *LoginServer) GetLogin(c echo.Context) error {
	appRedirectURL := l.appRedirectURL(c)
	// a re-login keeps the session, the new grant replaces its token record
	session, err := l.sessions.Get(c)
	if err != nil {
		session, err = l.sessions.Create(c)
		if err != nil {
			return err
		}
	}
	session.LoginRedirectURL = appRedirectURL
	err = session.GenerateLoginState()
	if err != nil {
		return err
	}
	// persist the session before redirecting, the callback may arrive before the middleware saves it
	err = l.sessions.Save(c)
	if err != nil {
		return err
	}
	return echo.WrapHandler(l.provider.AuthHandler(session.LoginState))(c)
}

// GetCallback exchanges the authorization code and stores the resulting token record.
func (l *LoginServer) GetCallback(c echo.Context) error {
	session, err := l.sessions.Get(c)
	if err != nil {
		slog.Info("LOGIN SERVER", "message", "callback without a session", "error", err, "requestID", utils.GetRequestID(c))
		return c.JSON(http.StatusUnauthorized, errUnauthorized)
	}
	if session.LoginState == "" || c.QueryParam("state") != session.LoginState {
		slog.Info("LOGIN SERVER", "message", "callback state does not match the session", "sessionID", session.ID, "requestID", utils.GetRequestID(c))
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid state"})
	}
	ctx := c.Request().Context()
	exchanged := false
	grantHandler := func(grant models.Grant) error {
		current, err := l.currentRecord(c, session.ID)
		if err != nil {
			return err
		}
		record, err := l.tokens.Reconcile(ctx, current, &grant)
		if err != nil {
			return err
		}
		err = l.tokenRepo.SetTokenRecord(ctx, session.ID, record, session.ExpiresAt)
		if err != nil {
			return err
		}
		exchanged = true
		return nil
	}
	err = echo.WrapHandler(l.provider.CodeExchangeHandler(grantHandler))(c)
	if err != nil {
		return err
	}
	if !exchanged {
		// the code exchange handler already wrote the error response
		return nil
	}
	redirectURL := session.LoginRedirectURL
	if redirectURL == "" {
		redirectURL = l.config.DefaultAppRedirectURL
	}
	session.LoginState = ""
	session.LoginRedirectURL = ""
	slog.Info("LOGIN SERVER", "message", "login completed", "sessionID", session.ID, "requestID", utils.GetRequestID(c))
	return c.Redirect(http.StatusFound, redirectURL)
}

// GetSession returns the state of the current session after the access token has been
// refreshed if needed.
func (l *LoginServer) GetSession(c echo.Context) error {
	record, ok, err := l.reconcileSession(c)
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusUnauthorized, errUnauthorized)
	}
	res := sessionResponse{
		ExpiresAt: record.ExpiresAt,
		Provider:  record.Provider,
		Error:     string(record.Error),
	}
	user, err := userFromIDToken(record.IDToken)
	if err != nil {
		slog.Warn("LOGIN SERVER", "message", "cannot read the claims of the ID token", "error", err, "requestID", utils.GetRequestID(c))
	} else {
		res.User = &user
	}
	return c.JSON(http.StatusOK, res)
}

// GetToken returns a valid access token for the current session.
func (l *LoginServer) GetToken(c echo.Context) error {
	record, ok, err := l.reconcileSession(c)
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusUnauthorized, errUnauthorized)
	}
	if record.Errored() {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: string(record.Error)})
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: record.AccessToken, ExpiresAt: record.ExpiresAt})
}

// GetLogout ends the session at the identity provider, removes the tokens and the session and
// redirects to the application.
func (l *LoginServer) GetLogout(c echo.Context) error {
	redirectURL := l.appRedirectURL(c)
	err := l.removeSession(c)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, redirectURL)
}

// reconcileSession loads the token record of the current session and reconciles it. The boolean
// is false when there is no logged in session.
func (l *LoginServer) reconcileSession(c echo.Context) (models.TokenRecord, bool, error) {
	session, err := l.sessions.Get(c)
	if err != nil {
		return models.TokenRecord{}, false, nil
	}
	current, err := l.currentRecord(c, session.ID)
	if err != nil {
		return models.TokenRecord{}, false, err
	}
	ctx := c.Request().Context()
	record, err := l.tokens.Reconcile(ctx, current, nil)
	if errors.Is(err, gwerrors.ErrNoSession) {
		return models.TokenRecord{}, false, nil
	}
	if err != nil {
		return models.TokenRecord{}, false, err
	}
	if record != *current {
		err = l.tokenRepo.SetTokenRecord(ctx, session.ID, record, session.ExpiresAt)
		if err != nil {
			return models.TokenRecord{}, false, err
		}
	}
	return record, true, nil
}

// currentRecord returns nil when the session has no token record.
func (l *LoginServer) currentRecord(c echo.Context, sessionID string) (*models.TokenRecord, error) {
	record, err := l.tokenRepo.GetTokenRecord(c.Request().Context(), sessionID)
	if errors.Is(err, gwerrors.ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *LoginServer) removeSession(c echo.Context) error {
	session, err := l.sessions.Get(c)
	if err == nil {
		ctx := c.Request().Context()
		current, err := l.currentRecord(c, session.ID)
		if err != nil {
			return err
		}
		if current != nil {
			l.tokens.FinalizeLogout(ctx, *current)
			err = l.tokenRepo.RemoveTokenRecord(ctx, session.ID)
			if err != nil {
				return err
			}
		}
	}
	return l.sessions.Delete(c)
}
