// Package sessions keeps the server side session of a browser in the request context and
// persists it after every request.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/utils"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
)

type SessionStore struct {
	cookieTemplate func() http.Cookie
	cookieHandler  *securecookie.SecureCookie
	sessionMaker   SessionMaker
	sessionRepo    models.SessionRepository
}

func (sessions *SessionStore) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, loadErr := sessions.Get(c)
			if loadErr != nil && !errors.Is(loadErr, gwerrors.ErrSessionNotFound) && !errors.Is(loadErr, gwerrors.ErrSessionExpired) {
				slog.Info(
					"SESSION MIDDLEWARE",
					"message",
					"could not load session",
					"error",
					loadErr,
					"requestID",
					utils.GetRequestID(c),
				)
			}
			if loadErr == nil {
				c.Set(SessionCtxKey, session)
			}
			err := next(c)
			saveErr := sessions.Save(c)
			if saveErr != nil && !errors.Is(saveErr, gwerrors.ErrSessionNotFound) && !errors.Is(saveErr, gwerrors.ErrSessionExpired) {
				slog.Info(
					"SESSION MIDDLEWARE",
					"message",
					"could not save session",
					"error",
					saveErr,
					"requestID",
					utils.GetRequestID(c),
				)
			}
			return err
		}
	}
}

// getFromContext retrieves a session from the current context
func (sessions *SessionStore) getFromContext(c echo.Context) (*models.Session, error) {
	sessionRaw := c.Get(SessionCtxKey)
	if sessionRaw == nil {
		return &models.Session{}, gwerrors.ErrSessionNotFound
	}
	session, ok := sessionRaw.(*models.Session)
	if !ok {
		return &models.Session{}, gwerrors.ErrSessionParse
	}
	if session == nil || session.ID == "" {
		return &models.Session{}, gwerrors.ErrSessionNotFound
	}
	if session.Expired() {
		return &models.Session{}, gwerrors.ErrSessionExpired
	}
	return session, nil
}

// Get returns the session of the current request, loading it from the repository when it is
// not in the request context yet. Loading a session extends its idle expiry.
func (sessions *SessionStore) Get(c echo.Context) (*models.Session, error) {
	session, err := sessions.getFromContext(c)
	if err == nil {
		return session, nil
	}

	sessionID, err := sessions.getSessionIDFromCookie(c)
	if err != nil {
		return &models.Session{}, err
	}
	if sessionID == "" {
		return &models.Session{}, gwerrors.ErrSessionNotFound
	}

	sessionFromStore, err := sessions.sessionRepo.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return &models.Session{}, err
	}
	session = &sessionFromStore
	if session.Expired() {
		return &models.Session{}, gwerrors.ErrSessionExpired
	}
	session.Touch()
	return session, nil
}

// Create will create a new session and set the session cookie.
func (sessions *SessionStore) Create(c echo.Context) (*models.Session, error) {
	session, err := sessions.sessionMaker.NewSession()
	if err != nil {
		return &models.Session{}, err
	}
	cookie, err := sessions.cookie(session)
	if err != nil {
		return &models.Session{}, err
	}
	c.Set(SessionCtxKey, &session)
	c.SetCookie(&cookie)
	return &session, nil
}

func (sessions *SessionStore) Save(c echo.Context) error {
	session, err := sessions.getFromContext(c)
	if err != nil {
		return err
	}
	return sessions.sessionRepo.SetSession(c.Request().Context(), *session)
}

// Delete removes the session from the repository and clears the session cookie.
func (sessions *SessionStore) Delete(c echo.Context) error {
	sessionID, err := sessions.getSessionIDFromCookie(c)
	if err != nil {
		return err
	}
	if session, ctxErr := sessions.getFromContext(c); ctxErr == nil {
		sessionID = session.ID
	}

	newCookie := sessions.cookieTemplate()
	newCookie.MaxAge = -1
	c.SetCookie(&newCookie)

	c.Set(SessionCtxKey, &models.Session{})

	if sessionID == "" {
		return nil
	}
	return sessions.sessionRepo.RemoveSession(c.Request().Context(), sessionID)
}

func (sessions *SessionStore) cookie(session models.Session) (http.Cookie, error) {
	cookie := sessions.cookieTemplate()
	if sessions.cookieHandler == nil {
		cookie.Value = session.ID
		return cookie, nil
	}
	encoded, err := sessions.cookieHandler.Encode(SessionCookieName, session.ID)
	if err != nil {
		return http.Cookie{}, err
	}
	cookie.Value = encoded
	return cookie, nil
}

// getSessionIDFromCookie returns an empty string when there is no cookie or when the cookie
// value cannot be verified.
func (sessions *SessionStore) getSessionIDFromCookie(c echo.Context) (string, error) {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		return "", err
	}
	if sessions.cookieHandler == nil {
		return cookie.Value, nil
	}
	var sessionID string
	err = sessions.cookieHandler.Decode(SessionCookieName, cookie.Value, &sessionID)
	if err != nil {
		slog.Debug("SESSION MIDDLEWARE", "message", "could not decode session cookie", "error", err, "requestID", utils.GetRequestID(c))
		return "", nil
	}
	return sessionID, nil
}

type SessionStoreOption func(*SessionStore) error

func WithSessionRepository(repo models.SessionRepository) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.sessionRepo = repo
		return nil
	}
}

func WithCookieTemplate(cookieTemplate func() http.Cookie) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.cookieTemplate = cookieTemplate
		return nil
	}
}

func WithCookieHandler(cookieHandler *securecookie.SecureCookie) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.cookieHandler = cookieHandler
		return nil
	}
}

func WithConfig(c config.SessionConfig) SessionStoreOption {
	return func(sessions *SessionStore) error {
		sessions.sessionMaker = NewSessionMaker(WithIdleSessionTTLSeconds(c.IdleSessionTTLSeconds), WithMaxSessionTTLSeconds(c.MaxSessionTTLSeconds))
		if len(c.CookieHashKey) > 0 {
			var encodingKey []byte
			if len(c.CookieEncodingKey) > 0 {
				encodingKey = []byte(c.CookieEncodingKey)
			}
			sessions.cookieHandler = securecookie.New([]byte(c.CookieHashKey), encodingKey)
			sessions.cookieHandler.MaxAge(c.MaxSessionTTLSeconds)
		}
		sessions.cookieTemplate = defaultCookieTemplate
		if c.CookieNotSecure {
			sessions.cookieTemplate = func() http.Cookie {
				cookie := defaultCookieTemplate()
				cookie.Secure = false
				return cookie
			}
		}
		return nil
	}
}

func defaultCookieTemplate() http.Cookie {
	return http.Cookie{
		Name:     SessionCookieName,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func NewSessionStore(options ...SessionStoreOption) (*SessionStore, error) {
	sessions := SessionStore{
		cookieTemplate: defaultCookieTemplate,
	}
	for _, opt := range options {
		err := opt(&sessions)
		if err != nil {
			return &SessionStore{}, err
		}
	}
	if sessions.cookieTemplate == nil {
		return &SessionStore{}, fmt.Errorf("cookie template is not initialized")
	}
	if sessions.sessionMaker == nil {
		return &SessionStore{}, fmt.Errorf("session maker is not initialized")
	}
	if sessions.sessionRepo == nil {
		return &SessionStore{}, fmt.Errorf("session repository is not initialized")
	}
	return &sessions, nil
}
