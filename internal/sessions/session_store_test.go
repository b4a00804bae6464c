package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/db"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionStore(t *testing.T, options ...SessionStoreOption) (*SessionStore, *db.RedisAdapter) {
	mr := miniredis.RunT(t)
	dbAdapter, err := db.NewRedisAdapter(db.WithRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbAdapter.Close() })
	sessionStoreOptions := []SessionStoreOption{
		WithSessionRepository(dbAdapter),
		WithConfig(config.SessionConfig{
			IdleSessionTTLSeconds: 3600,
			MaxSessionTTLSeconds:  7200,
			CookieNotSecure:       true,
		}),
	}
	sessionStore, err := NewSessionStore(append(sessionStoreOptions, options...)...)
	require.NoError(t, err)
	return sessionStore, dbAdapter
}

func setupEchoContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func TestNewSessionStoreInvalid(t *testing.T) {
	_, err := NewSessionStore(WithConfig(config.SessionConfig{IdleSessionTTLSeconds: 60}))
	assert.ErrorContains(t, err, "session repository is not initialized")

	_, err = NewSessionStore()
	assert.ErrorContains(t, err, "session maker is not initialized")
}

func TestCookie(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	session, err := sessionStore.sessionMaker.NewSession()
	require.NoError(t, err)

	cookie, err := sessionStore.cookie(session)
	require.NoError(t, err)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.Equal(t, session.ID, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
}

func TestCookieWithSigning(t *testing.T) {
	hashKey := securecookie.GenerateRandomKey(32)
	encodingKey := securecookie.GenerateRandomKey(32)
	sessionStore, _ := setupSessionStore(t, WithCookieHandler(securecookie.New(hashKey, encodingKey)))
	assert.NotNil(t, sessionStore.cookieHandler)
	session, err := sessionStore.sessionMaker.NewSession()
	require.NoError(t, err)

	cookie, err := sessionStore.cookie(session)
	require.NoError(t, err)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.NotEqual(t, session.ID, cookie.Value)

	cookieHandler := securecookie.New(hashKey, encodingKey)
	var decoded string = ""
	err = cookieHandler.Decode(SessionCookieName, cookie.Value, &decoded)
	require.NoError(t, err)
	assert.Equal(t, session.ID, decoded)
}

func TestCookieKeysFromConfig(t *testing.T) {
	sessionStore, _ := setupSessionStore(t, WithConfig(config.SessionConfig{
		IdleSessionTTLSeconds: 60,
		CookieHashKey:         config.RedactedString(securecookie.GenerateRandomKey(32)),
	}))
	assert.NotNil(t, sessionStore.cookieHandler)
	assert.True(t, sessionStore.cookieTemplate().Secure)
}

func TestGetSessionIDFromCookie(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	session, err := sessionStore.sessionMaker.NewSession()
	require.NoError(t, err)
	cookie, err := sessionStore.cookie(session)
	require.NoError(t, err)

	c, _ := setupEchoContext()
	c.Request().AddCookie(&cookie)

	sessionID, err := sessionStore.getSessionIDFromCookie(c)
	require.NoError(t, err)
	assert.Equal(t, session.ID, sessionID)
}

func TestGetSessionIDFromCookieCannotTamperWithSigning(t *testing.T) {
	hashKey := securecookie.GenerateRandomKey(32)
	sessionStore, _ := setupSessionStore(t, WithCookieHandler(securecookie.New(hashKey, nil)))
	session, err := sessionStore.sessionMaker.NewSession()
	require.NoError(t, err)
	cookie, err := sessionStore.cookie(session)
	require.NoError(t, err)
	cookie.Value = "fake-session-id"

	c, _ := setupEchoContext()
	c.Request().AddCookie(&cookie)

	sessionID, err := sessionStore.getSessionIDFromCookie(c)
	require.NoError(t, err)
	assert.Equal(t, "", sessionID)
}

func TestGetSessionIDFromCookieNoCookie(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)

	c, _ := setupEchoContext()

	sessionID, err := sessionStore.getSessionIDFromCookie(c)
	require.NoError(t, err)
	assert.Equal(t, "", sessionID)
}

func TestCreateSession(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	c, rec := setupEchoContext()

	session, err := sessionStore.Create(c)
	require.NoError(t, err)

	fromCtx, err := sessionStore.Get(c)
	require.NoError(t, err)
	assert.Equal(t, session, fromCtx)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, session.ID, cookies[0].Value)
}

func TestGetSessionNotFound(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	c, _ := setupEchoContext()

	_, err := sessionStore.Get(c)
	assert.ErrorIs(t, err, gwerrors.ErrSessionNotFound)

	c.Request().AddCookie(&http.Cookie{Name: SessionCookieName, Value: "unknown"})
	_, err = sessionStore.Get(c)
	assert.ErrorIs(t, err, gwerrors.ErrSessionNotFound)
}

func TestGetExpiredSession(t *testing.T) {
	sessionStore, dbAdapter := setupSessionStore(t)
	session := models.Session{
		ID:             "expired",
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
		ExpiresAt:      time.Now().UTC().Add(-time.Minute),
		IdleTTLSeconds: 60,
	}
	require.NoError(t, dbAdapter.SetSession(context.Background(), session))
	c, _ := setupEchoContext()
	c.Request().AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})

	_, err := sessionStore.Get(c)
	assert.Error(t, err)
}

func TestMiddlewareLoadsAndSavesSession(t *testing.T) {
	sessionStore, dbAdapter := setupSessionStore(t)
	ctx := context.Background()
	session := models.Session{
		ID:               "abcdef",
		CreatedAt:        time.Now().UTC().Add(-time.Minute),
		ExpiresAt:        time.Now().UTC().Add(time.Minute),
		IdleTTLSeconds:   3600,
		MaxTTLSeconds:    7200,
		LoginRedirectURL: "/app",
	}
	require.NoError(t, dbAdapter.SetSession(ctx, session))

	e := echo.New()
	e.Use(sessionStore.Middleware())
	e.GET("/", func(c echo.Context) error {
		loaded, err := sessionStore.Get(c)
		if err != nil {
			return err
		}
		loaded.LoginRedirectURL = "/changed"
		return c.String(http.StatusOK, loaded.ID)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ID, rec.Body.String())
	saved, err := dbAdapter.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "/changed", saved.LoginRedirectURL)
	assert.True(t, saved.ExpiresAt.After(session.ExpiresAt))
}

func TestMiddlewareWithoutSession(t *testing.T) {
	sessionStore, _ := setupSessionStore(t)
	e := echo.New()
	e.Use(sessionStore.Middleware())
	e.GET("/", func(c echo.Context) error {
		_, err := sessionStore.Get(c)
		assert.ErrorIs(t, err, gwerrors.ErrSessionNotFound)
		return c.NoContent(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	sessionStore, dbAdapter := setupSessionStore(t)
	ctx := context.Background()
	c, rec := setupEchoContext()
	session, err := sessionStore.Create(c)
	require.NoError(t, err)
	require.NoError(t, sessionStore.Save(c))
	_, err = dbAdapter.GetSession(ctx, session.ID)
	require.NoError(t, err)

	err = sessionStore.Delete(c)
	require.NoError(t, err)

	_, err = dbAdapter.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, gwerrors.ErrSessionNotFound)
	_, err = sessionStore.Get(c)
	assert.ErrorIs(t, err, gwerrors.ErrSessionNotFound)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, -1, cookies[1].MaxAge)
}
