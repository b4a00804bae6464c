package login

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

const (
	testRealmPath    string = "/realms/test"
	testClientID     string = "gateway"
	testClientSecret        = "client-secret-value"
	testKeyID        string = "test-key"
)

// testAuthServer is a simple oauth2 server which mocks/implements the same functionality
// provided by a Keycloak realm and needed for testing.
type testAuthServer struct {
	Authorized  bool
	CallbackURI string
	// RefreshStatus is the status code returned for refresh token grants
	RefreshStatus int
	// RefreshResponse is returned for refresh token grants when RefreshStatus is 200
	RefreshResponse map[string]any

	key           *rsa.PrivateKey
	server        *httptest.Server
	refreshCalls  atomic.Int32
	logoutCalls   atomic.Int32
	mu            sync.Mutex
	issuedIDToken string
	refreshTokens []string
	logoutHints   []string
}

func newTestAuthServer(t *testing.T, callbackURI string) *testAuthServer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s := &testAuthServer{
		Authorized:    true,
		CallbackURI:   callbackURI,
		RefreshStatus: http.StatusOK,
		key:           key,
	}
	e := echo.New()
	realm := e.Group(testRealmPath)
	realm.GET("/.well-known/openid-configuration", s.wktEndpoint)
	realm.GET("/protocol/openid-connect/auth", s.authorizeEndpoint)
	realm.GET("/protocol/openid-connect/certs", s.jwksEndpoint)
	realm.POST("/protocol/openid-connect/token", s.tokenEndpoint)
	realm.GET("/protocol/openid-connect/logout", s.logoutEndpoint)
	s.server = httptest.NewServer(e)
	t.Cleanup(s.server.Close)
	return s
}

func (s *testAuthServer) issuer() string {
	return s.server.URL + testRealmPath
}

func (s *testAuthServer) ProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		ID:                    "keycloak",
		Issuer:                s.issuer(),
		ClientID:              testClientID,
		ClientSecret:          testClientSecret,
		Scopes:                []string{"openid", "email", "profile", "offline_access"},
		CallbackURI:           s.CallbackURI,
		UnsafeNoCookieHandler: true,
	}
}

func (s *testAuthServer) wktEndpoint(c echo.Context) error {
	type wkt struct {
		Issuer                string   `json:"issuer,omitempty"`
		AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
		TokenEndpoint         string   `json:"token_endpoint,omitempty"`
		JWKSUri               string   `json:"jwks_uri,omitempty"`
		EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
		ResponseTypesSup      []string `json:"response_types_supported,omitempty"`
		SubjectTypes          []string `json:"subject_types_supported,omitempty"`
		IdTokenSignAlgs       []string `json:"id_token_signing_alg_values_supported,omitempty"`
	}
	issuer := s.issuer()
	res := wkt{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/protocol/openid-connect/auth",
		TokenEndpoint:         issuer + "/protocol/openid-connect/token",
		JWKSUri:               issuer + "/protocol/openid-connect/certs",
		EndSessionEndpoint:    issuer + "/protocol/openid-connect/logout",
		ResponseTypesSup:      []string{"code", "id_token", "token id_token"},
		SubjectTypes:          []string{"public"},
		IdTokenSignAlgs:       []string{"RS256"},
	}
	return c.JSON(http.StatusOK, res)
}

func (s *testAuthServer) jwksEndpoint(c echo.Context) error {
	return c.JSON(http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: "RS256",
		Use:       "sig",
	}}})
}

func (s *testAuthServer) getJWT(claims jwt.MapClaims) (string, error) {
	now := time.Now()
	claims["exp"] = now.Add(time.Hour).Unix()
	claims["aud"] = testClientID
	claims["sub"] = "user-1"
	claims["iss"] = s.issuer()
	claims["iat"] = now.Add(-time.Second).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	return token.SignedString(s.key)
}

func (s *testAuthServer) authorizeEndpoint(c echo.Context) error {
	if !s.Authorized {
		return c.String(http.StatusUnauthorized, "not authorized by test auth server")
	}
	vals := url.Values{}
	vals.Add("code", "codeValue")
	vals.Add("state", c.QueryParam("state"))
	return c.Redirect(http.StatusFound, c.QueryParam("redirect_uri")+"?"+vals.Encode())
}

func (s *testAuthServer) tokenEndpoint(c echo.Context) error {
	switch c.FormValue("grant_type") {
	case "authorization_code":
		if !s.Authorized || c.FormValue("code") != "codeValue" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		}
		accessToken, err := s.getJWT(jwt.MapClaims{"typ": "Bearer"})
		if err != nil {
			return err
		}
		idToken, err := s.getJWT(jwt.MapClaims{
			"typ":                "ID",
			"email":              "jane@example.org",
			"preferred_username": "jane",
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.issuedIDToken = idToken
		s.mu.Unlock()
		return c.JSON(http.StatusOK, map[string]any{
			"access_token":       accessToken,
			"token_type":         "Bearer",
			"refresh_token":      "r1",
			"id_token":           idToken,
			"expires_in":         300,
			"refresh_expires_in": 1800,
		})
	case "refresh_token":
		s.refreshCalls.Add(1)
		s.mu.Lock()
		s.refreshTokens = append(s.refreshTokens, c.FormValue("refresh_token"))
		s.mu.Unlock()
		if c.FormValue("client_id") != testClientID || c.FormValue("client_secret") != testClientSecret {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		}
		s.mu.Lock()
		status, response := s.RefreshStatus, s.RefreshResponse
		s.mu.Unlock()
		if status != http.StatusOK {
			return c.JSON(status, map[string]string{"error": "invalid_grant", "error_description": "Token is not active"})
		}
		return c.JSON(http.StatusOK, response)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (s *testAuthServer) logoutEndpoint(c echo.Context) error {
	s.logoutCalls.Add(1)
	s.mu.Lock()
	s.logoutHints = append(s.logoutHints, c.QueryParam("id_token_hint"))
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *testAuthServer) SetRefresh(status int, response map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RefreshStatus = status
	s.RefreshResponse = response
}

func (s *testAuthServer) IDToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issuedIDToken
}

func (s *testAuthServer) RefreshTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.refreshTokens...)
}

func (s *testAuthServer) LogoutHints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.logoutHints...)
}
