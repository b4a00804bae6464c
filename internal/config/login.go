package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

type TokenEncryptionConfig struct {
	Enabled   bool
	SecretKey RedactedString
}

// ProviderConfig holds the settings of the OIDC identity provider (Keycloak) the gateway logs
// users in with. It is read once at startup and not modified afterwards.
type ProviderConfig struct {
	ID                string
	Issuer            string
	ClientID          string
	ClientSecret      RedactedString
	Scopes            []string
	CallbackURI       string
	UsePKCE           bool
	CookieEncodingKey RedactedString
	CookieHashKey     RedactedString
	// NOTE: UnsafeNoCookieHandler should only be used for testing, in production this has to be false/unset
	// without this there is no CSRF protection on the oauth callback endpoint
	UnsafeNoCookieHandler bool
}

type RefreshConfig struct {
	TimeoutSeconds       int
	LogoutTimeoutSeconds int
	SingleFlight         bool
}

func (r RefreshConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (r RefreshConfig) LogoutTimeout() time.Duration {
	return time.Duration(r.LogoutTimeoutSeconds) * time.Second
}

type LoginConfig struct {
	EndpointsBasePath     string
	DefaultAppRedirectURL string
	TokenEncryption       TokenEncryptionConfig
	Provider              ProviderConfig
	Refresh               RefreshConfig
	// AllowedRedirectOrigins lists the origins (scheme://host[:port]) the login and logout
	// endpoints may redirect to, relative paths are always allowed
	AllowedRedirectOrigins []string
}

// IssuerBaseURL returns the issuer without a trailing slash so that the keycloak
// protocol paths can be appended to it.
func (c ProviderConfig) IssuerBaseURL() string {
	return strings.TrimSuffix(c.Issuer, "/")
}

func (c ProviderConfig) Validate(e RunningEnvironment) error {
	if c.ID == "" {
		return fmt.Errorf("the provider id cannot be empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("the client id of provider %s cannot be empty", c.ID)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("the client secret of provider %s cannot be empty", c.ID)
	}
	issuer, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("cannot parse the issuer of provider %s: %w", c.ID, err)
	}
	if issuer.Scheme == "" || issuer.Host == "" {
		return fmt.Errorf("the issuer of provider %s has to be an absolute URL, got %q", c.ID, c.Issuer)
	}
	if e != Development {
		if issuer.Scheme != "https" {
			return fmt.Errorf("the issuer of provider %s has to use https in production", c.ID)
		}
		if c.UnsafeNoCookieHandler {
			return fmt.Errorf("provider %s cannot be configured without a cookie handler in production", c.ID)
		}
	}
	cookieEncKey := len(c.CookieEncodingKey)
	if cookieEncKey > 0 && !(cookieEncKey == 16 || cookieEncKey == 32) {
		return fmt.Errorf(
			"invalid length for oauth2 state cookie encryption key, got %d, but allowed sizes are 16 or 32",
			cookieEncKey,
		)
	}
	if len(c.CookieHashKey) > 0 && len(c.CookieHashKey) != 32 {
		return fmt.Errorf(
			"invalid length for oauth2 state cookie hash key, got %d, allowed size is 32",
			len(c.CookieHashKey),
		)
	}
	return nil
}

func (c *LoginConfig) Validate(e RunningEnvironment) error {
	slog.Info("login configuration info", "config", c)
	if c.TokenEncryption.Enabled && len(c.TokenEncryption.SecretKey) != 32 {
		return fmt.Errorf(
			"token encryption key has to be 32 bytes long, the provided one is %d long",
			len(c.TokenEncryption.SecretKey),
		)
	}
	if c.Refresh.TimeoutSeconds < 0 || c.Refresh.LogoutTimeoutSeconds < 0 {
		return fmt.Errorf("refresh and logout timeouts cannot be negative")
	}
	if !strings.HasPrefix(c.EndpointsBasePath, "/") {
		return fmt.Errorf("the login endpoints base path has to start with \"/\", got %q", c.EndpointsBasePath)
	}
	for _, origin := range c.AllowedRedirectOrigins {
		parsed, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("cannot parse the allowed redirect origin %q: %w", origin, err)
		}
		if parsed.Scheme == "" || parsed.Host == "" || strings.TrimSuffix(parsed.Path, "/") != "" {
			return fmt.Errorf("the allowed redirect origin %q has to be of the form scheme://host[:port]", origin)
		}
	}
	return c.Provider.Validate(e)
}
