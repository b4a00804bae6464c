package login

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/utils"
	"github.com/labstack/echo/v4"
)

// appRedirectURL returns the redirect_url query parameter when it is a relative path or points to
// one of the allowed origins, otherwise the default application URL.
func (l *LoginServer) appRedirectURL(c echo.Context) string {
	raw := c.QueryParam("redirect_url")
	if raw == "" {
		return l.config.DefaultAppRedirectURL
	}
	if l.isAllowedRedirect(raw) {
		return raw
	}
	slog.Warn(
		"LOGIN SERVER",
		"message", "ignoring redirect to a location that is not allowed",
		"redirectURL", raw,
		"requestID", utils.GetRequestID(c),
	)
	return l.config.DefaultAppRedirectURL
}

func (l *LoginServer) isAllowedRedirect(raw string) bool {
	// browsers treat backslashes like slashes, "/\evil.org" is protocol relative
	if strings.Contains(raw, "\\") {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		return strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//")
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.User != nil {
		return false
	}
	origin := parsed.Scheme + "://" + parsed.Host
	for _, allowed := range l.config.AllowedRedirectOrigins {
		if strings.EqualFold(origin, strings.TrimSuffix(allowed, "/")) {
			return true
		}
	}
	return false
}
