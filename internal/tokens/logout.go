package tokens

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/metrics"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
)

// FinalizeLogout ends the session at the identity provider for records issued by the configured
// provider. It is best effort: failures are logged and never returned, the provider's own
// session timeout applies when the handshake does not go through.
func (m *Manager) FinalizeLogout(ctx context.Context, token models.TokenRecord) {
	if token.Provider != m.providerID {
		slog.Debug("TOKEN MANAGER", "message", "skipping post-logout handshake for other provider", "provider", token.Provider)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.logoutTimeout)
	defer cancel()

	logoutURL, err := url.Parse(m.logoutEndpoint())
	if err != nil {
		slog.Error("TOKEN MANAGER", "message", "unable to perform post-logout handshake", "error", err)
		metrics.LogoutObserved(metrics.ResultFailure)
		return
	}
	query := logoutURL.Query()
	query.Set("id_token_hint", token.IDToken)
	logoutURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoutURL.String(), nil)
	if err != nil {
		slog.Error("TOKEN MANAGER", "message", "unable to perform post-logout handshake", "error", err)
		metrics.LogoutObserved(metrics.ResultFailure)
		return
	}
	// a single request, the redirect to the post logout page is meant for browsers
	client := *m.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	res, err := client.Do(req)
	if err != nil {
		slog.Error("TOKEN MANAGER", "message", "unable to perform post-logout handshake", "error", err)
		metrics.LogoutObserved(metrics.ResultFailure)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		slog.Error("TOKEN MANAGER", "message", "post-logout handshake was rejected", "status", res.StatusCode, "statusText", res.Status)
		metrics.LogoutObserved(metrics.ResultFailure)
		return
	}
	slog.Info("TOKEN MANAGER", "message", "completed post-logout handshake", "status", res.StatusCode, "statusText", res.Status)
	metrics.LogoutObserved(metrics.ResultSuccess)
}
