package tokens

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/stretchr/testify/require"
)

const (
	testRealmPath    string = "/realms/test"
	testClientID     string = "gateway"
	testClientSecret        = "gateway-secret"
	testProviderID   string = "keycloak"
)

// testKeycloak mocks the token and logout endpoints of a keycloak realm.
type testKeycloak struct {
	server         *httptest.Server
	tokenStatus    int
	tokenResponse  map[string]any
	rawResponse    string
	tokenDelay     time.Duration
	release        chan struct{}
	tokenCalls     atomic.Int32
	logoutStatus   int
	logoutCalls    atomic.Int32
	mu             sync.Mutex
	lastTokenForm  url.Values
	lastLogoutHint string
}

func newTestKeycloak(t *testing.T) *testKeycloak {
	k := &testKeycloak{
		tokenStatus:  http.StatusOK,
		logoutStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(testRealmPath+"/protocol/openid-connect/token", k.tokenEndpoint)
	mux.HandleFunc(testRealmPath+"/protocol/openid-connect/logout", k.logoutEndpoint)
	k.server = httptest.NewServer(mux)
	t.Cleanup(k.server.Close)
	return k
}

func (k *testKeycloak) issuer() string {
	return k.server.URL + testRealmPath
}

func (k *testKeycloak) providerConfig() config.ProviderConfig {
	return config.ProviderConfig{
		ID:           testProviderID,
		Issuer:       k.issuer(),
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	}
}

func (k *testKeycloak) tokenEndpoint(w http.ResponseWriter, r *http.Request) {
	k.tokenCalls.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	k.mu.Lock()
	k.lastTokenForm = r.PostForm
	k.mu.Unlock()
	if k.release != nil {
		select {
		case <-k.release:
		case <-r.Context().Done():
			return
		}
	}
	if k.tokenDelay > 0 {
		select {
		case <-time.After(k.tokenDelay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(k.tokenStatus)
	if k.rawResponse != "" {
		_, _ = w.Write([]byte(k.rawResponse))
		return
	}
	_ = json.NewEncoder(w).Encode(k.tokenResponse)
}

func (k *testKeycloak) logoutEndpoint(w http.ResponseWriter, r *http.Request) {
	k.logoutCalls.Add(1)
	k.mu.Lock()
	k.lastLogoutHint = r.URL.Query().Get("id_token_hint")
	k.mu.Unlock()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(k.logoutStatus)
}

func (k *testKeycloak) form() url.Values {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastTokenForm
}

func (k *testKeycloak) logoutHint() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastLogoutHint
}

func fixedClock(unixSeconds int64) func() time.Time {
	return func() time.Time {
		return time.Unix(unixSeconds, 0)
	}
}

func newTestManager(t *testing.T, k *testKeycloak, options ...ManagerOption) *Manager {
	opts := []ManagerOption{
		WithProviderConfig(k.providerConfig()),
		WithHTTPClient(k.server.Client()),
	}
	m, err := NewManager(append(opts, options...)...)
	require.NoError(t, err)
	return m
}
