// Package metrics holds the prometheus collectors for the token lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess string = "success"
	ResultFailure string = "failure"
	ResultTimeout string = "timeout"
)

var TokenRefreshes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "token_refresh_total",
		Help:      "Number of access token refreshes against the identity provider, by result.",
	},
	[]string{"result"},
)

var FederatedLogouts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "token_logout_total",
		Help:      "Number of federated logout handshakes with the identity provider, by result.",
	},
	[]string{"result"},
)

func RefreshObserved(result string) {
	TokenRefreshes.WithLabelValues(result).Inc()
}

func LogoutObserved(result string) {
	FederatedLogouts.WithLabelValues(result).Inc()
}
