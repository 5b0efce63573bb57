// Package metrics exposes Prometheus counters for the user lifecycle. The
// counters are fed from the event stream, so the service code never touches
// them directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baechuer/sofauth/internal/domain"
)

var (
	userEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sofauth",
			Name:      "user_events_total",
			Help:      "User lifecycle events by name",
		},
		[]string{"event"},
	)

	signupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sofauth",
			Name:      "signups_total",
			Help:      "Account registrations by provider",
		},
		[]string{"provider"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sofauth",
			Name:      "logins_total",
			Help:      "Issued sessions by provider",
		},
		[]string{"provider"},
	)

	// Dependency health (1 = healthy, 0 = unhealthy)
	dependencyHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sofauth",
			Name:      "dependency_health",
			Help:      "Health status of dependencies (1 = healthy, 0 = unhealthy)",
		},
		[]string{"dependency"},
	)
)

// HandleEvent is the event-subscriber entry point.
func HandleEvent(ev domain.Event) {
	userEventsTotal.WithLabelValues(ev.Name).Inc()
	provider := ev.Provider
	if provider == "" {
		provider = "unknown"
	}
	switch ev.Name {
	case domain.EventSignup:
		signupsTotal.WithLabelValues(provider).Inc()
	case domain.EventLogin:
		loginsTotal.WithLabelValues(provider).Inc()
	}
}

// SetDependencyHealth sets the health status of a dependency.
func SetDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealth.WithLabelValues(dependency).Set(value)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
