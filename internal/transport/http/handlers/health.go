package http_handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/baechuer/sofauth/internal/metrics"
	"github.com/baechuer/sofauth/internal/transport/http/response"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the probe endpoints. Liveness only proves the process
// is answering; readiness pings every registered backend.
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler wires readiness probes for the named dependencies. Nil
// pingers are skipped so callers can pass optional backends directly.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	filtered := make(map[string]Pinger, len(deps))
	for name, p := range deps {
		if p != nil {
			filtered[name] = p
		}
	}
	return &HealthHandler{deps: filtered}
}

// Healthz answers the liveness probe without touching any backend.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings each dependency and lists the unreachable ones in a 503 body.
// Every probe also refreshes the dependency health gauge.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	var failed []string
	for name, p := range h.deps {
		err := p.Ping(r.Context())
		metrics.SetDependencyHealth(name, err == nil)
		if err != nil {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		slices.Sort(failed)
		response.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"failed": failed,
		})
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
