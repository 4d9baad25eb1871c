package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/response"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency whose reachability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck pings every dependency and reports each one's status
func ReadyCheck(deps map[string]Pinger, timeout time.Duration) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		checks := make(map[string]string, len(names))
		ready := true
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
				checks[name] = "unavailable"
				ready = false
				continue
			}
			checks[name] = "ok"
		}

		if !ready {
			response.ServiceUnavailable(w, map[string]any{
				"status": "not ready",
				"checks": checks,
			})
			return
		}

		response.OK(w, map[string]any{
			"status": "ready",
			"checks": checks,
		})
	}
}
