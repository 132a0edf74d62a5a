package handler

import (
	"context"
	"net/http"

	"github.com/nikhilbarthwal/triagent/internal/api/response"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readier matches the tracker client's readiness probe.
type Readier interface {
	Ready(ctx context.Context) error
}

type readierPinger struct{ r Readier }

func (p readierPinger) Ping(ctx context.Context) error { return p.r.Ready(ctx) }

// AsPinger adapts a Readier to the Pinger interface.
func AsPinger(r Readier) Pinger { return readierPinger{r: r} }

// HealthDeps names the components the health endpoint reports on. Nil entries
// are skipped.
type HealthDeps struct {
	Store   Pinger
	Cache   Pinger
	Tracker Pinger
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// The store is load-bearing: if it is down the endpoint returns 503. Cache and
// tracker failures degrade the report but keep the service available.
func NewHealthHandler(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{}
		status := "ok"

		check := func(name string, p Pinger, critical bool) {
			if p == nil {
				return
			}
			if err := p.Ping(r.Context()); err != nil {
				components[name] = "down"
				if critical {
					status = "down"
				} else if status == "ok" {
					status = "degraded"
				}
				return
			}
			components[name] = "ok"
		}

		check("store", deps.Store, true)
		check("cache", deps.Cache, false)
		check("tracker", deps.Tracker, false)

		body := map[string]any{
			"status":     status,
			"components": components,
		}
		if status == "down" {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "A critical dependency is down", components)
			return
		}
		response.JSON(w, body)
	}
}
