package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/jobtracker/internal/api/response"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler reports 503 DEGRADED while the job store or the redis
// instance backing the queue and status cache is unreachable.
func NewHealthHandler(db, redis Pinger) http.HandlerFunc {
	deps := []struct {
		name string
		p    Pinger
	}{
		{"database", db},
		{"redis", redis},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(deps))
		healthy := true
		for _, d := range deps {
			services[d.name] = "ok"
			if err := d.p.Ping(r.Context()); err != nil {
				services[d.name] = "degraded"
				healthy = false
			}
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}
		response.JSON(w, map[string]any{"status": "ok", "services": services})
	}
}
