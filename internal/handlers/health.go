package handlers

import (
	"net/http"
	"time"

	"github.com/sentra/waf/internal/eventlog"
	"github.com/sentra/waf/internal/geoip"
	"github.com/sentra/waf/internal/store"
)

// HandleHealth reports per-dependency health. The process answers even
// when a dependency is down; the edge proxy decides what to do with a
// degraded core.
func HandleHealth(events *eventlog.Log, state *store.State, resolver *geoip.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"services": map[string]bool{
				"database": events.Healthy(r.Context()),
				"redis":    state.Healthy(r.Context()),
				"geoip":    resolver.Loaded(),
			},
		})
	}
}
