// Package handlers exposes the decision core's HTTP surface: the analyze
// endpoint called by the edge proxy, the review and statistics API used by
// the dashboard, and the admin list controls.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentra/waf/internal/config"
	"github.com/sentra/waf/internal/engine"
	"github.com/sentra/waf/internal/eventlog"
	"github.com/sentra/waf/internal/geoip"
	"github.com/sentra/waf/internal/inference"
	"github.com/sentra/waf/internal/metrics"
	"github.com/sentra/waf/internal/middleware"
	"github.com/sentra/waf/internal/store"
	"github.com/sentra/waf/internal/stream"
)

// Deps carries everything the handlers need.
type Deps struct {
	Config    *config.Config
	Engine    *engine.Engine
	State     *store.State
	Events    *eventlog.Log
	Resolver  *geoip.Resolver
	Inference *inference.Client
	Hub       *stream.Hub
	Metrics   *metrics.Metrics
}

// NewRouter builds the full route table.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging, middleware.Recover, middleware.CORS)

	r.HandleFunc("/health", HandleHealth(d.Events, d.State, d.Resolver)).Methods("GET")
	r.HandleFunc("/api/analyze_request", HandleAnalyze(d)).Methods("POST")

	r.HandleFunc("/api/requests", HandleListRequests(d.Events)).Methods("GET")
	r.HandleFunc("/api/requests/pending", HandlePendingRequests(d.Events)).Methods("GET")
	r.HandleFunc("/api/feedback", HandleFeedback(d.Events)).Methods("POST")

	r.HandleFunc("/api/stats", HandleStats(d.Events)).Methods("GET")
	r.HandleFunc("/api/top-ips", HandleTopIPs(d.Events)).Methods("GET")
	r.HandleFunc("/api/recent-events", HandleRecentEvents(d.Events)).Methods("GET")
	r.HandleFunc("/api/v1/stats/aggregate", HandleAggregateStats(d.Events)).Methods("GET")

	r.HandleFunc("/api/ip/{ip}", HandleIPInfo(d.Events, d.Resolver)).Methods("GET")
	r.HandleFunc("/api/blacklist", HandleBlacklist(d.State)).Methods("POST")
	r.HandleFunc("/api/whitelist", HandleWhitelist(d.State)).Methods("POST")
	r.HandleFunc("/api/retrain", HandleRetrain(d.Inference)).Methods("POST")

	r.HandleFunc("/ws", d.Hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
