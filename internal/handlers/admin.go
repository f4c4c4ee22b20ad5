package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sentra/waf/internal/eventlog"
	"github.com/sentra/waf/internal/geoip"
	"github.com/sentra/waf/internal/inference"
	"github.com/sentra/waf/internal/store"
)

// HandleIPInfo serves the durable reputation plus geo attribution for
// one IP. Reputation read failures degrade to the neutral default.
func HandleIPInfo(events *eventlog.Log, resolver *geoip.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := mux.Vars(r)["ip"]

		rep, err := events.Reputation(r.Context(), ip)
		if err != nil {
			slog.Warn("Reputation lookup failed", "ip", ip, "error", err)
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_requests":   rep.TotalRequests,
			"blocked_requests": rep.BlockedRequests,
			"reputation_score": rep.ReputationScore,
			"geo_data":         resolver.Resolve(ip),
		})
	}
}

// HandleBlacklist manually bans an IP, default 24 hours.
func HandleBlacklist(state *store.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IPAddress string `json:"ip_address"`
			TTL       int    `json:"ttl"`
			Reason    string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.IPAddress == "" {
			http.Error(w, "ip_address is required", http.StatusBadRequest)
			return
		}
		if req.TTL <= 0 {
			req.TTL = 86400
		}

		if err := state.Blacklist(r.Context(), req.IPAddress, time.Duration(req.TTL)*time.Second); err != nil {
			slog.Error("Failed to blacklist IP", "ip", req.IPAddress, "error", err)
			http.Error(w, "failed to blacklist IP", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": fmt.Sprintf("IP %s blacklisted", req.IPAddress),
		})
	}
}

// HandleWhitelist lifts a manual ban.
func HandleWhitelist(state *store.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IPAddress string `json:"ip_address"`
			Reason    string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.IPAddress == "" {
			http.Error(w, "ip_address is required", http.StatusBadRequest)
			return
		}

		if err := state.Whitelist(r.Context(), req.IPAddress); err != nil {
			slog.Error("Failed to whitelist IP", "ip", req.IPAddress, "error", err)
			http.Error(w, "failed to whitelist IP", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": fmt.Sprintf("IP %s whitelisted", req.IPAddress),
		})
	}
}

// HandleRetrain forwards a retraining trigger to the scoring service and
// passes its response through untouched.
func HandleRetrain(client *inference.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := client.Retrain(r.Context(), "manual")
		if err != nil {
			slog.Error("Failed to trigger retraining", "error", err)
			http.Error(w, "failed to trigger retraining", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}
}
