package handlers

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/sentra/waf/internal/eventlog"
)

// HandleStats serves the dashboard's headline numbers for today.
func HandleStats(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := events.TodayStatistics(r.Context())
		if err != nil {
			slog.Error("Failed to fetch statistics", "error", err)
			http.Error(w, "failed to fetch statistics", http.StatusInternalServerError)
			return
		}

		blockRate := 0.0
		if stats.TotalRequests > 0 {
			blockRate = math.Round(float64(stats.BlockedRequests)/float64(stats.TotalRequests)*1000) / 10
		}

		// high_severity mirrors the blocked count until per-severity
		// rollups exist in the dashboard.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_requests": stats.TotalRequests,
			"blocked":        stats.BlockedRequests,
			"allowed":        stats.AllowedRequests,
			"block_rate":     blockRate,
			"high_severity":  stats.BlockedRequests,
		})
	}
}

// HandleTopIPs serves the top-attackers board. The dashboard expects a
// bare array and treats any shape error as fatal, so store failures
// degrade to an empty list.
func HandleTopIPs(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top, err := events.TopAttackingIPs(r.Context(), 10)
		if err != nil {
			slog.Error("Failed to fetch top IPs", "error", err)
			writeJSON(w, http.StatusOK, []eventlog.AttackerSummary{})
			return
		}
		writeJSON(w, http.StatusOK, top)
	}
}

// HandleRecentEvents serves the latest high-severity hits, bare array
// with the same degrade-to-empty contract as HandleTopIPs.
func HandleRecentEvents(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent, err := events.RecentHighSeverity(r.Context(), 10)
		if err != nil {
			slog.Error("Failed to fetch recent events", "error", err)
			writeJSON(w, http.StatusOK, []eventlog.SecurityEvent{})
			return
		}
		writeJSON(w, http.StatusOK, recent)
	}
}

// HandleAggregateStats serves the time-series analytics for one of the
// ranges 15m, 1h, 24h, 7d.
func HandleAggregateStats(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeRange := r.URL.Query().Get("range")
		if timeRange == "" {
			timeRange = "1h"
		}

		report, err := events.Aggregate(r.Context(), timeRange)
		if err != nil {
			slog.Error("Failed to fetch aggregate statistics", "range", timeRange, "error", err)
			http.Error(w, "failed to fetch aggregate statistics", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
