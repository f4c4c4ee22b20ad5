package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sentra/waf/internal/eventlog"
)

// HandleListRequests serves the filtered request log for the dashboard.
func HandleListRequests(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := eventlog.ListOptions{
			Limit:  intQuery(q, "limit", 100),
			Offset: intQuery(q, "offset", 0),
			Action: q.Get("action"),
		}
		if raw := q.Get("min_risk_score"); raw != "" {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				opts.MinRiskScore = &f
			}
		}

		records, err := events.List(r.Context(), opts)
		if err != nil {
			slog.Error("Failed to fetch requests", "error", err)
			http.Error(w, "failed to fetch requests", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requests": records,
			"count":    len(records),
		})
	}
}

// HandlePendingRequests serves the human-review queue.
func HandlePendingRequests(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := events.ListPending(r.Context())
		if err != nil {
			slog.Error("Failed to fetch pending requests", "error", err)
			http.Error(w, "failed to fetch pending requests", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requests": records,
			"count":    len(records),
		})
	}
}

// HandleFeedback records a reviewer's verdict and promotes the request
// into the training set.
func HandleFeedback(events *eventlog.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RequestID int64  `json:"request_id"`
			Decision  string `json:"decision"`
			Reviewer  string `json:"reviewer"`
			Notes     string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Decision != "ALLOW" && req.Decision != "BLOCK" {
			http.Error(w, "decision must be ALLOW or BLOCK", http.StatusBadRequest)
			return
		}
		if req.Reviewer == "" {
			req.Reviewer = "human"
		}

		err := events.UpdateHumanDecision(r.Context(), req.RequestID, req.Decision, req.Reviewer, req.Notes)
		if errors.Is(err, eventlog.ErrNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("Failed to record feedback", "request_id", req.RequestID, "error", err)
			http.Error(w, "failed to record feedback", http.StatusInternalServerError)
			return
		}

		if err := events.PromoteToTraining(r.Context(), req.RequestID, req.Decision == "BLOCK", "HUMAN"); err != nil {
			slog.Error("Failed to add training data", "request_id", req.RequestID, "error", err)
			http.Error(w, "failed to add training data", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": "Feedback recorded",
		})
	}
}

func intQuery(q url.Values, key string, fallback int) int {
	if raw := q.Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}
