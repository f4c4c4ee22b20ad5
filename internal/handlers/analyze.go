package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentra/waf/internal/core"
	"github.com/sentra/waf/internal/engine"
	"github.com/sentra/waf/internal/eventlog"
)

// streamEvent is the broadcast shape for one decision. Verdict fields are
// flattened in; Headers and FullBody ride along only on rate-limit
// rejects, which the dashboard renders with full context.
type streamEvent struct {
	core.Verdict
	DecisionID int64             `json:"decision_id"`
	SourceIP   string            `json:"source_ip"`
	Method     string            `json:"method"`
	URI        string            `json:"uri"`
	Timestamp  string            `json:"timestamp"`
	GeoLat     float64           `json:"geo_lat"`
	GeoLon     float64           `json:"geo_lon"`
	GeoCountry string            `json:"geo_country"`
	GeoCity    string            `json:"geo_city"`
	Headers    map[string]string `json:"headers,omitempty"`
	FullBody   string            `json:"full_body,omitempty"`
}

// HandleAnalyze is the endpoint the edge proxy calls for every request.
// It must always answer: any uncaught fault degrades to an ALLOWED reply
// so the proxy never hangs on the decision core.
func HandleAnalyze(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req core.RequestMetadata
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.SourceIP == "" {
			http.Error(w, "source_ip is required", http.StatusBadRequest)
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Analyze pipeline fault", "source_ip", req.SourceIP, "panic", rec)
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"action":      core.ActionAllowed,
					"risk_score":  0.0,
					"reason":      fmt.Sprintf("WAF error (fail-open): %v", rec),
					"decision_id": 0,
					"latency_ms":  0,
				})
			}
		}()

		ctx := r.Context()
		geo := d.Resolver.Resolve(req.SourceIP)
		rep, _ := d.State.Reputation(ctx, req.SourceIP)

		var verdict core.Verdict
		rateExceeded := !d.State.AllowRate(ctx, req.SourceIP, d.Config.RateLimitMax, d.Config.RateLimitWindow)
		if rateExceeded {
			d.Metrics.RecordRateLimitReject()
			slog.Warn("Rate limit exceeded", "source_ip", req.SourceIP)
			verdict = engine.ApplyDryRun(d.Config.DryRun, core.Verdict{
				Action:      core.ActionBlocked,
				RiskScore:   1.0,
				Reason:      "Rate limit exceeded",
				AttackType:  core.FamilyRateLimit,
				DecidedBy:   core.DecidedByRateLimiter,
				Features:    map[string]interface{}{},
				RiskFactors: map[string]string{},
			})
		} else {
			verdict = d.Engine.Analyze(ctx, req, geo, rep)
		}
		verdict.LatencyMs = time.Since(start).Milliseconds()
		d.Metrics.RecordDecision(string(verdict.Action), string(verdict.DecidedBy), time.Since(start).Seconds())

		decisionID, err := d.Events.Store(ctx, eventlog.Entry{Request: req, Geo: geo, Verdict: verdict})
		if err != nil {
			slog.Error("Failed to persist decision", "source_ip", req.SourceIP, "error", err)
		}

		refreshReputation(ctx, d, req.SourceIP, rep, verdict.Action)

		event := streamEvent{
			Verdict:    verdict,
			DecisionID: decisionID,
			SourceIP:   req.SourceIP,
			Method:     req.Method,
			URI:        req.URI,
			Timestamp:  start.UTC().Format(time.RFC3339Nano),
			GeoLat:     geo.Latitude,
			GeoLon:     geo.Longitude,
			GeoCountry: geo.CountryCode,
			GeoCity:    geo.City,
		}
		if rateExceeded {
			event.Headers = req.Headers
			event.FullBody = req.Body
		}
		d.Hub.Publish("new_request", event)

		slog.Info("Request analyzed",
			"source_ip", req.SourceIP,
			"action", verdict.Action,
			"risk_score", verdict.RiskScore,
			"blocked_by", verdict.DecidedBy,
			"latency_ms", verdict.LatencyMs,
		)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"action":      verdict.Action,
			"risk_score":  verdict.RiskScore,
			"reason":      verdict.Reason,
			"attack_type": verdict.AttackType,
			"decision_id": decisionID,
			"latency_ms":  verdict.LatencyMs,
		})
	}
}

// refreshReputation folds this decision into the volatile reputation
// entry so the next request from the same IP sees it without a database
// read. The durable rollup lives in the event log.
func refreshReputation(ctx context.Context, d Deps, ip string, rep core.IPReputation, action core.Action) {
	rep.TotalRequests++
	if action == core.ActionBlocked {
		rep.BlockedRequests++
	}
	rep.ReputationScore = 1.0 - float64(rep.BlockedRequests)/float64(rep.TotalRequests)
	if rep.ReputationScore < 0 {
		rep.ReputationScore = 0
	}
	if err := d.State.SetReputation(ctx, ip, rep); err != nil {
		slog.Warn("Reputation refresh failed", "ip", ip, "error", err)
	}
}
