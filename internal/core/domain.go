// Package core holds the domain types shared across the decision pipeline.
package core

import (
	"strings"
	"time"
)

// Action is the verdict returned to the edge proxy for a request.
type Action string

const (
	ActionAllowed Action = "ALLOWED"
	ActionBlocked Action = "BLOCKED"
	ActionPending Action = "PENDING"
)

// DecidedBy identifies which pipeline stage produced a verdict.
// The wire and column name is blocked_by; the dashboard depends on it.
type DecidedBy string

const (
	DecidedByBlacklist   DecidedBy = "BLACKLIST"
	DecidedByRateLimiter DecidedBy = "RATE_LIMITER"
	DecidedBySignature   DecidedBy = "SIGNATURE"
	DecidedByAI          DecidedBy = "AI"
	DecidedByCache       DecidedBy = "CACHE"
	DecidedByNone        DecidedBy = "NONE"
	DecidedByFailsafe    DecidedBy = "FAILSAFE"
)

// Attack families used for labeling and dashboards.
const (
	FamilySQLInjection  = "SQL_INJECTION"
	FamilyXSS           = "XSS"
	FamilyPathTraversal = "PATH_TRAVERSAL"
	FamilyLFI           = "LFI"
	FamilySSRF          = "SSRF"
	FamilyRateLimit     = "RATE_LIMIT"
	FamilyBlacklisted   = "BLACKLISTED"
)

// RequestMetadata is the request envelope forwarded by the edge proxy.
type RequestMetadata struct {
	SourceIP    string            `json:"source_ip"`
	Method      string            `json:"method"`
	URI         string            `json:"uri"`
	QueryString string            `json:"query_string"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
}

// Header returns the named header, matching case-insensitively.
// Proxies are inconsistent about header-key casing.
func (r *RequestMetadata) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// GeoAttribution is the geographic attribution of a source IP.
type GeoAttribution struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	IsPrivate   bool    `json:"is_private"`
}

// Verdict is the decision for a single request plus its provenance.
type Verdict struct {
	Action      Action                 `json:"action"`
	RiskScore   float64                `json:"risk_score"`
	Reason      string                 `json:"reason"`
	AttackType  string                 `json:"attack_type,omitempty"`
	DecidedBy   DecidedBy              `json:"blocked_by"`
	FromCache   bool                   `json:"from_cache,omitempty"`
	Features    map[string]interface{} `json:"features,omitempty"`
	RiskFactors map[string]string      `json:"risk_factors,omitempty"`
	LatencyMs   int64                  `json:"latency_ms"`
}

// DecisionRecord is the persisted form of a decided request.
type DecisionRecord struct {
	ID              int64      `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	SourceIP        string     `json:"source_ip"`
	Method          string     `json:"method"`
	URI             string     `json:"uri"`
	GeoCountry      string     `json:"geo_country"`
	GeoCity         string     `json:"geo_city"`
	GeoLat          float64    `json:"geo_lat"`
	GeoLon          float64    `json:"geo_lon"`
	RiskScore       float64    `json:"risk_score"`
	Action          Action     `json:"action"`
	AttackType      string     `json:"attack_type,omitempty"`
	DecidedBy       DecidedBy  `json:"blocked_by"`
	HumanDecision   string     `json:"human_decision,omitempty"`
	LatencyMs       int64      `json:"decision_latency_ms"`
	Headers         string     `json:"headers,omitempty"`
	FullBody        string     `json:"full_body,omitempty"`
	HumanReviewedAt *time.Time `json:"human_reviewed_at,omitempty"`
}

// IPReputation is the volatile trust profile for a source IP.
// Higher score means more trusted; 0.5 is neutral.
type IPReputation struct {
	TotalRequests   int64   `json:"total_requests"`
	BlockedRequests int64   `json:"blocked_requests"`
	ReputationScore float64 `json:"reputation_score"`
}

// DefaultReputation is returned when no profile exists for an IP.
func DefaultReputation() IPReputation {
	return IPReputation{TotalRequests: 0, BlockedRequests: 0, ReputationScore: 0.5}
}
