package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Statistics is today's traffic summary with attack-type and attacker
// breakdowns.
type Statistics struct {
	TotalRequests   int64             `json:"total_requests"`
	AllowedRequests int64             `json:"allowed_requests"`
	BlockedRequests int64             `json:"blocked_requests"`
	PendingRequests int64             `json:"pending_requests"`
	AvgRiskScore    float64           `json:"avg_risk_score"`
	AvgLatencyMs    float64           `json:"avg_latency_ms"`
	UniqueIPs       int64             `json:"unique_ips"`
	AttackTypes     []AttackTypeCount `json:"attack_types"`
	TopAttackingIPs []AttackerCount   `json:"top_attacking_ips"`
}

// AttackTypeCount is one slice of the attack-type breakdown.
type AttackTypeCount struct {
	AttackType string `json:"attack_type"`
	Count      int64  `json:"count"`
}

// AttackerCount is one source IP's blocked-request count.
type AttackerCount struct {
	SourceIP    string `json:"source_ip"`
	AttackCount int64  `json:"attack_count"`
}

const todayStatsSQL = `
	SELECT
		COUNT(*) AS total_requests,
		COUNT(*) FILTER (WHERE action = 'ALLOWED') AS allowed_requests,
		COUNT(*) FILTER (WHERE action = 'BLOCKED') AS blocked_requests,
		COUNT(*) FILTER (WHERE action = 'PENDING') AS pending_requests,
		AVG(risk_score) AS avg_risk_score,
		AVG(decision_latency_ms) AS avg_latency_ms,
		COUNT(DISTINCT source_ip) AS unique_ips
	FROM requests
	WHERE DATE(timestamp) = CURRENT_DATE`

const todayAttackTypesSQL = `
	SELECT attack_type, COUNT(*) AS count
	FROM requests
	WHERE DATE(timestamp) = CURRENT_DATE
	AND attack_type IS NOT NULL
	GROUP BY attack_type
	ORDER BY count DESC
	LIMIT 10`

const todayTopIPsSQL = `
	SELECT source_ip, COUNT(*) AS attack_count
	FROM requests
	WHERE DATE(timestamp) = CURRENT_DATE
	AND action = 'BLOCKED'
	GROUP BY source_ip
	ORDER BY attack_count DESC
	LIMIT 10`

// TodayStatistics aggregates the current calendar day.
func (l *Log) TodayStatistics(ctx context.Context) (*Statistics, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stats := &Statistics{
		AttackTypes:     []AttackTypeCount{},
		TopAttackingIPs: []AttackerCount{},
	}

	var avgRisk, avgLatency sql.NullFloat64
	err := l.db.QueryRowContext(ctx, todayStatsSQL).Scan(
		&stats.TotalRequests, &stats.AllowedRequests, &stats.BlockedRequests,
		&stats.PendingRequests, &avgRisk, &avgLatency, &stats.UniqueIPs,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: today statistics: %w", err)
	}
	stats.AvgRiskScore = avgRisk.Float64
	stats.AvgLatencyMs = avgLatency.Float64

	rows, err := l.db.QueryContext(ctx, todayAttackTypesSQL)
	if err != nil {
		return nil, fmt.Errorf("eventlog: attack type breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var at AttackTypeCount
		if err := rows.Scan(&at.AttackType, &at.Count); err != nil {
			return nil, fmt.Errorf("eventlog: attack type breakdown: %w", err)
		}
		stats.AttackTypes = append(stats.AttackTypes, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: attack type breakdown: %w", err)
	}

	ipRows, err := l.db.QueryContext(ctx, todayTopIPsSQL)
	if err != nil {
		return nil, fmt.Errorf("eventlog: top attacking ips: %w", err)
	}
	defer ipRows.Close()
	for ipRows.Next() {
		var ac AttackerCount
		if err := ipRows.Scan(&ac.SourceIP, &ac.AttackCount); err != nil {
			return nil, fmt.Errorf("eventlog: top attacking ips: %w", err)
		}
		stats.TopAttackingIPs = append(stats.TopAttackingIPs, ac)
	}
	if err := ipRows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: top attacking ips: %w", err)
	}

	return stats, nil
}

// AttackerSummary is one row of the top-attackers board.
type AttackerSummary struct {
	IP           string `json:"ip"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	RequestCount int64  `json:"request_count"`
	ThreatLevel  string `json:"threat_level"`
}

const topAttackersSQL = `
	SELECT
		source_ip AS ip,
		geo_country AS country,
		COALESCE(geo_country, 'XX') AS country_code,
		COUNT(*) AS request_count,
		CASE
			WHEN COUNT(*) > 1000 THEN 'critical'
			WHEN COUNT(*) > 100 THEN 'high'
			WHEN COUNT(*) > 50 THEN 'medium'
			ELSE 'low'
		END AS threat_level
	FROM requests
	WHERE action = 'BLOCKED'
	AND timestamp >= NOW() - INTERVAL '24 hours'
	GROUP BY source_ip, geo_country
	ORDER BY request_count DESC
	LIMIT $1`

// TopAttackingIPs ranks blocked sources over the last 24 hours.
func (l *Log) TopAttackingIPs(ctx context.Context, limit int) ([]AttackerSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, topAttackersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: top attackers: %w", err)
	}
	defer rows.Close()

	out := []AttackerSummary{}
	for rows.Next() {
		var (
			a       AttackerSummary
			country sql.NullString
		)
		if err := rows.Scan(&a.IP, &country, &a.CountryCode, &a.RequestCount, &a.ThreatLevel); err != nil {
			return nil, fmt.Errorf("eventlog: top attackers: %w", err)
		}
		a.Country = country.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: top attackers: %w", err)
	}
	return out, nil
}

// SecurityEvent is one row of the recent high-severity feed.
type SecurityEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	URI        string    `json:"uri"`
	AttackType string    `json:"attack_type"`
	Action     string    `json:"action"`
	Headers    string    `json:"headers"`
	FullBody   string    `json:"full_body"`
	Severity   string    `json:"severity"`
}

const recentEventsSQL = `
	SELECT
		id::text,
		timestamp,
		method,
		uri,
		attack_type,
		action,
		headers,
		full_body,
		CASE
			WHEN risk_score >= 0.9 THEN 'critical'
			WHEN risk_score >= 0.7 THEN 'high'
			WHEN risk_score >= 0.5 THEN 'medium'
			ELSE 'low'
		END AS severity
	FROM requests
	WHERE risk_score >= 0.5
	ORDER BY timestamp DESC
	LIMIT $1`

// RecentHighSeverity returns the latest events with risk at or above 0.5.
func (l *Log) RecentHighSeverity(ctx context.Context, limit int) ([]SecurityEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, recentEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: recent events: %w", err)
	}
	defer rows.Close()

	out := []SecurityEvent{}
	for rows.Next() {
		var (
			ev         SecurityEvent
			attackType sql.NullString
			headers    sql.NullString
			fullBody   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Method, &ev.URI,
			&attackType, &ev.Action, &headers, &fullBody, &ev.Severity); err != nil {
			return nil, fmt.Errorf("eventlog: recent events: %w", err)
		}
		ev.AttackType = attackType.String
		ev.Headers = headers.String
		ev.FullBody = fullBody.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: recent events: %w", err)
	}
	return out, nil
}

// AggregateReport is the time-series payload for the analytics dashboard.
type AggregateReport struct {
	TimeRange          string            `json:"time_range"`
	Summary            AggregateSummary  `json:"summary"`
	TrafficVolume      []TrafficPoint    `json:"traffic_volume"`
	LatencyData        []LatencyPoint    `json:"latency_data"`
	AttackDistribution []AttackTypeCount `json:"attack_distribution"`
}

// AggregateSummary totals one time range.
type AggregateSummary struct {
	TotalRequests   int64   `json:"total_requests"`
	BlockedRequests int64   `json:"blocked_requests"`
	AllowedRequests int64   `json:"allowed_requests"`
	AvgLatency      float64 `json:"avg_latency"`
	MaxLatency      float64 `json:"max_latency"`
	UniqueIPs       int64   `json:"unique_ips"`
}

// TrafficPoint is request volume in one time bucket.
type TrafficPoint struct {
	Time            time.Time `json:"time"`
	TotalRequests   int64     `json:"total_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
}

// LatencyPoint is decision latency in one time bucket.
type LatencyPoint struct {
	Time       time.Time `json:"time"`
	AvgLatency float64   `json:"avg_latency"`
	MaxLatency float64   `json:"max_latency"`
}

// aggregateWindow maps a range token to its span and bucket width.
type aggregateWindow struct {
	span   time.Duration
	bucket time.Duration
}

var aggregateWindows = map[string]aggregateWindow{
	"15m": {span: 15 * time.Minute, bucket: time.Minute},
	"1h":  {span: time.Hour, bucket: 5 * time.Minute},
	"24h": {span: 24 * time.Hour, bucket: time.Hour},
	"7d":  {span: 7 * 24 * time.Hour, bucket: 6 * time.Hour},
}

// Buckets are epoch-aligned: floor(epoch / width) * width. Postgres's
// date_trunc only takes named units, which cannot express 5-minute or
// 6-hour buckets.
const trafficVolumeSQL = `
	SELECT
		to_timestamp(floor(extract(epoch FROM timestamp) / $1) * $1) AS time,
		COUNT(*) AS total_requests,
		COUNT(*) FILTER (WHERE action = 'BLOCKED') AS blocked_requests,
		COUNT(*) FILTER (WHERE action = 'ALLOWED') AS allowed_requests
	FROM requests
	WHERE timestamp >= $2
	GROUP BY time
	ORDER BY time`

const latencySeriesSQL = `
	SELECT
		to_timestamp(floor(extract(epoch FROM timestamp) / $1) * $1) AS time,
		AVG(decision_latency_ms) AS avg_latency,
		MAX(decision_latency_ms) AS max_latency
	FROM requests
	WHERE timestamp >= $2
	GROUP BY time
	ORDER BY time`

const attackDistributionSQL = `
	SELECT
		COALESCE(attack_type, 'Unknown') AS attack_type,
		COUNT(*) AS count
	FROM requests
	WHERE timestamp >= $1
	AND action = 'BLOCKED'
	GROUP BY attack_type
	ORDER BY count DESC
	LIMIT 10`

const aggregateSummarySQL = `
	SELECT
		COUNT(*) AS total_requests,
		COUNT(*) FILTER (WHERE action = 'BLOCKED') AS blocked_requests,
		COUNT(*) FILTER (WHERE action = 'ALLOWED') AS allowed_requests,
		AVG(decision_latency_ms) AS avg_latency,
		MAX(decision_latency_ms) AS max_latency,
		COUNT(DISTINCT source_ip) AS unique_ips
	FROM requests
	WHERE timestamp >= $1`

// Aggregate builds the dashboard time series for one of the ranges
// 15m, 1h, 24h or 7d. Unknown ranges fall back to 1h.
func (l *Log) Aggregate(ctx context.Context, timeRange string) (*AggregateReport, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	window, ok := aggregateWindows[timeRange]
	if !ok {
		timeRange = "1h"
		window = aggregateWindows[timeRange]
	}
	bucketSecs := window.bucket.Seconds()
	cutoff := time.Now().Add(-window.span)

	report := &AggregateReport{
		TimeRange:          timeRange,
		TrafficVolume:      []TrafficPoint{},
		LatencyData:        []LatencyPoint{},
		AttackDistribution: []AttackTypeCount{},
	}

	rows, err := l.db.QueryContext(ctx, trafficVolumeSQL, bucketSecs, cutoff)
	if err != nil {
		return nil, fmt.Errorf("eventlog: traffic volume: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p TrafficPoint
		if err := rows.Scan(&p.Time, &p.TotalRequests, &p.BlockedRequests, &p.AllowedRequests); err != nil {
			return nil, fmt.Errorf("eventlog: traffic volume: %w", err)
		}
		report.TrafficVolume = append(report.TrafficVolume, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: traffic volume: %w", err)
	}

	latRows, err := l.db.QueryContext(ctx, latencySeriesSQL, bucketSecs, cutoff)
	if err != nil {
		return nil, fmt.Errorf("eventlog: latency series: %w", err)
	}
	defer latRows.Close()
	for latRows.Next() {
		var (
			p   LatencyPoint
			avg sql.NullFloat64
			max sql.NullFloat64
		)
		if err := latRows.Scan(&p.Time, &avg, &max); err != nil {
			return nil, fmt.Errorf("eventlog: latency series: %w", err)
		}
		p.AvgLatency = avg.Float64
		p.MaxLatency = max.Float64
		report.LatencyData = append(report.LatencyData, p)
	}
	if err := latRows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: latency series: %w", err)
	}

	distRows, err := l.db.QueryContext(ctx, attackDistributionSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("eventlog: attack distribution: %w", err)
	}
	defer distRows.Close()
	for distRows.Next() {
		var at AttackTypeCount
		if err := distRows.Scan(&at.AttackType, &at.Count); err != nil {
			return nil, fmt.Errorf("eventlog: attack distribution: %w", err)
		}
		report.AttackDistribution = append(report.AttackDistribution, at)
	}
	if err := distRows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: attack distribution: %w", err)
	}

	var avgLat, maxLat sql.NullFloat64
	err = l.db.QueryRowContext(ctx, aggregateSummarySQL, cutoff).Scan(
		&report.Summary.TotalRequests, &report.Summary.BlockedRequests,
		&report.Summary.AllowedRequests, &avgLat, &maxLat, &report.Summary.UniqueIPs,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: aggregate summary: %w", err)
	}
	report.Summary.AvgLatency = avgLat.Float64
	report.Summary.MaxLatency = maxLat.Float64

	return report, nil
}
