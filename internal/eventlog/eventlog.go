// Package eventlog is the durable record of every decided request. It owns
// the Postgres schema: the requests table, the human-labeled training_data
// table, and the ip_reputation rollup that feeds the inspection API.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/sentra/waf/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound reports an operation against a request id that does not exist.
var ErrNotFound = errors.New("eventlog: request not found")

const (
	// opTimeout bounds any single statement.
	opTimeout = 60 * time.Second

	// bodySampleLimit is how much of the body lands in the indexed
	// body_sample column; full_body keeps the rest.
	bodySampleLimit = 10000
)

// Log is the Postgres-backed event log. Safe for concurrent use; pooling
// is delegated to database/sql.
type Log struct {
	db *sql.DB
}

// New wraps an existing database handle. Used by tests; production code
// goes through Open.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Open connects to Postgres, sizes the pool and ensures the schema exists.
func Open(databaseURL string) (*Log, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: ping: %w", err)
	}

	l := New(db)
	if err := l.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Database connection pool created", "max_open", 20, "max_idle", 5)
	return l, nil
}

// InitSchema applies the embedded DDL. Every statement is idempotent.
func (l *Log) InitSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("eventlog: init schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (l *Log) Close() error {
	return l.db.Close()
}

// Healthy reports whether the database answers a trivial query.
func (l *Log) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return l.db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}

// Entry is one decided request ready for persistence.
type Entry struct {
	Request core.RequestMetadata
	Geo     core.GeoAttribution
	Verdict core.Verdict
}

const insertRequestSQL = `
	INSERT INTO requests (
		source_ip, method, uri, query_string, user_agent,
		referer, content_type, content_length, body_sample, full_body,
		geo_country, geo_city, geo_lat, geo_lon,
		risk_score, risk_factors, features,
		action, attack_type, blocked_by, decision_latency_ms,
		headers
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22
	) RETURNING id`

// Store persists one decided request and returns its id. The ip_reputation
// rollup is bumped best-effort; a rollup failure never fails the store.
func (l *Log) Store(ctx context.Context, e Entry) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	bodySample := e.Request.Body
	if len(bodySample) > bodySampleLimit {
		bodySample = bodySample[:bodySampleLimit]
	}

	headersJSON := marshalJSON(e.Request.Headers)
	featuresJSON := marshalJSON(e.Verdict.Features)
	riskFactorsJSON := marshalJSON(e.Verdict.RiskFactors)

	var id int64
	err := l.db.QueryRowContext(ctx, insertRequestSQL,
		e.Request.SourceIP,
		e.Request.Method,
		e.Request.URI,
		e.Request.QueryString,
		e.Request.Header("user-agent"),
		e.Request.Header("referer"),
		e.Request.Header("content-type"),
		len(e.Request.Body),
		bodySample,
		e.Request.Body,
		e.Geo.CountryCode,
		e.Geo.City,
		e.Geo.Latitude,
		e.Geo.Longitude,
		e.Verdict.RiskScore,
		riskFactorsJSON,
		featuresJSON,
		string(e.Verdict.Action),
		nullIfEmpty(e.Verdict.AttackType),
		string(e.Verdict.DecidedBy),
		e.Verdict.LatencyMs,
		headersJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("eventlog: store request: %w", err)
	}

	l.bumpReputation(ctx, e.Request.SourceIP, e.Verdict.Action == core.ActionBlocked)
	return id, nil
}

const bumpReputationSQL = `
	INSERT INTO ip_reputation (ip_address, total_requests, blocked_requests, reputation_score, last_seen)
	VALUES ($1, 1, $2, 1.0 - $2::float, NOW())
	ON CONFLICT (ip_address) DO UPDATE SET
		total_requests = ip_reputation.total_requests + 1,
		blocked_requests = ip_reputation.blocked_requests + $2,
		reputation_score = GREATEST(0.0, LEAST(1.0,
			1.0 - (ip_reputation.blocked_requests + $2)::float / (ip_reputation.total_requests + 1))),
		last_seen = NOW()`

func (l *Log) bumpReputation(ctx context.Context, ip string, blocked bool) {
	delta := 0
	if blocked {
		delta = 1
	}
	if _, err := l.db.ExecContext(ctx, bumpReputationSQL, ip, delta); err != nil {
		slog.Warn("Failed to update ip_reputation rollup", "ip", ip, "error", err)
	}
}

// ListOptions filter List. Zero values mean no filter; Limit defaults
// to 100.
type ListOptions struct {
	Limit        int
	Offset       int
	Action       string
	MinRiskScore *float64
}

const listSelectSQL = `
	SELECT
		id, timestamp, source_ip, method, uri,
		geo_country, geo_city, geo_lat, geo_lon,
		risk_score, action, attack_type, blocked_by,
		human_decision, decision_latency_ms,
		headers, full_body
	FROM requests
	WHERE 1=1`

// List returns decided requests newest first.
func (l *Log) List(ctx context.Context, opts ListOptions) ([]core.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := listSelectSQL
	params := []interface{}{}
	if opts.Action != "" {
		params = append(params, opts.Action)
		query += fmt.Sprintf(" AND action = $%d", len(params))
	}
	if opts.MinRiskScore != nil {
		params = append(params, *opts.MinRiskScore)
		query += fmt.Sprintf(" AND risk_score >= $%d", len(params))
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", len(params)+1, len(params)+2)
	params = append(params, opts.Limit, opts.Offset)

	rows, err := l.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list requests: %w", err)
	}
	defer rows.Close()

	records := []core.DecisionRecord{}
	for rows.Next() {
		var (
			rec           core.DecisionRecord
			geoCountry    sql.NullString
			geoCity       sql.NullString
			geoLat        sql.NullFloat64
			geoLon        sql.NullFloat64
			attackType    sql.NullString
			humanDecision sql.NullString
			headers       sql.NullString
			fullBody      sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.SourceIP, &rec.Method, &rec.URI,
			&geoCountry, &geoCity, &geoLat, &geoLon,
			&rec.RiskScore, &rec.Action, &attackType, &rec.DecidedBy,
			&humanDecision, &rec.LatencyMs,
			&headers, &fullBody,
		); err != nil {
			return nil, fmt.Errorf("eventlog: scan request: %w", err)
		}
		rec.GeoCountry = geoCountry.String
		rec.GeoCity = geoCity.String
		rec.GeoLat = geoLat.Float64
		rec.GeoLon = geoLon.Float64
		rec.AttackType = attackType.String
		rec.HumanDecision = humanDecision.String
		rec.Headers = headers.String
		rec.FullBody = fullBody.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: list requests: %w", err)
	}
	return records, nil
}

// ListPending returns requests awaiting human review, capped at 50.
func (l *Log) ListPending(ctx context.Context) ([]core.DecisionRecord, error) {
	return l.List(ctx, ListOptions{Action: string(core.ActionPending), Limit: 50})
}

const updateHumanDecisionSQL = `
	UPDATE requests
	SET human_decision = $1,
		human_reviewed_at = NOW(),
		human_reviewer = $2,
		human_notes = $3,
		action = CASE
			WHEN $1 = 'BLOCK' THEN 'BLOCKED'
			WHEN $1 = 'ALLOW' THEN 'ALLOWED'
			ELSE action
		END
	WHERE id = $4`

// UpdateHumanDecision records a reviewer's verdict and rewrites the
// stored action accordingly. decision is ALLOW or BLOCK.
func (l *Log) UpdateHumanDecision(ctx context.Context, id int64, decision, reviewer, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, updateHumanDecisionSQL, decision, reviewer, notes, id)
	if err != nil {
		return fmt.Errorf("eventlog: update human decision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("eventlog: update human decision: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	slog.Info("Human decision recorded", "request_id", id, "decision", decision)
	return nil
}

const promoteTrainingSQL = `
	INSERT INTO training_data (request_id, features, is_malicious, attack_type, labeled_by)
	SELECT id, features, $2, attack_type, $3
	FROM requests
	WHERE id = $1
	ON CONFLICT (request_id, labeled_by) DO NOTHING`

// PromoteToTraining copies a reviewed request's features into the
// training set. Repeated promotion by the same labeler is a no-op.
func (l *Log) PromoteToTraining(ctx context.Context, id int64, isMalicious bool, labeledBy string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, promoteTrainingSQL, id, isMalicious, labeledBy); err != nil {
		return fmt.Errorf("eventlog: promote to training: %w", err)
	}
	return nil
}

const reputationSelectSQL = `
	SELECT total_requests, blocked_requests, reputation_score
	FROM ip_reputation
	WHERE ip_address = $1`

const reputationAggregateSQL = `
	SELECT COUNT(*), COUNT(*) FILTER (WHERE action = 'BLOCKED')
	FROM requests
	WHERE source_ip = $1`

// Reputation returns the durable reputation profile for an IP. When the
// rollup has no row it is reconstructed from the requests table; an IP
// never seen at all gets the neutral default.
func (l *Log) Reputation(ctx context.Context, ip string) (core.IPReputation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rep core.IPReputation
	err := l.db.QueryRowContext(ctx, reputationSelectSQL, ip).
		Scan(&rep.TotalRequests, &rep.BlockedRequests, &rep.ReputationScore)
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.DefaultReputation(), fmt.Errorf("eventlog: ip reputation: %w", err)
	}

	if err := l.db.QueryRowContext(ctx, reputationAggregateSQL, ip).
		Scan(&rep.TotalRequests, &rep.BlockedRequests); err != nil {
		return core.DefaultReputation(), fmt.Errorf("eventlog: ip reputation: %w", err)
	}
	if rep.TotalRequests == 0 {
		return core.DefaultReputation(), nil
	}
	rep.ReputationScore = 1.0 - float64(rep.BlockedRequests)/float64(rep.TotalRequests)
	if rep.ReputationScore < 0 {
		rep.ReputationScore = 0
	}
	return rep, nil
}

func marshalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return []byte("{}")
	}
	return b
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
