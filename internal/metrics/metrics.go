package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the decision pipeline
type Metrics struct {
	// Decision metrics
	DecisionsTotal  *prometheus.CounterVec
	DecisionLatency *prometheus.HistogramVec

	// Stage metrics
	CacheHits        prometheus.Counter
	SignatureMatches *prometheus.CounterVec
	InferenceFaults  prometheus.Counter
	RateLimitRejects prometheus.Counter

	// Broadcast metrics
	StreamSubscribers prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waf_decisions_total",
				Help: "Total number of analyzed requests by outcome",
			},
			[]string{"action", "decided_by"},
		),

		DecisionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "waf_decision_latency_seconds",
				Help:    "End-to-end decision latency per request",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"action"},
		),

		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "waf_score_cache_hits_total",
				Help: "Verdicts served from the cached inference score",
			},
		),

		SignatureMatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waf_signature_matches_total",
				Help: "Requests blocked by the signature pre-check",
			},
			[]string{"family"},
		),

		InferenceFaults: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "waf_inference_faults_total",
				Help: "Scoring service calls that failed or timed out",
			},
		),

		RateLimitRejects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "waf_rate_limit_rejections_total",
				Help: "Requests rejected by the fixed-window rate limiter",
			},
		),

		StreamSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "waf_stream_subscribers",
				Help: "Currently connected live-stream subscribers",
			},
		),
	}
}

// RecordDecision records an analyzed request and its latency
func (m *Metrics) RecordDecision(action, decidedBy string, seconds float64) {
	m.DecisionsTotal.WithLabelValues(action, decidedBy).Inc()
	m.DecisionLatency.WithLabelValues(action).Observe(seconds)
}

// RecordCacheHit records a verdict served from the score cache
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordSignatureMatch records a signature block
func (m *Metrics) RecordSignatureMatch(family string) {
	m.SignatureMatches.WithLabelValues(family).Inc()
}

// RecordInferenceFault records a failed scoring call
func (m *Metrics) RecordInferenceFault() {
	m.InferenceFaults.Inc()
}

// RecordRateLimitReject records a rate-limiter rejection
func (m *Metrics) RecordRateLimitReject() {
	m.RateLimitRejects.Inc()
}

// StreamSubscriberChange moves the subscriber gauge by delta
func (m *Metrics) StreamSubscriberChange(delta float64) {
	m.StreamSubscribers.Add(delta)
}
