// Package engine orchestrates the staged decision pipeline: blacklist,
// cached score, signatures, feature extraction, inference, thresholding.
// Earlier stages short-circuit later ones. The rate limit is applied by
// the gateway before the engine runs.
package engine

import (
	"context"
	"log/slog"

	"github.com/sentra/waf/internal/core"
	"github.com/sentra/waf/internal/features"
	"github.com/sentra/waf/internal/inference"
	"github.com/sentra/waf/internal/metrics"
	"github.com/sentra/waf/internal/signatures"
	"github.com/sentra/waf/internal/store"
)

// Scorer is the inference surface the engine calls. *inference.Client
// satisfies it.
type Scorer interface {
	Score(ctx context.Context, req core.RequestMetadata, geo core.GeoAttribution, ipReputation float64) (*inference.Result, error)
}

// Config carries the decision thresholds and failure policy.
type Config struct {
	// ThresholdLow is the score below which requests are allowed.
	ThresholdLow float64
	// ThresholdHigh is the score above which requests are blocked.
	ThresholdHigh float64
	// FailOpen allows traffic when the scoring service is unreachable.
	// When false an unreachable scorer blocks everything.
	FailOpen bool
	// DryRun rewrites blocking verdicts to ALLOWED for shadow rollouts.
	DryRun bool
}

// Engine runs the decision pipeline.
type Engine struct {
	state   *store.State
	matcher *signatures.Matcher
	scorer  Scorer
	metrics *metrics.Metrics
	cfg     Config
}

// New assembles an engine.
func New(state *store.State, matcher *signatures.Matcher, scorer Scorer, m *metrics.Metrics, cfg Config) *Engine {
	return &Engine{state: state, matcher: matcher, scorer: scorer, metrics: m, cfg: cfg}
}

// Analyze decides one request. It never returns an error: every failure
// mode maps to a verdict under the configured policy.
func (e *Engine) Analyze(ctx context.Context, req core.RequestMetadata, geo core.GeoAttribution, reputation core.IPReputation) core.Verdict {
	return ApplyDryRun(e.cfg.DryRun, e.decide(ctx, req, geo, reputation))
}

func (e *Engine) decide(ctx context.Context, req core.RequestMetadata, geo core.GeoAttribution, reputation core.IPReputation) core.Verdict {
	if e.state.IsBlacklisted(ctx, req.SourceIP) {
		return core.Verdict{
			Action:      core.ActionBlocked,
			RiskScore:   1.0,
			Reason:      "IP in blacklist",
			AttackType:  core.FamilyBlacklisted,
			DecidedBy:   core.DecidedByBlacklist,
			Features:    map[string]interface{}{},
			RiskFactors: map[string]string{},
		}
	}

	digest := DigestRequest(req.Method, req.URI, req.Body).Hex()
	if score, ok := e.state.CachedScore(ctx, digest); ok {
		e.metrics.RecordCacheHit()
		verdict := e.threshold(score, "Cached AI analysis", "",
			map[string]interface{}{}, map[string]string{})
		verdict.FromCache = true
		return verdict
	}

	if verdict := e.matcher.Match(req); verdict != nil {
		e.metrics.RecordSignatureMatch(verdict.AttackType)
		return *verdict
	}

	vector := features.Extract(req, geo.CountryCode, reputation.ReputationScore)

	result, err := e.scorer.Score(ctx, req, geo, reputation.ReputationScore)
	if err != nil {
		e.metrics.RecordInferenceFault()
		slog.Warn("Scoring service unavailable", "error", err)
		if e.cfg.FailOpen {
			return core.Verdict{
				Action:      core.ActionAllowed,
				RiskScore:   0.0,
				Reason:      "AI service unavailable (fail-open)",
				DecidedBy:   core.DecidedByNone,
				Features:    map[string]interface{}{},
				RiskFactors: map[string]string{},
			}
		}
		return core.Verdict{
			Action:      core.ActionBlocked,
			RiskScore:   1.0,
			Reason:      "AI service unavailable (fail-closed)",
			DecidedBy:   core.DecidedByFailsafe,
			Features:    map[string]interface{}{},
			RiskFactors: map[string]string{},
		}
	}

	if err := e.state.SetCachedScore(ctx, digest, result.RiskScore); err != nil {
		slog.Warn("Score cache write failed", "error", err)
	}

	// The scoring service's own attribution wins; the local extraction
	// fills whatever it left out.
	reason := result.Reason
	if reason == "" {
		reason = "AI analysis"
	}
	attackType := result.AttackType
	if attackType == "" {
		attackType = features.DetectFamily(req.URI, req.QueryString, req.Body)
	}
	feats := result.Features
	if len(feats) == 0 {
		feats = vector.Map()
	}
	factors := result.RiskFactors
	if len(factors) == 0 {
		factors = features.Explain(vector)
	}

	return e.threshold(result.RiskScore, reason, attackType, feats, factors)
}

// threshold maps a risk score to a verdict. The same mapping serves
// fresh and cached scores, so cached entries always face the current
// thresholds.
func (e *Engine) threshold(score float64, reason, attackType string, feats map[string]interface{}, factors map[string]string) core.Verdict {
	var action core.Action
	var decidedBy core.DecidedBy
	switch {
	case score < e.cfg.ThresholdLow:
		action, decidedBy = core.ActionAllowed, core.DecidedByNone
	case score > e.cfg.ThresholdHigh:
		action, decidedBy = core.ActionBlocked, core.DecidedByAI
	default:
		action, decidedBy = core.ActionPending, core.DecidedByNone
		reason += " (queued for human review)"
	}

	return core.Verdict{
		Action:      action,
		RiskScore:   score,
		Reason:      reason,
		AttackType:  attackType,
		DecidedBy:   decidedBy,
		Features:    feats,
		RiskFactors: factors,
	}
}

// ApplyDryRun downgrades a blocking verdict to ALLOWED when dry-run is
// enabled. Score, attack family and provenance are left intact so a
// shadow rollout records exactly what enforcement would have blocked.
func ApplyDryRun(enabled bool, v core.Verdict) core.Verdict {
	if enabled && v.Action == core.ActionBlocked {
		v.Action = core.ActionAllowed
		v.Reason += " (Allowed by Dry Run Mode)"
	}
	return v
}
