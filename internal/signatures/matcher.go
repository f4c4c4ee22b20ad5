// Package signatures implements the pattern pre-check that runs before
// inference. It exists so well-known attack shapes get blocked even when
// the scoring service is degraded or wrong.
package signatures

import (
	"fmt"
	"regexp"

	"github.com/sentra/waf/internal/core"
)

type compiledRule struct {
	re       *regexp.Regexp
	pattern  string
	family   string
	severity Severity
}

// Matcher evaluates an ordered signature list against requests. Immutable
// after construction, safe for concurrent use.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules in order, case-insensitively.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile signature %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{
			re:       re,
			pattern:  r.Pattern,
			family:   r.Family,
			severity: r.Severity,
		})
	}
	return &Matcher{rules: compiled}, nil
}

// Match runs each rule against the URI, query string and body in rule
// order and returns the verdict for the first hit, or nil when the
// request matches nothing.
func (m *Matcher) Match(req core.RequestMetadata) *core.Verdict {
	targets := [...]string{req.URI, req.QueryString, req.Body}
	for _, rule := range m.rules {
		for _, target := range targets {
			if !rule.re.MatchString(target) {
				continue
			}
			risk := 0.8
			if rule.severity == SeverityCritical {
				risk = 1.0
			}
			return &core.Verdict{
				Action:      core.ActionBlocked,
				RiskScore:   risk,
				Reason:      "Matched signature: " + rule.family,
				AttackType:  rule.family,
				DecidedBy:   core.DecidedBySignature,
				Features:    map[string]interface{}{"pattern_match": rule.pattern},
				RiskFactors: map[string]string{"signature_match": "true"},
			}
		}
	}
	return nil
}
