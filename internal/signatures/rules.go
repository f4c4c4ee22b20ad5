package signatures

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sentra/waf/internal/core"
)

// Severity grades a rule. CRITICAL rules block with risk 1.0, everything
// else with 0.8.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// Rule is one signature: a case-insensitive regular expression and the
// attack family it evidences.
type Rule struct {
	Pattern  string   `yaml:"pattern"`
	Family   string   `yaml:"family"`
	Severity Severity `yaml:"severity"`
}

// DefaultRules returns the built-in signature list. The order is
// load-bearing: the matcher reports the first hit, and operators tune
// severities against this exact sequence.
func DefaultRules() []Rule {
	return []Rule{
		// Cloud metadata endpoints
		{`169\.254\.169\.254`, core.FamilySSRF, SeverityCritical},
		{`metadata\.google\.internal`, core.FamilySSRF, SeverityCritical},
		{`169\.254\.169\.253`, core.FamilySSRF, SeverityCritical},

		// Loopback and unspecified addresses
		{`localhost`, core.FamilySSRF, SeverityHigh},
		{`127\.0\.0\.\d+`, core.FamilySSRF, SeverityHigh},
		{`0\.0\.0\.0`, core.FamilySSRF, SeverityHigh},
		{`::1`, core.FamilySSRF, SeverityHigh},

		// RFC1918 ranges
		{`10\.\d+\.\d+\.\d+`, core.FamilySSRF, SeverityHigh},
		{`172\.(1[6-9]|2[0-9]|3[0-1])\.\d+\.\d+`, core.FamilySSRF, SeverityHigh},
		{`192\.168\.\d+\.\d+`, core.FamilySSRF, SeverityHigh},

		// Exotic protocols
		{`file://`, core.FamilySSRF, SeverityCritical},
		{`gopher://`, core.FamilySSRF, SeverityCritical},
		{`dict://`, core.FamilySSRF, SeverityCritical},
		{`ftp://`, core.FamilySSRF, SeverityHigh},
		{`tftp://`, core.FamilySSRF, SeverityHigh},

		// Traversal and sensitive files
		{`\.\./\.\./`, core.FamilyPathTraversal, SeverityHigh},
		{`/etc/passwd`, core.FamilyLFI, SeverityCritical},
		{`/windows/win.ini`, core.FamilyLFI, SeverityCritical},

		// Markup injection
		{`<script>`, core.FamilyXSS, SeverityCritical},
		{`javascript:`, core.FamilyXSS, SeverityCritical},
		{`<img\s+[^>]*onerror`, core.FamilyXSS, SeverityCritical},
		{`<svg\s+[^>]*onload`, core.FamilyXSS, SeverityCritical},
		{`<iframe`, core.FamilyXSS, SeverityHigh},
		{`on\w+\s*=`, core.FamilyXSS, SeverityHigh},
		{`alert\(`, core.FamilyXSS, SeverityMedium},
		{`document\.cookie`, core.FamilyXSS, SeverityCritical},

		// SQL idioms
		{`UNION\s+SELECT`, core.FamilySQLInjection, SeverityCritical},
		{`UNION\s+ALL\s+SELECT`, core.FamilySQLInjection, SeverityCritical},
		{`DROP\s+TABLE`, core.FamilySQLInjection, SeverityCritical},
		{`OR\s+['"]?[\w]+['"]?\s*=\s*['"]?[\w]+['"]?`, core.FamilySQLInjection, SeverityHigh},
		{`1\s*=\s*1`, core.FamilySQLInjection, SeverityHigh},
		{`--`, core.FamilySQLInjection, SeverityMedium},
		{`;`, core.FamilySQLInjection, SeverityMedium},
	}
}

// LoadRules reads operator-supplied rules from a YAML file. Callers append
// them after the built-in list so the defaults keep their positions.
func LoadRules(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse signature rules %s: %w", path, err)
	}
	return doc.Rules, nil
}
