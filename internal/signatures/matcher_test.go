package signatures

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra/waf/internal/core"
)

func newDefaultMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultRules())
	require.NoError(t, err)
	return m
}

func TestMatchCloudMetadata(t *testing.T) {
	m := newDefaultMatcher(t)

	v := m.Match(core.RequestMetadata{
		SourceIP: "10.2.0.7",
		Method:   "GET",
		URI:      "/fetch?url=http://169.254.169.254/latest/meta-data/",
	})
	require.NotNil(t, v)
	assert.Equal(t, core.ActionBlocked, v.Action)
	assert.Equal(t, 1.0, v.RiskScore)
	assert.Equal(t, "Matched signature: SSRF", v.Reason)
	assert.Equal(t, core.FamilySSRF, v.AttackType)
	assert.Equal(t, core.DecidedBySignature, v.DecidedBy)
	assert.Equal(t, `169\.254\.169\.254`, v.Features["pattern_match"])
	assert.Equal(t, "true", v.RiskFactors["signature_match"])
}

func TestMatchSeverityMapsToRisk(t *testing.T) {
	m := newDefaultMatcher(t)

	cases := []struct {
		name string
		uri  string
		risk float64
	}{
		{"critical", "/load?src=file:///etc/hostname", 1.0},
		{"high", "/load?src=ftp://evil.example", 0.8},
		{"medium", "/search?q=alert(1)", 0.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := m.Match(core.RequestMetadata{Method: "GET", URI: tc.uri})
			require.NotNil(t, v)
			assert.Equal(t, tc.risk, v.RiskScore)
		})
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	m := newDefaultMatcher(t)

	// Hits both the <script> rule and the later alert( rule; the earlier
	// rule decides.
	v := m.Match(core.RequestMetadata{
		Method: "POST",
		URI:    "/comment",
		Body:   "<script>alert(document.cookie)</script>",
	})
	require.NotNil(t, v)
	assert.Equal(t, core.FamilyXSS, v.AttackType)
	assert.Equal(t, 1.0, v.RiskScore)
	assert.Equal(t, "<script>", v.Features["pattern_match"])
}

func TestMatchInspectsQueryAndBody(t *testing.T) {
	m := newDefaultMatcher(t)

	v := m.Match(core.RequestMetadata{
		Method:      "GET",
		URI:         "/download",
		QueryString: "path=../../../../etc/passwd",
	})
	require.NotNil(t, v)
	assert.Equal(t, core.FamilyPathTraversal, v.AttackType)

	v = m.Match(core.RequestMetadata{
		Method: "POST",
		URI:    "/webhook",
		Body:   `{"target":"gopher://127.0.0.1:6379/_EVAL"}`,
	})
	require.NotNil(t, v)
	assert.Equal(t, core.FamilySSRF, v.AttackType)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	m := newDefaultMatcher(t)

	v := m.Match(core.RequestMetadata{
		Method:      "GET",
		URI:         "/products",
		QueryString: "id=1 union select password from users",
	})
	require.NotNil(t, v)
	assert.Equal(t, core.FamilySQLInjection, v.AttackType)
	assert.Equal(t, 1.0, v.RiskScore)
}

func TestMatchPassesCleanRequest(t *testing.T) {
	m := newDefaultMatcher(t)

	v := m.Match(core.RequestMetadata{
		SourceIP:    "10.1.1.10",
		Method:      "GET",
		URI:         "/products",
		QueryString: "id=123",
	})
	assert.Nil(t, v)
}

func TestNewMatcherRejectsBadPattern(t *testing.T) {
	_, err := NewMatcher([]Rule{{Pattern: `([`, Family: core.FamilyXSS, Severity: SeverityHigh}})
	assert.Error(t, err)
}

func TestLoadRulesAppendsAfterDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `rules:
  - pattern: xp_cmdshell
    family: SQL_INJECTION
    severity: CRITICAL
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	extra, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, extra, 1)
	assert.Equal(t, SeverityCritical, extra[0].Severity)

	m, err := NewMatcher(append(DefaultRules(), extra...))
	require.NoError(t, err)

	v := m.Match(core.RequestMetadata{
		Method: "POST",
		URI:    "/api/exec",
		Body:   "EXEC xp_cmdshell 'dir'",
	})
	require.NotNil(t, v)
	assert.Equal(t, 1.0, v.RiskScore)
}

func TestLoadRulesErrors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: {not a list"), 0o644))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
