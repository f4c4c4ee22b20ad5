package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra/waf/internal/core"
)

func TestExtractEmitsFrozenSchema(t *testing.T) {
	v := Extract(core.RequestMetadata{
		SourceIP:    "10.1.1.10",
		Method:      "GET",
		URI:         "/products",
		QueryString: "id=123",
		Headers:     map[string]string{"User-Agent": "Mozilla/5.0"},
	}, "US", 0.5)

	require.Len(t, v, len(Names))
	for _, name := range Names {
		_, ok := v[name]
		assert.True(t, ok, "missing feature %q", name)
	}
}

func TestExtractBenignGet(t *testing.T) {
	v := Extract(core.RequestMetadata{
		Method:      "GET",
		URI:         "/products",
		QueryString: "id=123",
		Headers:     map[string]string{"User-Agent": "Mozilla/5.0"},
	}, "US", 0.5)

	assert.Equal(t, 1.0, v["method_is_get"])
	assert.Equal(t, 0.0, v["method_is_post"])
	assert.Equal(t, 9.0, v["uri_length"])
	assert.Equal(t, 6.0, v["query_length"])
	assert.Equal(t, 0.0, v["body_length"])
	assert.Equal(t, 17.0, v["total_length"], "uri, query and body joined by single spaces")
	assert.Equal(t, 1.0, v["path_depth"])
	assert.Equal(t, 1.0, v["has_query"])
	assert.Equal(t, 1.0, v["num_params"])
	assert.Equal(t, 0.0, v["sql_keyword_count"])
	assert.Equal(t, 0.0, v["xss_pattern_count"])
	assert.Equal(t, 0.0, v["special_char_count"])
	assert.Equal(t, 11.0, v["user_agent_length"])
	assert.Equal(t, 1.0, v["has_user_agent"])
	assert.Equal(t, 0.0, v["suspicious_user_agent"])
	assert.Equal(t, 0.5, v["ip_reputation"])
	assert.Equal(t, 0.3, v["geo_risk"])
	assert.Greater(t, v["entropy"], 0.0)
}

func TestExtractSQLInjection(t *testing.T) {
	v := Extract(core.RequestMetadata{
		Method:      "GET",
		URI:         "/products",
		QueryString: "id=1' UNION SELECT password FROM users--",
	}, "US", 0.5)

	assert.Equal(t, 1.0, v["has_union"])
	assert.Equal(t, 1.0, v["has_select"])
	assert.Equal(t, 1.0, v["has_sql_comment"])
	assert.Equal(t, 1.0, v["has_quotes"])
	// union, select, from and the trailing comment.
	assert.Equal(t, 4.0, v["sql_keyword_count"])
	assert.InDelta(t, 4.0/7.0, v["sql_keyword_density"], 1e-9)
}

func TestExtractXSS(t *testing.T) {
	v := Extract(core.RequestMetadata{
		Method: "POST",
		URI:    "/comment",
		Body:   "<script>alert('xss')</script>",
	}, "US", 0.5)

	assert.Equal(t, 1.0, v["has_script_tag"])
	assert.Equal(t, 0.0, v["has_javascript"])
	// <script> and alert( hit; the closing tag does not.
	assert.Equal(t, 2.0, v["xss_pattern_count"])
	assert.Equal(t, 2.0, v["html_tag_count"])
	assert.Equal(t, 2.0, v["has_quotes"])
	assert.Equal(t, 6.0, v["special_char_count"])
}

func TestExtractEncodingFeatures(t *testing.T) {
	v := Extract(core.RequestMetadata{
		Method:      "GET",
		URI:         "/download",
		QueryString: `path=%2e%2e/etc%2f&marker=0x41&name=\u0041`,
	}, "US", 0.5)

	assert.Equal(t, 3.0, v["url_encoded_chars"])
	assert.Equal(t, 1.0, v["hex_encoded_chars"])
	assert.Equal(t, 1.0, v["unicode_chars"])
	// %2e%2e/ after lowercasing counts as traversal.
	assert.Equal(t, 1.0, v["path_traversal_count"])
}

func TestExtractCountsRunes(t *testing.T) {
	v := Extract(core.RequestMetadata{
		Method: "POST",
		URI:    "/a",
		Body:   "héllo",
	}, "US", 0.5)

	assert.Equal(t, 5.0, v["body_length"])
	assert.InDelta(t, 1.0/9.0, v["non_ascii_ratio"], 1e-9)
}

func TestExtractIsDeterministic(t *testing.T) {
	req := core.RequestMetadata{
		Method:      "GET",
		URI:         "/search",
		QueryString: "q=<script>alert(1)</script>",
		Headers:     map[string]string{"user-agent": "sqlmap/1.7"},
	}
	assert.Equal(t, Extract(req, "CN", 0.1), Extract(req, "CN", 0.1))
}

func TestSuspiciousUserAgents(t *testing.T) {
	cases := []struct {
		agent string
		want  float64
	}{
		{"sqlmap/1.7.2", 1},
		{"Mozilla/5.0 (compatible; Googlebot/2.1)", 1},
		{"python-requests/2.31", 1},
		{"Mozilla/5.0 (Windows NT 10.0)", 0},
		{"", 0},
	}
	for _, tc := range cases {
		v := Extract(core.RequestMetadata{
			Method:  "GET",
			URI:     "/",
			Headers: map[string]string{"user-agent": tc.agent},
		}, "US", 0.5)
		assert.Equal(t, tc.want, v["suspicious_user_agent"], "agent %q", tc.agent)
	}
}

func TestGeoRisk(t *testing.T) {
	for code, want := range map[string]float64{
		"CN": 0.7, "RU": 0.7, "KP": 0.7, "XX": 0.7,
		"US": 0.3, "DE": 0.3, "": 0.3,
	} {
		v := Extract(core.RequestMetadata{Method: "GET", URI: "/"}, code, 0.5)
		assert.Equal(t, want, v["geo_risk"], "country %q", code)
	}
}

func TestEntropyBounds(t *testing.T) {
	assert.Equal(t, 0.0, entropy(""))
	assert.Equal(t, 0.0, entropy("aaaa"))
	assert.InDelta(t, 2.0, entropy("abcd"), 1e-9)
}

func TestNumParams(t *testing.T) {
	assert.Equal(t, 0.0, numParams(""))
	assert.Equal(t, 1.0, numParams("a=1"))
	assert.Equal(t, 3.0, numParams("a=1&b=2&c=3"))
}

func TestDetectFamily(t *testing.T) {
	cases := []struct {
		name string
		uri  string
		qs   string
		body string
		want string
	}{
		{"sql injection", "/products", "id=1' UNION SELECT * FROM users", "", core.FamilySQLInjection},
		{"xss", "/comment", "", "<script>alert(1)</script>", core.FamilyXSS},
		{"traversal", "/download", "path=../../../../etc/passwd", "", core.FamilyPathTraversal},
		{"ssrf", "/fetch", "url=gopher://127.0.0.1:6379", "", core.FamilySSRF},
		{"tie goes to earlier family", "/x", "q=union <script", "", core.FamilySQLInjection},
		{"benign", "/products", "id=123", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectFamily(tc.uri, tc.qs, tc.body))
		})
	}
}

func TestExplainThresholds(t *testing.T) {
	factors := Explain(Vector{
		"sql_keyword_count":     3,
		"xss_pattern_count":     1,
		"path_traversal_count":  2,
		"entropy":               5.5,
		"url_encoded_chars":     11,
		"ip_reputation":         0.2,
		"suspicious_user_agent": 1,
	})

	assert.Equal(t, "Detected 3 SQL keywords", factors["sql_keywords"])
	assert.Equal(t, "Detected 1 XSS patterns", factors["xss_patterns"])
	assert.Equal(t, "Path traversal attempt detected", factors["path_traversal"])
	assert.Equal(t, "Unusually high randomness (entropy: 5.50)", factors["high_entropy"])
	assert.Equal(t, "Excessive URL encoding (11 chars)", factors["encoding"])
	assert.Equal(t, "Low IP reputation score", factors["ip_reputation"])
	assert.Equal(t, "Suspicious user agent detected", factors["user_agent"])
}

func TestExplainQuietOnBenignVector(t *testing.T) {
	factors := Explain(Vector{
		"sql_keyword_count":     2,
		"xss_pattern_count":     0,
		"path_traversal_count":  0,
		"entropy":               4.2,
		"url_encoded_chars":     10,
		"ip_reputation":         0.3,
		"suspicious_user_agent": 0,
	})
	assert.Empty(t, factors)
}

func BenchmarkExtract(b *testing.B) {
	req := core.RequestMetadata{
		SourceIP:    "10.2.0.7",
		Method:      "POST",
		URI:         "/api/login",
		QueryString: "redirect=%2Fhome&session=abc123",
		Headers:     map[string]string{"user-agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"},
		Body:        `{"username":"admin' OR '1'='1","password":"x"}`,
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Extract(req, "CN", 0.4)
	}
}
