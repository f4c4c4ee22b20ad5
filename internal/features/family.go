package features

import (
	"fmt"
	"strings"

	"github.com/sentra/waf/internal/core"
)

// DetectFamily attributes the most likely attack family by weighted
// keyword hits over the combined lowercased request text. Ties go to the
// earlier family in declaration order. Returns "" when nothing scores.
func DetectFamily(uri, query, body string) string {
	text := strings.ToLower(uri + " " + query + " " + body)

	var sqli, xss, traversal, ssrf int
	if containsAny(text, "union", "select", "insert", "--", "xp_") {
		sqli += 3
	}
	if strings.Contains(text, "'") || strings.Contains(text, `"`) {
		sqli++
	}
	if strings.Contains(text, "<script") || strings.Contains(text, "javascript:") {
		xss += 3
	}
	if containsAny(text, "onerror", "onload", "onclick") {
		xss += 2
	}
	if strings.Contains(text, "alert(") {
		xss += 2
	}
	if strings.Contains(text, "..") {
		traversal += 3
	}
	if strings.Contains(text, "/etc/passwd") || strings.Contains(text, `c:\windows`) {
		traversal += 3
	}
	if containsAny(text, "file://", "gopher://", "dict://") {
		ssrf += 3
	}
	if strings.Contains(text, "localhost") || strings.Contains(text, "127.0.0.1") {
		ssrf++
	}

	best, family := 0, ""
	for _, c := range []struct {
		name  string
		score int
	}{
		{core.FamilySQLInjection, sqli},
		{core.FamilyXSS, xss},
		{core.FamilyPathTraversal, traversal},
		{core.FamilySSRF, ssrf},
	} {
		if c.score > best {
			best, family = c.score, c.name
		}
	}
	return family
}

// Explain turns a vector into the human-readable risk factors shown to
// reviewers. Only factors above their reporting thresholds appear.
func Explain(v Vector) map[string]string {
	factors := map[string]string{}

	if v["sql_keyword_count"] > 2 {
		factors["sql_keywords"] = fmt.Sprintf("Detected %d SQL keywords", int(v["sql_keyword_count"]))
	}
	if v["xss_pattern_count"] > 0 {
		factors["xss_patterns"] = fmt.Sprintf("Detected %d XSS patterns", int(v["xss_pattern_count"]))
	}
	if v["path_traversal_count"] > 0 {
		factors["path_traversal"] = "Path traversal attempt detected"
	}
	if v["entropy"] > 5.0 {
		factors["high_entropy"] = fmt.Sprintf("Unusually high randomness (entropy: %.2f)", v["entropy"])
	}
	if v["url_encoded_chars"] > 10 {
		factors["encoding"] = fmt.Sprintf("Excessive URL encoding (%d chars)", int(v["url_encoded_chars"]))
	}
	if v["ip_reputation"] < 0.3 {
		factors["ip_reputation"] = "Low IP reputation score"
	}
	if v["suspicious_user_agent"] > 0 {
		factors["user_agent"] = "Suspicious user agent detected"
	}
	return factors
}
