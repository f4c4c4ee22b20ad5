// Package features computes the numeric request representation the scoring
// model consumes, plus the heuristics that attribute an attack family and
// explain a score to a human reviewer.
package features

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sentra/waf/internal/core"
)

// Vector is one extracted feature set, keyed by schema name. Indicator
// features hold 0 or 1.
type Vector map[string]float64

// Names is the frozen feature schema in declaration order. The scorer was
// trained against exactly these names; adding, removing or renaming one is
// a model-retraining event.
var Names = []string{
	"method_is_post", "method_is_get",
	"uri_length", "query_length", "body_length", "total_length",
	"path_depth", "has_query", "num_params",
	"url_encoded_chars", "hex_encoded_chars", "unicode_chars", "non_ascii_ratio",
	"entropy", "uri_entropy",
	"sql_keyword_count", "sql_keyword_density", "has_sql_comment",
	"has_union", "has_select", "has_quotes",
	"xss_pattern_count", "has_script_tag", "has_javascript",
	"has_event_handler", "html_tag_count",
	"has_dot_dot", "path_traversal_count", "has_file_protocol",
	"special_char_count", "special_char_ratio",
	"user_agent_length", "has_user_agent", "suspicious_user_agent",
	"ip_reputation", "geo_risk",
}

var sqlKeywords = []string{
	"union", "select", "insert", "update", "delete", "drop", "create",
	"alter", "exec", "execute", "script", "javascript", "eval", "expression",
	"from", "where", "having", "group", "order", "limit", "offset",
	"--", "/*", "*/", "xp_", "sp_", "char(", "concat", "waitfor",
}

var xssPatterns = compileAll(
	`<script[^>]*>`,
	`javascript:`,
	`onerror\s*=`,
	`onload\s*=`,
	`onclick\s*=`,
	`<iframe`,
	`<embed`,
	`<object`,
	`alert\(`,
	`document\.cookie`,
	`window\.location`,
)

var traversalPatterns = []string{
	"../", "..\\", "%2e%2e/", "%2e%2e\\",
	"..../", "....\\",
	"/etc/passwd", "/etc/shadow", "c:\\windows",
	"file://", "gopher://",
}

var eventHandlers = []string{"onerror", "onload", "onclick", "onmouseover", "onfocus"}

var suspiciousAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "burp", "zap",
	"python-requests", "curl", "wget", "bot", "crawler", "spider",
}

var (
	urlEncodedRe = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	hexEncodedRe = regexp.MustCompile(`0x[0-9A-Fa-f]+`)
	unicodeRe    = regexp.MustCompile(`\\u[0-9A-Fa-f]{4}`)
	specialRe    = regexp.MustCompile("[<>'\";&|$`\\\\]")
)

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile("(?i)" + p)
	}
	return res
}

// Extract computes the full vector for a request. Pure and deterministic.
// Lengths and ratios count runes, which is what the scorer's training
// pipeline counted.
func Extract(req core.RequestMetadata, geoCountry string, ipReputation float64) Vector {
	fullText := strings.ToLower(req.URI + " " + req.QueryString + " " + req.Body)
	userAgent := req.Header("user-agent")

	v := Vector{
		"method_is_post": indicator(req.Method == "POST"),
		"method_is_get":  indicator(req.Method == "GET"),
		"uri_length":     float64(utf8.RuneCountInString(req.URI)),
		"query_length":   float64(utf8.RuneCountInString(req.QueryString)),
		"body_length":    float64(utf8.RuneCountInString(req.Body)),
		"total_length":   float64(utf8.RuneCountInString(fullText)),

		"path_depth": float64(strings.Count(req.URI, "/")),
		"has_query":  indicator(req.QueryString != ""),
		"num_params": numParams(req.QueryString),

		"url_encoded_chars": float64(len(urlEncodedRe.FindAllString(fullText, -1))),
		"hex_encoded_chars": float64(len(hexEncodedRe.FindAllString(fullText, -1))),
		"unicode_chars":     float64(len(unicodeRe.FindAllString(fullText, -1))),
		"non_ascii_ratio":   nonASCIIRatio(fullText),

		"entropy":     entropy(fullText),
		"uri_entropy": entropy(req.URI),

		"sql_keyword_count":   float64(countSQLKeywords(fullText)),
		"sql_keyword_density": sqlKeywordDensity(fullText),
		"has_sql_comment":     indicator(strings.Contains(fullText, "--") || strings.Contains(fullText, "/*")),
		"has_union":           indicator(strings.Contains(fullText, "union")),
		"has_select":          indicator(strings.Contains(fullText, "select")),
		"has_quotes":          float64(strings.Count(fullText, "'") + strings.Count(fullText, `"`)),

		"xss_pattern_count": float64(countXSSPatterns(fullText)),
		"has_script_tag":    indicator(strings.Contains(fullText, "<script")),
		"has_javascript":    indicator(strings.Contains(fullText, "javascript:")),
		"has_event_handler": indicator(containsAny(fullText, eventHandlers...)),
		"html_tag_count":    float64(strings.Count(fullText, "<")),

		"has_dot_dot":           indicator(strings.Contains(fullText, "..")),
		"path_traversal_count":  float64(countTraversal(fullText)),
		"has_file_protocol":     indicator(strings.Contains(fullText, "file://") || strings.Contains(fullText, "gopher://")),
		"special_char_count":    float64(len(specialRe.FindAllString(fullText, -1))),
		"special_char_ratio":    specialCharRatio(fullText),
		"user_agent_length":     float64(utf8.RuneCountInString(userAgent)),
		"has_user_agent":        indicator(userAgent != ""),
		"suspicious_user_agent": indicator(isSuspiciousAgent(userAgent)),

		"ip_reputation": ipReputation,
		"geo_risk":      geoRisk(geoCountry),
	}
	return v
}

// Map converts the vector for JSON columns and verdict payloads.
func (v Vector) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func numParams(query string) float64 {
	if query == "" {
		return 0
	}
	return float64(strings.Count(query, "&") + 1)
}

func nonASCIIRatio(text string) float64 {
	if text == "" {
		return 0
	}
	total, nonASCII := 0, 0
	for _, r := range text {
		total++
		if r > 127 {
			nonASCII++
		}
	}
	return float64(nonASCII) / float64(total)
}

// entropy is the Shannon entropy of the rune distribution, in bits.
func entropy(text string) float64 {
	if text == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range text {
		counts[r]++
		total++
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func countSQLKeywords(text string) int {
	count := 0
	for _, kw := range sqlKeywords {
		count += strings.Count(text, kw)
	}
	return count
}

// sqlKeywordDensity normalizes the keyword count by the number of
// whitespace-separated fields, never dividing by zero.
func sqlKeywordDensity(text string) float64 {
	fields := len(strings.Fields(text))
	if fields < 1 {
		fields = 1
	}
	return float64(countSQLKeywords(text)) / float64(fields)
}

func countXSSPatterns(text string) int {
	count := 0
	for _, re := range xssPatterns {
		count += len(re.FindAllString(text, -1))
	}
	return count
}

func countTraversal(text string) int {
	count := 0
	for _, p := range traversalPatterns {
		count += strings.Count(text, p)
	}
	return count
}

func specialCharRatio(text string) float64 {
	if text == "" {
		return 0
	}
	return float64(len(specialRe.FindAllString(text, -1))) / float64(utf8.RuneCountInString(text))
}

func isSuspiciousAgent(userAgent string) bool {
	return containsAny(strings.ToLower(userAgent), suspiciousAgents...)
}

// geoRisk flags countries the threat feed marks high risk; XX covers
// unresolvable origins.
func geoRisk(countryCode string) float64 {
	switch countryCode {
	case "XX", "CN", "RU", "KP":
		return 0.7
	}
	return 0.3
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
