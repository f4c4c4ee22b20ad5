// Package inference is the HTTP client for the scoring service. The
// decision engine treats every failure here as a fault and applies its
// fail-open or fail-closed policy; nothing in this package retries.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentra/waf/internal/circuitbreaker"
	"github.com/sentra/waf/internal/core"
)

// Config holds the scoring service endpoint and request budget.
type Config struct {
	// BaseURL is the scoring service root, e.g. "http://ai-service:5001".
	BaseURL string

	// Timeout bounds a single scoring call (default 5s).
	Timeout time.Duration
}

// Client talks to the scoring service. A circuit breaker sits in front of
// the scoring path so a dead service fails calls immediately instead of
// eating the timeout on every request.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a scoring client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("ai-service")),
	}
}

// analyzeRequest is the wire shape of POST /analyze.
type analyzeRequest struct {
	Method       string            `json:"method"`
	URI          string            `json:"uri"`
	QueryString  string            `json:"query_string"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	SourceIP     string            `json:"source_ip"`
	GeoCountry   string            `json:"geo_country"`
	IPReputation float64           `json:"ip_reputation"`
}

// Result is the scoring service's assessment of one request.
type Result struct {
	RiskScore   float64                `json:"risk_score"`
	Reason      string                 `json:"reason"`
	AttackType  string                 `json:"attack_type"`
	Features    map[string]interface{} `json:"features"`
	RiskFactors map[string]string      `json:"risk_factors"`
}

// Score asks the scoring service for a risk assessment. Transport errors,
// timeouts and non-200 responses all surface as errors.
func (c *Client) Score(ctx context.Context, req core.RequestMetadata, geo core.GeoAttribution, ipReputation float64) (*Result, error) {
	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	payload := analyzeRequest{
		Method:       req.Method,
		URI:          req.URI,
		QueryString:  req.QueryString,
		Headers:      headers,
		Body:         req.Body,
		SourceIP:     req.SourceIP,
		GeoCountry:   geo.CountryCode,
		IPReputation: ipReputation,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("inference: failed to marshal request: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doScore(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

func (c *Client) doScore(ctx context.Context, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		c.config.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference: scoring service returned %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inference: failed to read response: %w", err)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("inference: failed to parse response: %w", err)
	}
	return &result, nil
}

// Retrain queues a model retraining job on the scoring service and returns
// its response verbatim so the API can pass it through.
func (c *Client) Retrain(ctx context.Context, trigger string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"trigger": trigger})
	if err != nil {
		return nil, fmt.Errorf("inference: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		c.config.BaseURL+"/retrain", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: retrain request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inference: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference: retrain returned %d", resp.StatusCode)
	}
	return respBody, nil
}
