package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPInfoCombinesReputationAndGeo(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.ExpectQuery("FROM ip_reputation").
		WithArgs("10.1.0.5").
		WillReturnRows(sqlmock.NewRows([]string{
			"total_requests", "blocked_requests", "reputation_score",
		}).AddRow(int64(40), int64(8), 0.8))

	var resp struct {
		TotalRequests   int64   `json:"total_requests"`
		BlockedRequests int64   `json:"blocked_requests"`
		ReputationScore float64 `json:"reputation_score"`
		GeoData         struct {
			CountryCode string `json:"country_code"`
			City        string `json:"city"`
			IsPrivate   bool   `json:"is_private"`
		} `json:"geo_data"`
	}
	rr := getJSON(t, env.router, "/api/ip/10.1.0.5", &resp)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(40), resp.TotalRequests)
	assert.Equal(t, int64(8), resp.BlockedRequests)
	assert.Equal(t, 0.8, resp.ReputationScore)
	assert.Equal(t, "US", resp.GeoData.CountryCode)
	assert.Equal(t, "San Francisco", resp.GeoData.City)
	assert.True(t, resp.GeoData.IsPrivate)
}

func TestIPInfoUnknownIPIsNeutral(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.ExpectQuery("FROM ip_reputation").
		WithArgs("203.0.113.200").
		WillReturnError(assert.AnError)

	var resp struct {
		TotalRequests   int64   `json:"total_requests"`
		ReputationScore float64 `json:"reputation_score"`
	}
	rr := getJSON(t, env.router, "/api/ip/203.0.113.200", &resp)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(0), resp.TotalRequests)
	assert.Equal(t, 0.5, resp.ReputationScore)
}

func TestBlacklistSetsKeyWithDefaultTTL(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := postJSON(t, env.router, "/api/blacklist", `{"ip_address":"203.0.113.50","reason":"manual review"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"success","message":"IP 203.0.113.50 blacklisted"}`, rr.Body.String())
	assert.True(t, env.mini.Exists("blacklist:203.0.113.50"))
	assert.Equal(t, 86400*time.Second, env.mini.TTL("blacklist:203.0.113.50"))
}

func TestBlacklistHonorsCustomTTL(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := postJSON(t, env.router, "/api/blacklist", `{"ip_address":"203.0.113.51","ttl":120}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 120*time.Second, env.mini.TTL("blacklist:203.0.113.51"))
}

func TestBlacklistRequiresIP(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := postJSON(t, env.router, "/api/blacklist", `{"reason":"no ip"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWhitelistLiftsBan(t *testing.T) {
	env := newTestEnv(t, nil)
	req := postJSON(t, env.router, "/api/blacklist", `{"ip_address":"203.0.113.52"}`)
	require.Equal(t, http.StatusOK, req.Code)
	require.True(t, env.mini.Exists("blacklist:203.0.113.52"))

	rr := postJSON(t, env.router, "/api/whitelist", `{"ip_address":"203.0.113.52"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"success","message":"IP 203.0.113.52 whitelisted"}`, rr.Body.String())
	assert.False(t, env.mini.Exists("blacklist:203.0.113.52"))
}

func TestRetrainPassesResponseThrough(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/retrain" {
			t.Errorf("unexpected scoring service path %s", r.URL.Path)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req["trigger"] != "manual" {
			t.Errorf("unexpected trigger %q", req["trigger"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"training_started","samples":120}`))
	})

	rr := postJSON(t, env.router, "/api/retrain", `{}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"training_started","samples":120}`, rr.Body.String())
}

func TestRetrainServiceDown(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := postJSON(t, env.router, "/api/retrain", `{}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
