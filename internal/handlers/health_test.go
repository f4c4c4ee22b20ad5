package handlers

import (
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReportsServices(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	var resp struct {
		Status    string          `json:"status"`
		Timestamp string          `json:"timestamp"`
		Services  map[string]bool `json:"services"`
	}
	rr := getJSON(t, env.router, "/health", &resp)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Timestamp)
	assert.True(t, resp.Services["database"])
	assert.True(t, resp.Services["redis"])
	// The mock geo table carries no database file.
	assert.False(t, resp.Services["geoip"])
}

func TestHealthSurvivesDatabaseOutage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.ExpectQuery("SELECT 1").WillReturnError(assert.AnError)

	var resp struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	rr := getJSON(t, env.router, "/health", &resp)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.False(t, resp.Services["database"])
	assert.True(t, resp.Services["redis"])
}
