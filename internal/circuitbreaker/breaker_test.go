package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing() (interface{}, error) { return nil, errBoom }
func succeeding() (interface{}, error) { return "ok", nil }

func testConfig() *Config {
	return &Config{
		Name:        "test",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	}
}

func TestClosedPassesThrough(t *testing.T) {
	cb := New(testConfig())

	res, err := cb.Execute(succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(failing)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())

	cb.Execute(failing)
	cb.Execute(failing)
	cb.Execute(succeeding)
	cb.Execute(failing)
	cb.Execute(failing)

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(failing)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// MaxRequests consecutive probe successes close the breaker.
	_, err := cb.Execute(succeeding)
	require.NoError(t, err)
	_, err = cb.Execute(succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(failing)
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Execute(failing)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 1
	cb := New(cfg)
	for i := 0; i < 3; i++ {
		cb.Execute(failing)
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// Hold one probe slot open, then try a second call.
	gen, err := cb.beforeRequest()
	require.NoError(t, err)
	_, err = cb.Execute(succeeding)
	assert.ErrorIs(t, err, ErrTooManyRequests)
	cb.afterRequest(gen, true)
}

func TestNilConfigGetsDefaults(t *testing.T) {
	cb := New(nil)
	assert.Equal(t, "default", cb.Name())
	assert.Equal(t, StateClosed, cb.State())
}
