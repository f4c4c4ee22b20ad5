package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra/waf/internal/core"
	"github.com/sentra/waf/internal/infra"
)

func newTestState(t *testing.T) (*State, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	adapter, err := infra.NewGoRedisAdapter(mini.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return NewState(adapter, time.Hour, 5*time.Minute), mini
}

func TestReputationRoundTrip(t *testing.T) {
	state, mini := newTestState(t)
	ctx := context.Background()

	rep, hit := state.Reputation(ctx, "10.1.1.10")
	assert.False(t, hit)
	assert.Equal(t, core.DefaultReputation(), rep)

	want := core.IPReputation{TotalRequests: 40, BlockedRequests: 10, ReputationScore: 0.75}
	require.NoError(t, state.SetReputation(ctx, "10.1.1.10", want))

	rep, hit = state.Reputation(ctx, "10.1.1.10")
	assert.True(t, hit)
	assert.Equal(t, want, rep)

	// Entries expire with the reputation TTL.
	mini.FastForward(time.Hour + time.Second)
	_, hit = state.Reputation(ctx, "10.1.1.10")
	assert.False(t, hit)
}

func TestReputationUnreadableEntry(t *testing.T) {
	state, mini := newTestState(t)

	require.NoError(t, mini.Set("ip_rep:10.2.0.7", "not json"))

	rep, hit := state.Reputation(context.Background(), "10.2.0.7")
	assert.False(t, hit)
	assert.Equal(t, core.DefaultReputation(), rep)
}

func TestCachedScoreRoundTrip(t *testing.T) {
	state, mini := newTestState(t)
	ctx := context.Background()

	_, hit := state.CachedScore(ctx, "deadbeef")
	assert.False(t, hit)

	require.NoError(t, state.SetCachedScore(ctx, "deadbeef", 0.85))

	score, hit := state.CachedScore(ctx, "deadbeef")
	assert.True(t, hit)
	assert.Equal(t, 0.85, score)

	// Only the raw score is stored, as a decimal string.
	raw, err := mini.Get("ai_score:deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "0.85", raw)

	mini.FastForward(5*time.Minute + time.Second)
	_, hit = state.CachedScore(ctx, "deadbeef")
	assert.False(t, hit)
}

func TestAllowRateFixedWindow(t *testing.T) {
	state, mini := newTestState(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, state.AllowRate(ctx, "10.3.9.9", 5, time.Minute), "request %d should pass", i+1)
	}
	assert.False(t, state.AllowRate(ctx, "10.3.9.9", 5, time.Minute), "sixth request must be rejected")
	assert.False(t, state.AllowRate(ctx, "10.3.9.9", 5, time.Minute))

	// Counters are per IP.
	assert.True(t, state.AllowRate(ctx, "10.4.4.4", 5, time.Minute))

	// A new window starts after the TTL.
	mini.FastForward(time.Minute + time.Second)
	assert.True(t, state.AllowRate(ctx, "10.3.9.9", 5, time.Minute))
}

func TestBlacklistLifecycle(t *testing.T) {
	state, mini := newTestState(t)
	ctx := context.Background()

	assert.False(t, state.IsBlacklisted(ctx, "10.5.1.2"))

	require.NoError(t, state.Blacklist(ctx, "10.5.1.2", 24*time.Hour))
	assert.True(t, state.IsBlacklisted(ctx, "10.5.1.2"))
	assert.Equal(t, 24*time.Hour, mini.TTL("blacklist:10.5.1.2"))

	require.NoError(t, state.Whitelist(ctx, "10.5.1.2"))
	assert.False(t, state.IsBlacklisted(ctx, "10.5.1.2"))
}

func TestHealthy(t *testing.T) {
	state, mini := newTestState(t)
	assert.True(t, state.Healthy(context.Background()))

	mini.Close()
	assert.False(t, state.Healthy(context.Background()))
}

// downClient fails every operation, standing in for an unreachable Redis.
type downClient struct{}

var errDown = errors.New("connection refused")

func (downClient) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (downClient) SetEx(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (downClient) Incr(context.Context, string) (int64, error) { return 0, errDown }
func (downClient) Exists(context.Context, string) (bool, error) {
	return false, errDown
}
func (downClient) Del(context.Context, ...string) error { return errDown }
func (downClient) Ping(context.Context) error           { return errDown }

func TestFailOpenWhenStoreDown(t *testing.T) {
	state := NewState(downClient{}, time.Hour, 5*time.Minute)
	ctx := context.Background()

	rep, hit := state.Reputation(ctx, "10.6.6.1")
	assert.False(t, hit)
	assert.Equal(t, core.DefaultReputation(), rep)

	_, hit = state.CachedScore(ctx, "deadbeef")
	assert.False(t, hit)

	assert.True(t, state.AllowRate(ctx, "10.6.6.1", 5, time.Minute), "rate limiting fails open")
	assert.False(t, state.IsBlacklisted(ctx, "10.6.6.1"), "blacklist check fails open")
	assert.False(t, state.Healthy(ctx))

	assert.Error(t, state.Blacklist(ctx, "10.6.6.1", time.Hour))
	assert.Error(t, state.Whitelist(ctx, "10.6.6.1"))
}
