// Package store keeps the volatile per-IP state the decision path consults:
// reputation snapshots, cached inference scores, rate-limit counters and the
// blacklist. Every key carries a TTL; nothing here is authoritative. The
// persistent record in Postgres is.
//
// Key patterns are frozen and shared with external ops tooling:
//
//	ip_rep:<ip>        JSON-encoded core.IPReputation
//	ai_score:<digest>  raw inference score as a decimal string
//	rate_limit:<ip>    fixed-window request counter
//	blacklist:<ip>     "1" while the ban is active
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sentra/waf/internal/core"
	"github.com/sentra/waf/internal/infra"
)

// Client is the store surface State needs. *infra.GoRedisAdapter satisfies it.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// State exposes the domain operations over the volatile store. All reads
// fail open: a store error is reported as a miss so the decision path keeps
// moving while Redis is down.
type State struct {
	client        Client
	reputationTTL time.Duration
	scoreTTL      time.Duration
}

// NewState wraps client with the configured cache lifetimes.
func NewState(client Client, reputationTTL, scoreTTL time.Duration) *State {
	return &State{client: client, reputationTTL: reputationTTL, scoreTTL: scoreTTL}
}

func reputationKey(ip string) string { return "ip_rep:" + ip }
func scoreKey(digest string) string  { return "ai_score:" + digest }
func rateKey(ip string) string       { return "rate_limit:" + ip }
func blacklistKey(ip string) string  { return "blacklist:" + ip }

// Reputation returns the cached reputation for ip. The second return is
// false on a miss, an unreadable entry, or a store error, in which case the
// neutral default reputation is returned.
func (s *State) Reputation(ctx context.Context, ip string) (core.IPReputation, bool) {
	data, err := s.client.Get(ctx, reputationKey(ip))
	if err != nil {
		if !errors.Is(err, infra.ErrNotFound) {
			slog.Warn("Reputation read failed", "ip", ip, "error", err)
		}
		return core.DefaultReputation(), false
	}
	var rep core.IPReputation
	if err := json.Unmarshal(data, &rep); err != nil {
		slog.Warn("Reputation entry unreadable", "ip", ip, "error", err)
		return core.DefaultReputation(), false
	}
	return rep, true
}

// SetReputation caches rep for ip with the reputation TTL.
func (s *State) SetReputation(ctx context.Context, ip string, rep core.IPReputation) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return s.client.SetEx(ctx, reputationKey(ip), data, s.reputationTTL)
}

// CachedScore returns the cached inference score for a request digest.
func (s *State) CachedScore(ctx context.Context, digest string) (float64, bool) {
	data, err := s.client.Get(ctx, scoreKey(digest))
	if err != nil {
		if !errors.Is(err, infra.ErrNotFound) {
			slog.Warn("Score cache read failed", "digest", digest, "error", err)
		}
		return 0, false
	}
	score, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		slog.Warn("Score cache entry unreadable", "digest", digest, "error", err)
		return 0, false
	}
	return score, true
}

// SetCachedScore stores the raw inference score for a request digest. Only
// the score is cached; the action is recomputed against current thresholds
// on every hit.
func (s *State) SetCachedScore(ctx context.Context, digest string, score float64) error {
	val := strconv.FormatFloat(score, 'g', -1, 64)
	return s.client.SetEx(ctx, scoreKey(digest), []byte(val), s.scoreTTL)
}

// AllowRate applies a fixed-window counter to ip and reports whether the
// request is within limit. The first observation in a window stores 1 with
// TTL = window; later observations compare before incrementing, so a source
// at the limit is denied without growing the counter. Two concurrent
// observations under the limit can both be admitted, which the fixed-window
// design accepts. Store errors allow.
func (s *State) AllowRate(ctx context.Context, ip string, limit int, window time.Duration) bool {
	key := rateKey(ip)
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, infra.ErrNotFound) {
			if err := s.client.SetEx(ctx, key, []byte("1"), window); err != nil {
				slog.Warn("Rate window init failed, allowing", "ip", ip, "error", err)
			}
			return true
		}
		slog.Warn("Rate limit check failed, allowing", "ip", ip, "error", err)
		return true
	}

	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		slog.Warn("Rate counter unreadable, allowing", "ip", ip, "error", err)
		return true
	}
	if count >= int64(limit) {
		return false
	}
	if _, err := s.client.Incr(ctx, key); err != nil {
		slog.Warn("Rate limit increment failed, allowing", "ip", ip, "error", err)
	}
	return true
}

// IsBlacklisted reports whether ip has an active ban. Store errors report
// false; the persistent record remains the authority.
func (s *State) IsBlacklisted(ctx context.Context, ip string) bool {
	ok, err := s.client.Exists(ctx, blacklistKey(ip))
	if err != nil {
		slog.Warn("Blacklist check failed", "ip", ip, "error", err)
		return false
	}
	return ok
}

// Blacklist bans ip for ttl.
func (s *State) Blacklist(ctx context.Context, ip string, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, blacklistKey(ip), []byte("1"), ttl); err != nil {
		return err
	}
	slog.Info("IP added to blacklist", "ip", ip, "ttl", ttl)
	return nil
}

// Whitelist lifts the ban on ip.
func (s *State) Whitelist(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, blacklistKey(ip)); err != nil {
		return err
	}
	slog.Info("IP removed from blacklist", "ip", ip)
	return nil
}

// Healthy reports store connectivity for the health endpoint.
func (s *State) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx) == nil
}
