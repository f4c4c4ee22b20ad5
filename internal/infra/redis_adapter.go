// Package infra provides concrete infrastructure adapters for Redis.
//
// This adapter wraps go-redis v9 and implements the store.Client interface.
// The decision path treats Redis as advisory: callers fail open when an
// operation errors, so a Redis outage degrades caching and rate limiting
// without taking the firewall down.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound reports that a key does not exist. Callers that need to
// distinguish absence from transport errors test with errors.Is.
var ErrNotFound = errors.New("key not found")

// GoRedisAdapter wraps go-redis v9 to implement the minimal surface
// expected by the volatile state store.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter attempts to connect to Redis using the provided options.
// Returns the adapter and any connection error (caller decides whether to
// run degraded).
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	// Ping to verify connectivity
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// Get returns the value at key, or ErrNotFound when the key is absent.
func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, err
}

// SetEx stores value at key with an expiry.
func (a *GoRedisAdapter) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

// Incr increments the integer at key and returns the new value.
func (a *GoRedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return a.rdb.Incr(ctx, key).Result()
}

// Exists reports whether key is present.
func (a *GoRedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := a.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Del removes the given keys.
func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.rdb.Del(ctx, keys...).Err()
}

// Ping verifies connectivity for health checks.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}
