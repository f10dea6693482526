// Package redisstore wraps the Redis client operations used by the caches
// and the POI store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// GeoCandidate is one radius-search result, distance in kilometers.
type GeoCandidate struct {
	Member string
	DistKM float64
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the value for key; the second return is false on a miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// SetNX acquires an existence-only lock key. It returns true when this call
// created the key.
func (c *Client) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	observability.ObserveCacheOp("setnx", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis SETNX %q: %w", key, err)
	}
	return ok, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) IncrBy(ctx context.Context, key string, n int64) error {
	start := time.Now()
	err := c.rdb.IncrBy(ctx, key, n).Err()
	observability.ObserveCacheOp("incrby", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis INCRBY %q: %w", key, err)
	}
	return nil
}

// MGet returns a map of found keys to their values.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue // missing key
		}
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) error {
	start := time.Now()
	err := c.rdb.HSet(ctx, key, fields).Err()
	observability.ObserveCacheOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %q: %w", key, err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	m, err := c.rdb.HGetAll(ctx, key).Result()
	observability.ObserveCacheOp("hgetall", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %q: %w", key, err)
	}
	return m, nil
}

// HGetAllBatch reads several hash records in a single pipeline. The result
// slice is parallel to keys; a missing record yields an empty map.
func (c *Client) HGetAllBatch(ctx context.Context, keys []string) ([]map[string]string, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveCacheOp("hgetall_batch", nil, time.Since(start).Seconds())
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, k)
		}
		return nil
	})
	observability.ObserveCacheOp("hgetall_batch", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL pipeline %d keys: %w", len(keys), err)
	}

	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	ok, err := c.rdb.SIsMember(ctx, key, member).Result()
	observability.ObserveCacheOp("sismember", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis SISMEMBER %q: %w", key, err)
	}
	return ok, nil
}

// GeoRadius runs a radius search around the query point, ascending by
// distance, capped at count candidates.
func (c *Client) GeoRadius(ctx context.Context, key string, lon, lat, radiusKM float64, count int) ([]GeoCandidate, error) {
	start := time.Now()
	locs, err := c.rdb.GeoRadius(ctx, key, lon, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKM,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
		Count:    count,
	}).Result()
	observability.ObserveCacheOp("georadius", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GEORADIUS %q: %w", key, err)
	}

	out := make([]GeoCandidate, 0, len(locs))
	for _, l := range locs {
		out = append(out, GeoCandidate{Member: l.Name, DistKM: l.Dist})
	}
	return out, nil
}

// Pipelined runs fn inside one pipelined round trip. Used for the batched
// POI index writes.
func (c *Client) Pipelined(ctx context.Context, op string, fn func(p redis.Pipeliner) error) error {
	start := time.Now()
	_, err := c.rdb.Pipelined(ctx, fn)
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis pipeline %s: %w", op, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
