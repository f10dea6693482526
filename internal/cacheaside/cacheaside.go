// Package cacheaside implements the generic dogpile-protected cache-aside
// engine. Values are JSON documents in Redis; the origin fetch is an
// arbitrary caller-supplied operation. All store failures are treated as
// cache misses on read and no-ops on write, so caching stays an
// optimization and never a correctness dependency.
package cacheaside

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/keys"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
)

// Request names the cache entry and its expiry parameters for one Do call.
type Request struct {
	Key       string
	TTL       time.Duration
	JitterMax time.Duration
	// CacheName labels hit/miss metrics, e.g. "weather".
	CacheName string
}

type Option func(*Engine)

func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) { e.lockTTL = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithHitMissCounters sets the store-side counters bumped on lookups.
func WithHitMissCounters(hit, miss string) Option {
	return func(e *Engine) { e.hitCounter, e.missCounter = hit, miss }
}

// WithClock injects the time source and sleep used by the contention poll
// loop, so tests can drive it deterministically.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(e *Engine) { e.now, e.sleep = now, sleep }
}

type Engine struct {
	store *redisstore.Client
	ctrs  *counters.Counters
	log   *slog.Logger

	hitCounter  string
	missCounter string

	lockTTL      time.Duration
	pollInterval time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func New(store *redisstore.Client, ctrs *counters.Counters, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:        store,
		ctrs:         ctrs,
		log:          log,
		hitCounter:   counters.WeatherHits,
		missCounter:  counters.WeatherMisses,
		lockTTL:      5 * time.Second,
		pollInterval: 20 * time.Millisecond,
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for _, f := range opts {
		f(e)
	}
	return e
}

// Do returns the cached value for req.Key, or coordinates a single-flight
// origin fetch to populate it. The bool reports whether the value came from
// cache. Concurrent callers for the same key either observe the cached
// value, poll until the lock holder publishes it, or recompute once the
// lock TTL elapses (self-healing when a holder died without releasing).
func Do[T any](ctx context.Context, e *Engine, req Request, fetch func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	// fast path
	if v, ok := lookup[T](ctx, e, req); ok {
		return v, true, nil
	}
	e.ctrs.Inc(ctx, e.missCounter)
	observability.IncCacheMiss(req.CacheName)

	lockKey := keys.Lock(req.Key)
	locked, err := e.store.SetNX(ctx, lockKey, e.lockTTL)
	if err != nil {
		// store unavailable: compute without coordination
		locked = false
		e.log.Warn("dogpile lock acquire failed, computing uncoordinated", "key", req.Key, "err", err)
	} else if !locked {
		// lock held elsewhere: poll for the holder's result until the lock
		// TTL deadline, then compute anyway
		deadline := e.now().Add(e.lockTTL)
		for e.now().Before(deadline) {
			e.sleep(e.pollInterval)
			if ctx.Err() != nil {
				return zero, false, ctx.Err()
			}
			if v, ok := lookup[T](ctx, e, req); ok {
				return v, true, nil
			}
		}
	}

	if locked {
		defer func() {
			if derr := e.store.Del(context.WithoutCancel(ctx), lockKey); derr != nil {
				e.log.Warn("dogpile lock release failed", "key", req.Key, "err", derr)
			}
		}()
	}

	// double-check: another holder may have finished between the first
	// lookup and the lock attempt
	if v, ok := lookup[T](ctx, e, req); ok {
		return v, true, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, false, err
	}

	if raw, merr := json.Marshal(v); merr == nil {
		if serr := e.store.Set(ctx, req.Key, raw, JitterTTL(req.TTL, req.JitterMax)); serr != nil {
			e.log.Warn("cache write failed", "key", req.Key, "err", serr)
		}
	}
	return v, false, nil
}

func lookup[T any](ctx context.Context, e *Engine, req Request) (T, bool) {
	var zero T
	raw, ok, err := e.store.Get(ctx, req.Key)
	if err != nil || !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		// undecodable entry, treat as miss and let the fetch overwrite it
		e.log.Warn("cache entry decode failed", "key", req.Key, "err", err)
		return zero, false
	}
	e.ctrs.Inc(ctx, e.hitCounter)
	observability.IncCacheHit(req.CacheName)
	return v, true
}

// JitterTTL returns base plus a uniform random jitter in [0, max]. Jitter
// decorrelates expiry across keys sharing a base TTL so they do not expire
// in one synchronized wave.
func JitterTTL(base, max time.Duration) time.Duration {
	if max <= 0 {
		return base
	}
	return base + rand.N(max+1)
}
