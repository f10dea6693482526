// Package counters maintains named monotonic counters in Redis. Counter
// updates are best-effort telemetry: failures are swallowed so a degraded
// store never fails a request.
package counters

import (
	"context"
	"strconv"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
)

const (
	WeatherHits   = "stats:cache_hits"
	WeatherMisses = "stats:cache_misses"
	APICalls      = "stats:api_calls"

	GeoQueries     = "stats:geo:queries"
	GeoCacheHits   = "stats:geo:cache_hits"
	GeoCacheMisses = "stats:geo:cache_misses"
	GeoWrites      = "stats:geo:writes"
	GeoScanned     = "stats:geo:candidates_scanned"
)

type Counters struct {
	store *redisstore.Client
}

func New(store *redisstore.Client) *Counters {
	return &Counters{store: store}
}

func (c *Counters) Inc(ctx context.Context, name string) {
	c.Add(ctx, name, 1)
}

func (c *Counters) Add(ctx context.Context, name string, by int64) {
	if c == nil || c.store == nil || by == 0 {
		return
	}
	_ = c.store.IncrBy(ctx, name, by) // fail-open
}

// Snapshot reads the given counters in one pipelined round trip. Counters
// that were never incremented read as zero.
func (c *Counters) Snapshot(ctx context.Context, names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, n := range names {
		out[n] = 0
	}
	if c == nil || c.store == nil || len(names) == 0 {
		return out, nil
	}

	raw, err := c.store.MGet(ctx, names)
	if err != nil {
		return out, err
	}
	for name, v := range raw {
		if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			out[name] = n
		}
	}
	return out, nil
}
