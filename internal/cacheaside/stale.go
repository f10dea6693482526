package cacheaside

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
)

// Stale keeps a long-TTL last-known-good copy per logical key. It is
// refreshed on every successful origin fetch and consulted only when the
// origin fails, so "no fresh data" degrades gracefully instead of becoming
// "no data at all".
type Stale struct {
	store *redisstore.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewStale(store *redisstore.Client, ttl time.Duration, log *slog.Logger) *Stale {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stale{store: store, ttl: ttl, log: log}
}

// Put refreshes the fallback copy. Write failures are swallowed: losing a
// fallback refresh must not fail a successful fetch.
func (s *Stale) Put(ctx context.Context, key string, val []byte) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Set(ctx, key, val, s.ttl); err != nil {
		s.log.Warn("stale copy write failed", "key", key, "err", err)
	}
}

// Get returns the fallback copy if one exists. Absence means no successful
// fetch has ever completed for this key.
func (s *Stale) Get(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.store == nil {
		return nil, false
	}
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	return raw, true
}
