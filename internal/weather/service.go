package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/cacheaside"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/keys"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/model"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
)

// ErrUpstream means the provider failed and no stale fallback exists.
// The HTTP layer maps it to 502.
var ErrUpstream = errors.New("weather upstream unavailable")

type ServiceConfig struct {
	TTL       time.Duration
	JitterMax time.Duration
}

type Service struct {
	engine   *cacheaside.Engine
	stale    *cacheaside.Stale
	ctrs     *counters.Counters
	provider Provider
	cfg      ServiceConfig
	log      *slog.Logger
}

func NewService(engine *cacheaside.Engine, stale *cacheaside.Stale, ctrs *counters.Counters, provider Provider, cfg ServiceConfig, log *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.JitterMax <= 0 {
		cfg.JitterMax = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		engine:   engine,
		stale:    stale,
		ctrs:     ctrs,
		provider: provider,
		cfg:      cfg,
		log:      log,
	}
}

// ByCity returns the weather for a city, cached with dogpile suppression.
// On a provider outage the last-known-good value is served marked stale;
// ErrUpstream is returned only when no such value exists.
func (s *Service) ByCity(ctx context.Context, city string) (model.Weather, error) {
	req := cacheaside.Request{
		Key:       keys.Weather(city),
		TTL:       s.cfg.TTL,
		JitterMax: s.cfg.JitterMax,
		CacheName: "weather",
	}

	w, hit, err := cacheaside.Do(ctx, s.engine, req, func(ctx context.Context) (model.Weather, error) {
		return s.fetchOrStale(ctx, city)
	})
	if err != nil {
		return model.Weather{}, err
	}
	s.log.Debug("weather lookup", "city", city, "hit", hit, "stale", w.Stale)
	return w, nil
}

// fetchOrStale is the origin fetch handed to the engine: it counts the real
// upstream call, refreshes the stale copy on success, and degrades to the
// stale copy on failure.
func (s *Service) fetchOrStale(ctx context.Context, city string) (model.Weather, error) {
	s.ctrs.Inc(ctx, counters.APICalls)

	staleKey := keys.WeatherStale(city)
	w, err := s.provider.CurrentByCity(ctx, city)
	if err != nil {
		if raw, ok := s.stale.Get(ctx, staleKey); ok {
			var sw model.Weather
			if uerr := json.Unmarshal(raw, &sw); uerr == nil {
				sw.Stale = true
				observability.IncCacheStale("weather")
				s.log.Warn("serving stale weather after upstream failure", "city", city, "err", err)
				return sw, nil
			}
		}
		return model.Weather{}, fmt.Errorf("fetch weather for %q: %w: %w", city, ErrUpstream, err)
	}

	if raw, merr := json.Marshal(w); merr == nil {
		s.stale.Put(ctx, staleKey, raw)
	}
	return w, nil
}
