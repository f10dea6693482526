package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/cacheaside"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/keys"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/model"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
)

// Nearby returns up to q.Limit POIs within the radius, ascending by
// distance, with category/tag filters applied. Results are cached under a
// key derived from the quantized query point, so nearby-but-not-identical
// query points share one entry. Proximity queries are idempotent and cheap,
// so there is no dogpile lock here; duplicate concurrent computation is
// acceptable.
func (s *Service) Nearby(ctx context.Context, q model.NearbyQuery) ([]model.POIResult, error) {
	s.ctrs.Inc(ctx, counters.GeoQueries)

	ckey := keys.Nearby(q.Lat, q.Lon, q.RadiusKM, q.Limit, q.Category, q.Tag, s.cfg.QuantStep)
	if raw, ok, err := s.store.Get(ctx, ckey); err == nil && ok {
		var out []model.POIResult
		if uerr := json.Unmarshal(raw, &out); uerr == nil {
			s.ctrs.Inc(ctx, counters.GeoCacheHits)
			observability.IncCacheHit("geo")
			s.log.Debug("nearby cache hit", "key", ckey, "items", len(out))
			return out, nil
		}
	}
	s.ctrs.Inc(ctx, counters.GeoCacheMisses)
	observability.IncCacheMiss("geo")

	// Overfetch: filters drop candidates, so ask the index for more than
	// limit up front rather than paying a second round trip.
	countHint := max(q.Limit*5, q.Limit+20)
	candidates, err := s.store.GeoRadius(ctx, keys.GeoIndex(), q.Lon, q.Lat, q.RadiusKM, countHint)
	if err != nil {
		return nil, fmt.Errorf("nearby radius search: %w", err)
	}
	s.ctrs.Add(ctx, counters.GeoScanned, int64(len(candidates)))

	accepted, err := s.filter(ctx, candidates, q)
	if err != nil {
		return nil, err
	}

	out, err := s.hydrate(ctx, accepted)
	if err != nil {
		return nil, err
	}

	if raw, merr := json.Marshal(out); merr == nil {
		if serr := s.store.Set(ctx, ckey, raw, cacheaside.JitterTTL(s.cfg.CacheTTL, s.cfg.JitterMax)); serr != nil {
			s.log.Warn("nearby cache write failed", "key", ckey, "err", serr)
		}
	}

	s.log.Debug("nearby computed",
		"key", ckey,
		"candidates", len(candidates),
		"accepted", len(accepted),
		"returned", len(out))
	return out, nil
}

// filter applies category/tag membership checks in distance order and stops
// as soon as limit candidates are accepted. An underfull result is returned
// as-is; the index is never re-queried with a larger count.
func (s *Service) filter(ctx context.Context, candidates []redisstore.GeoCandidate, q model.NearbyQuery) ([]redisstore.GeoCandidate, error) {
	accepted := make([]redisstore.GeoCandidate, 0, min(len(candidates), q.Limit))
	for _, c := range candidates {
		if q.Category != "" {
			ok, err := s.store.SIsMember(ctx, keys.Category(q.Category), c.Member)
			if err != nil {
				return nil, fmt.Errorf("nearby category filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		if q.Tag != "" {
			ok, err := s.store.SIsMember(ctx, keys.Tag(q.Tag), c.Member)
			if err != nil {
				return nil, fmt.Errorf("nearby tag filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		accepted = append(accepted, c)
		if len(accepted) >= q.Limit {
			break
		}
	}
	return accepted, nil
}

// hydrate batch-reads the accepted candidates' records in one pipeline,
// preserving distance order. Records deleted since the membership check are
// silently dropped.
func (s *Service) hydrate(ctx context.Context, accepted []redisstore.GeoCandidate) ([]model.POIResult, error) {
	out := make([]model.POIResult, 0, len(accepted))
	if len(accepted) == 0 {
		return out, nil
	}

	hashKeys := make([]string, len(accepted))
	for i, c := range accepted {
		hashKeys[i] = keys.POI(c.Member)
	}

	recs, err := s.store.HGetAllBatch(ctx, hashKeys)
	if err != nil {
		return nil, fmt.Errorf("nearby hydrate %d records: %w", len(accepted), err)
	}

	for i, rec := range recs {
		if len(rec) == 0 {
			continue
		}
		poi, perr := poiFromHash(accepted[i].Member, rec)
		if perr != nil {
			s.log.Warn("nearby hydrate skipping malformed record", "id", accepted[i].Member, "err", perr)
			continue
		}
		out = append(out, model.POIResult{
			POI:        poi,
			DistanceKM: math.Round(accepted[i].DistKM*1000) / 1000,
		})
	}
	return out, nil
}
