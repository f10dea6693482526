// Package geo owns the POI write path and the quantized proximity-search
// cache over the Redis geospatial index.
package geo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/events"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/keys"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/model"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
)

// Latitude bound of the geohash-backed index; stricter than the usual ±90.
const maxLat = 85.05112878

var (
	// ErrValidation marks client errors rejected before any store mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for reads of nonexistent POIs.
	ErrNotFound = errors.New("poi not found")
)

type Config struct {
	CacheTTL  time.Duration
	JitterMax time.Duration
	QuantStep float64
}

type Service struct {
	store  *redisstore.Client
	ctrs   *counters.Counters
	events *events.Publisher
	cfg    Config
	log    *slog.Logger
}

func NewService(store *redisstore.Client, ctrs *counters.Counters, pub *events.Publisher, cfg Config, log *slog.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 120 * time.Second
	}
	if cfg.JitterMax <= 0 {
		cfg.JitterMax = 20 * time.Second
	}
	if cfg.QuantStep <= 0 {
		cfg.QuantStep = 0.0005
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, ctrs: ctrs, events: pub, cfg: cfg, log: log}
}

// Upsert validates the POI and writes its geo entry, hash record, and
// category/tag memberships in one pipelined batch. It returns the id,
// generating one when absent.
func (s *Service) Upsert(ctx context.Context, poi model.POI) (string, error) {
	if err := validate(poi); err != nil {
		return "", err
	}
	if poi.ID == "" {
		poi.ID = newID()
	}

	fields := map[string]string{
		"name":     poi.Name,
		"lat":      strconv.FormatFloat(poi.Lat, 'f', -1, 64),
		"lon":      strconv.FormatFloat(poi.Lon, 'f', -1, 64),
		"category": poi.Category,
		"tags":     mustJSON(poi.Tags),
		"metadata": mustJSON(poi.Metadata),
	}

	err := s.store.Pipelined(ctx, "poi_upsert", func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, keys.GeoIndex(), &redis.GeoLocation{
			Name:      poi.ID,
			Longitude: poi.Lon,
			Latitude:  poi.Lat,
		})
		p.HSet(ctx, keys.POI(poi.ID), fields)
		if poi.Category != "" {
			p.SAdd(ctx, keys.Category(poi.Category), poi.ID)
		}
		for _, t := range poi.Tags {
			p.SAdd(ctx, keys.Tag(t), poi.ID)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upsert poi %q: %w", poi.ID, err)
	}

	s.ctrs.Inc(ctx, counters.GeoWrites)
	s.events.Publish(events.Event{Op: events.OpUpsert, ID: poi.ID, Lat: poi.Lat, Lon: poi.Lon, TS: time.Now().UTC()})
	return poi.ID, nil
}

// Delete removes the POI from every structure it is indexed in: the geo
// index, the hash record, and its category/tag membership sets, as one
// pipelined batch.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.store.HGetAll(ctx, keys.POI(id))
	if err != nil {
		return fmt.Errorf("delete poi %q: read record: %w", id, err)
	}

	var tags []string
	if raw := rec["tags"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &tags)
	}
	category := rec["category"]

	err = s.store.Pipelined(ctx, "poi_delete", func(p redis.Pipeliner) error {
		p.ZRem(ctx, keys.GeoIndex(), id)
		p.Del(ctx, keys.POI(id))
		if category != "" {
			p.SRem(ctx, keys.Category(category), id)
		}
		for _, t := range tags {
			p.SRem(ctx, keys.Tag(t), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete poi %q: %w", id, err)
	}

	s.events.Publish(events.Event{Op: events.OpDelete, ID: id, TS: time.Now().UTC()})
	return nil
}

// Get reads a single POI record by id.
func (s *Service) Get(ctx context.Context, id string) (model.POI, error) {
	rec, err := s.store.HGetAll(ctx, keys.POI(id))
	if err != nil {
		return model.POI{}, fmt.Errorf("get poi %q: %w", id, err)
	}
	if len(rec) == 0 {
		return model.POI{}, fmt.Errorf("get poi %q: %w", id, ErrNotFound)
	}
	return poiFromHash(id, rec)
}

func validate(poi model.POI) error {
	if poi.Name == "" {
		return fmt.Errorf("name is required: %w", ErrValidation)
	}
	if poi.Lat < -maxLat || poi.Lat > maxLat {
		return fmt.Errorf("lat %v out of range [-%v, %v]: %w", poi.Lat, maxLat, maxLat, ErrValidation)
	}
	if poi.Lon < -180 || poi.Lon > 180 {
		return fmt.Errorf("lon %v out of range [-180, 180]: %w", poi.Lon, ErrValidation)
	}
	return nil
}

func poiFromHash(id string, rec map[string]string) (model.POI, error) {
	lat, err := strconv.ParseFloat(rec["lat"], 64)
	if err != nil {
		return model.POI{}, fmt.Errorf("poi %q: bad lat %q: %w", id, rec["lat"], err)
	}
	lon, err := strconv.ParseFloat(rec["lon"], 64)
	if err != nil {
		return model.POI{}, fmt.Errorf("poi %q: bad lon %q: %w", id, rec["lon"], err)
	}

	poi := model.POI{
		ID:       id,
		Name:     rec["name"],
		Lat:      lat,
		Lon:      lon,
		Category: rec["category"],
	}
	if raw := rec["tags"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &poi.Tags)
	}
	if raw := rec["metadata"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &poi.Metadata)
	}
	return poi, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func newID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
