// Package router validates inbound requests and maps engine results and
// errors onto HTTP responses.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/geo"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/model"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/weather"
)

const (
	defaultRadiusKM = 5.0
	defaultLimit    = 20
	maxLimit        = 200
)

type Handlers struct {
	Log     *slog.Logger
	Weather *weather.Service
	Geo     *geo.Service
	Ctrs    *counters.Counters
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Observed wraps a handler with per-route HTTP metrics.
func Observed(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func (h *Handlers) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		http.Error(w, "missing required parameter: city", http.StatusBadRequest)
		return
	}

	res, err := h.Weather.ByCity(r.Context(), city)
	if err != nil {
		if errors.Is(err, weather.ErrUpstream) {
			http.Error(w, fmt.Sprintf("upstream failure for city %q, try again", city), http.StatusBadGateway)
			return
		}
		h.Log.Error("weather request failed", "city", city, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) Nearby(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearbyQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Geo.Nearby(r.Context(), q)
	if err != nil {
		h.Log.Error("nearby query failed", "err", err)
		http.Error(w, "nearby query failed", http.StatusInternalServerError)
		return
	}
	// res is always a non-nil slice, so the body is an array, never null
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) UpsertPOI(w http.ResponseWriter, r *http.Request) {
	var poi model.POI
	if err := json.NewDecoder(r.Body).Decode(&poi); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.Geo.Upsert(r.Context(), poi)
	if err != nil {
		if errors.Is(err, geo.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Log.Error("poi upsert failed", "err", err)
		http.Error(w, "upsert failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "ok": true})
}

func (h *Handlers) GetPOI(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	poi, err := h.Geo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, geo.ErrNotFound) {
			http.Error(w, "POI not found", http.StatusNotFound)
			return
		}
		h.Log.Error("poi read failed", "id", id, "err", err)
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, model.POIResult{POI: poi, DistanceKM: 0})
}

func (h *Handlers) DeletePOI(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Geo.Delete(r.Context(), id); err != nil {
		h.Log.Error("poi delete failed", "id", id, "err", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Ctrs.Snapshot(r.Context(),
		counters.WeatherHits, counters.WeatherMisses, counters.APICalls,
		counters.GeoQueries, counters.GeoCacheHits, counters.GeoCacheMisses,
		counters.GeoWrites, counters.GeoScanned,
	)
	if err != nil {
		h.Log.Warn("stats snapshot degraded", "err", err)
	}

	type weatherStats struct {
		CacheHits       int64    `json:"cache_hits"`
		CacheMisses     int64    `json:"cache_misses"`
		APICalls        int64    `json:"api_calls"`
		AvoidedAPICalls int64    `json:"avoided_api_calls"`
		HitRatio        *float64 `json:"hit_ratio"`
	}
	type geoStats struct {
		Queries           int64    `json:"queries"`
		CacheHits         int64    `json:"cache_hits"`
		CacheMisses       int64    `json:"cache_misses"`
		HitRatio          *float64 `json:"hit_ratio"`
		Writes            int64    `json:"writes"`
		CandidatesScanned int64    `json:"candidates_scanned"`
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"weather": weatherStats{
			CacheHits:       snap[counters.WeatherHits],
			CacheMisses:     snap[counters.WeatherMisses],
			APICalls:        snap[counters.APICalls],
			AvoidedAPICalls: snap[counters.WeatherHits],
			HitRatio:        ratio(snap[counters.WeatherHits], snap[counters.WeatherMisses]),
		},
		"geo": geoStats{
			Queries:           snap[counters.GeoQueries],
			CacheHits:         snap[counters.GeoCacheHits],
			CacheMisses:       snap[counters.GeoCacheMisses],
			HitRatio:          ratio(snap[counters.GeoCacheHits], snap[counters.GeoCacheMisses]),
			Writes:            snap[counters.GeoWrites],
			CandidatesScanned: snap[counters.GeoScanned],
		},
	})
}

func parseNearbyQuery(r *http.Request) (model.NearbyQuery, error) {
	qs := r.URL.Query()

	lat, err := parseFloat(qs.Get("lat"))
	if err != nil {
		return model.NearbyQuery{}, fmt.Errorf("invalid lat: %w", err)
	}
	lon, err := parseFloat(qs.Get("lon"))
	if err != nil {
		return model.NearbyQuery{}, fmt.Errorf("invalid lon: %w", err)
	}
	if lat < -90 || lat > 90 {
		return model.NearbyQuery{}, errors.New("lat must be in [-90,90]")
	}
	if lon < -180 || lon > 180 {
		return model.NearbyQuery{}, errors.New("lon must be in [-180,180]")
	}

	radius := defaultRadiusKM
	if v := qs.Get("radius_km"); v != "" {
		radius, err = parseFloat(v)
		if err != nil {
			return model.NearbyQuery{}, fmt.Errorf("invalid radius_km: %w", err)
		}
		if radius <= 0 {
			return model.NearbyQuery{}, errors.New("radius_km must be > 0")
		}
	}

	limit := defaultLimit
	if v := qs.Get("limit"); v != "" {
		limit, err = strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return model.NearbyQuery{}, fmt.Errorf("invalid limit: %w", err)
		}
		if limit <= 0 || limit > maxLimit {
			return model.NearbyQuery{}, fmt.Errorf("limit must be in [1,%d]", maxLimit)
		}
	}

	return model.NearbyQuery{
		Lat:      lat,
		Lon:      lon,
		RadiusKM: radius,
		Limit:    limit,
		Category: strings.TrimSpace(qs.Get("category")),
		Tag:      strings.TrimSpace(qs.Get("tag")),
	}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func ratio(hits, misses int64) *float64 {
	total := hits + misses
	if total == 0 {
		return nil
	}
	r := float64(hits) / float64(total)
	return &r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
