package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/cacheaside"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/geo"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/model"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/router"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/weather"
)

type fakeProvider struct {
	w   model.Weather
	err error
}

func (p *fakeProvider) CurrentByCity(ctx context.Context, city string) (model.Weather, error) {
	if p.err != nil {
		return model.Weather{}, p.err
	}
	w := p.w
	w.City = city
	return w, nil
}

type testEnv struct {
	srv *httptest.Server
	mr  *miniredis.Miniredis
	p   *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	store, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrs := counters.New(store)
	engine := cacheaside.New(store, ctrs, log)
	stale := cacheaside.NewStale(store, 24*time.Hour, log)

	p := &fakeProvider{w: model.Weather{Temperature: 21.5, WindSpeed: 7, Time: "2026-08-31T12:00"}}
	weatherSvc := weather.NewService(engine, stale, ctrs, p, weather.ServiceConfig{
		TTL:       5 * time.Minute,
		JitterMax: 30 * time.Second,
	}, log)

	geoSvc := geo.NewService(store, ctrs, nil, geo.Config{
		CacheTTL:  2 * time.Minute,
		JitterMax: 20 * time.Second,
		QuantStep: 0.0005,
	}, log)

	h := &router.Handlers{Log: log, Weather: weatherSvc, Geo: geoSvc, Ctrs: ctrs}
	srv := httptest.NewServer(NewMux(h, store))
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, mr: mr, p: p}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func (e *testEnv) del(t *testing.T, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, e.srv.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz: status=%d body=%q", resp.StatusCode, body)
	}

	resp, body = env.get(t, "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"redis_ok":true`) {
		t.Fatalf("readyz body=%q", body)
	}

	env.mr.SetError("down")
	resp, body = env.get(t, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz with store down: status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"redis_ok":false`) {
		t.Fatalf("readyz degraded body=%q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status=%d", resp.StatusCode)
	}
}

func TestWeatherEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/weather")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing city: status=%d", resp.StatusCode)
	}

	resp, body := env.get(t, "/weather?city=Lima")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("weather: status=%d body=%q", resp.StatusCode, body)
	}
	var w model.Weather
	if err := json.Unmarshal(body, &w); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Temperature != 21.5 || w.City != "Lima" || w.Stale {
		t.Fatalf("weather body: %+v", w)
	}
}

func TestWeatherEndpoint_UpstreamDownNoFallback(t *testing.T) {
	env := newTestEnv(t)
	env.p.err = errors.New("dial tcp: connection refused")

	resp, _ := env.get(t, "/weather?city=Nowhere")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", resp.StatusCode)
	}
}

func TestWeatherEndpoint_ServesStaleDuringOutage(t *testing.T) {
	env := newTestEnv(t)

	if resp, _ := env.get(t, "/weather?city=Tokyo"); resp.StatusCode != http.StatusOK {
		t.Fatalf("warmup failed: %d", resp.StatusCode)
	}
	env.mr.FastForward(6 * time.Minute)
	env.p.err = errors.New("boom")

	resp, body := env.get(t, "/weather?city=Tokyo")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outage status=%d body=%q", resp.StatusCode, body)
	}
	var w model.Weather
	if err := json.Unmarshal(body, &w); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !w.Stale {
		t.Fatalf("fallback not marked stale: %+v", w)
	}
}

func TestPOILifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/poi", `{"name":"Vegan Garden","lat":37.3385,"lon":-121.8863,"category":"food","tags":["vegan"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert: status=%d body=%q", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"id"`
		OK bool   `json:"ok"`
	}
	if err := json.Unmarshal(body, &created); err != nil || !created.OK || created.ID == "" {
		t.Fatalf("upsert body=%q err=%v", body, err)
	}

	resp, body = env.get(t, "/poi/"+created.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status=%d", resp.StatusCode)
	}
	var got model.POIResult
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Vegan Garden" || got.Category != "food" {
		t.Fatalf("get body: %+v", got)
	}

	if resp := env.del(t, "/poi/"+created.ID); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status=%d", resp.StatusCode)
	}
	resp, _ = env.get(t, "/poi/"+created.ID)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: status=%d", resp.StatusCode)
	}
}

func TestPOIUpsert_Rejections(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/poi", `{"lat":37.3,"lon":-121.9}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing name: status=%d", resp.StatusCode)
	}
	resp, _ = env.post(t, "/poi", `{"name":"x","lat":90,"lon":0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("lat out of geohash range: status=%d", resp.StatusCode)
	}
	resp, _ = env.post(t, "/poi", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: status=%d", resp.StatusCode)
	}
}

func TestPOIGet_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/poi/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
}

func TestNearbyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// empty index must serve a JSON array, not null
	resp, body := env.get(t, "/poi/nearby?lat=37.3384&lon=-121.8863")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nearby: status=%d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("empty result body=%q want []", body)
	}

	if resp, _ := env.post(t, "/poi", `{"name":"Cafe","lat":37.3385,"lon":-121.8863,"category":"food"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("seed failed: %d", resp.StatusCode)
	}

	resp, body = env.get(t, "/poi/nearby?lat=37.3390&lon=-121.8863&radius_km=5&limit=10&category=food")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nearby: status=%d", resp.StatusCode)
	}
	var out []model.POIResult
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Name != "Cafe" {
		t.Fatalf("nearby body: %+v", out)
	}

	resp, _ = env.get(t, "/poi/nearby?lat=91&lon=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid lat: status=%d", resp.StatusCode)
	}
	resp, _ = env.get(t, "/poi/nearby?lat=1&lon=2&limit=500")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit above cap: status=%d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// two lookups: one miss, one hit
	env.get(t, "/weather?city=Lima")
	env.get(t, "/weather?city=Lima")
	env.get(t, "/poi/nearby?lat=1&lon=2")

	resp, body := env.get(t, "/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status=%d", resp.StatusCode)
	}

	var stats struct {
		Weather struct {
			CacheHits       int64    `json:"cache_hits"`
			CacheMisses     int64    `json:"cache_misses"`
			APICalls        int64    `json:"api_calls"`
			AvoidedAPICalls int64    `json:"avoided_api_calls"`
			HitRatio        *float64 `json:"hit_ratio"`
		} `json:"weather"`
		Geo struct {
			Queries     int64 `json:"queries"`
			CacheMisses int64 `json:"cache_misses"`
		} `json:"geo"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v body=%q", err, body)
	}
	if stats.Weather.CacheHits != 1 || stats.Weather.CacheMisses != 1 || stats.Weather.APICalls != 1 {
		t.Fatalf("weather stats: %+v", stats.Weather)
	}
	if stats.Weather.AvoidedAPICalls != 1 {
		t.Fatalf("avoided_api_calls=%d want 1", stats.Weather.AvoidedAPICalls)
	}
	if stats.Weather.HitRatio == nil || *stats.Weather.HitRatio != 0.5 {
		t.Fatalf("hit_ratio=%v want 0.5", stats.Weather.HitRatio)
	}
	if stats.Geo.Queries != 1 || stats.Geo.CacheMisses != 1 {
		t.Fatalf("geo stats: %+v", stats.Geo)
	}
}
