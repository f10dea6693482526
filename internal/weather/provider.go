// Package weather fetches current weather per city from Open-Meteo and
// serves it through the cache-aside engine with a stale fallback.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/model"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
)

// Provider resolves a city to its current weather.
type Provider interface {
	CurrentByCity(ctx context.Context, city string) (model.Weather, error)
}

type ProviderConfig struct {
	GeocoderURL string
	ForecastURL string
	// Timeout bounds each upstream HTTP call.
	Timeout time.Duration
	// RetryBackoff is slept before the single retry.
	RetryBackoff time.Duration
}

type location struct {
	Lat     float64
	Lon     float64
	Name    string
	Country string
}

// OpenMeteo is the production Provider. Geocoding results are memoized in an
// in-process expirable LRU since a city's coordinates do not move.
type OpenMeteo struct {
	cfg      ProviderConfig
	http     *http.Client
	log      *slog.Logger
	geocodes *expirable.LRU[string, location]
}

func NewOpenMeteo(cfg ProviderConfig, log *slog.Logger) *OpenMeteo {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenMeteo{
		cfg:      cfg,
		http:     newOutboundClient(),
		log:      log,
		geocodes: expirable.NewLRU[string, location](1024, nil, 12*time.Hour),
	}
}

func newOutboundClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// CurrentByCity geocodes the city and fetches its current weather. The whole
// operation is attempted twice with a short backoff between attempts.
func (p *OpenMeteo) CurrentByCity(ctx context.Context, city string) (model.Weather, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.RetryBackoff):
			case <-ctx.Done():
				return model.Weather{}, ctx.Err()
			}
		}
		w, err := p.fetch(ctx, city)
		if err == nil {
			return w, nil
		}
		lastErr = err
	}
	return model.Weather{}, lastErr
}

func (p *OpenMeteo) fetch(ctx context.Context, city string) (model.Weather, error) {
	loc, err := p.geocode(ctx, city)
	if err != nil {
		return model.Weather{}, err
	}

	w, err := p.currentWeather(ctx, loc)
	if err != nil {
		return model.Weather{}, err
	}
	return w, nil
}

func (p *OpenMeteo) geocode(ctx context.Context, city string) (location, error) {
	norm := strings.ToLower(strings.TrimSpace(city))
	if loc, ok := p.geocodes.Get(norm); ok {
		return loc, nil
	}

	params := url.Values{}
	params.Set("name", city)
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	var resp struct {
		Results []struct {
			Latitude    float64 `json:"latitude"`
			Longitude   float64 `json:"longitude"`
			Name        string  `json:"name"`
			CountryCode string  `json:"country_code"`
		} `json:"results"`
	}
	if err := p.getJSON(ctx, "geocoder", p.cfg.GeocoderURL, params, &resp); err != nil {
		return location{}, fmt.Errorf("geocode %q: %w", city, err)
	}
	if len(resp.Results) == 0 {
		return location{}, fmt.Errorf("geocode %q: no results", city)
	}

	top := resp.Results[0]
	loc := location{Lat: top.Latitude, Lon: top.Longitude, Name: top.Name, Country: top.CountryCode}
	p.geocodes.Add(norm, loc)
	return loc, nil
}

func (p *OpenMeteo) currentWeather(ctx context.Context, loc location) (model.Weather, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.6f", loc.Lat))
	params.Set("longitude", fmt.Sprintf("%.6f", loc.Lon))
	params.Set("current_weather", "true")
	params.Set("temperature_unit", "celsius")
	params.Set("windspeed_unit", "kmh")
	params.Set("precipitation_unit", "mm")

	var resp struct {
		CurrentWeather *struct {
			Temperature   float64 `json:"temperature"`
			WindSpeed     float64 `json:"windspeed"`
			WindDirection float64 `json:"winddirection"`
			WeatherCode   int     `json:"weathercode"`
			IsDay         int     `json:"is_day"`
			Time          string  `json:"time"`
		} `json:"current_weather"`
	}
	if err := p.getJSON(ctx, "forecast", p.cfg.ForecastURL, params, &resp); err != nil {
		return model.Weather{}, fmt.Errorf("forecast for %q: %w", loc.Name, err)
	}
	if resp.CurrentWeather == nil {
		return model.Weather{}, fmt.Errorf("forecast for %q: missing current_weather", loc.Name)
	}

	cw := resp.CurrentWeather
	return model.Weather{
		Temperature:   cw.Temperature,
		WindSpeed:     cw.WindSpeed,
		WindDirection: cw.WindDirection,
		WeatherCode:   cw.WeatherCode,
		IsDay:         cw.IsDay,
		Time:          cw.Time,
		City:          loc.Name,
		Country:       loc.Country,
	}, nil
}

func (p *OpenMeteo) getJSON(ctx context.Context, upstream, base string, params url.Values, out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", base, err)
	}
	u.RawQuery = params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.http.Do(req)
	observability.ObserveUpstreamLatency(upstream, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s request: %w", upstream, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.log.Warn("close response body", "upstream", upstream, "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s status=%d body=%q", upstream, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", upstream, err)
	}
	return nil
}
