// loadgen drives the service with a mix of weather and nearby queries so
// cache behavior can be observed under load.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	TargetURL    string
	Concurrency  int
	Duration     time.Duration
	WeatherRatio float64
	ZipfS        float64
	Timeout      time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8080", "Service base URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&cfg.WeatherRatio, "weather-ratio", 0.5, "Fraction of requests going to /weather")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1), skews city popularity")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.Parse()
	return cfg
}

var cities = []string{
	"San Jose", "Stockholm", "Berlin", "Tokyo", "Nairobi",
	"Lima", "Toronto", "Sydney", "Reykjavik", "Mumbai",
	"Oslo", "Santiago", "Cairo", "Auckland", "Porto",
}

// centers for nearby queries, with small random offsets so quantization
// collapsing is exercised
var centers = [][2]float64{
	{37.3384, -121.8863}, // San Jose
	{59.3293, 18.0686},   // Stockholm
	{52.5200, 13.4050},   // Berlin
}

type stats struct {
	requests int64
	errors   int64
	status2x int64
	status4x int64
	status5x int64
}

func main() {
	cfg := loadConfig()
	client := &http.Client{Timeout: cfg.Timeout}

	var st stats
	deadline := time.Now().Add(cfg.Duration)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for w := 0; w < cfg.Concurrency; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			zipf := rand.NewZipf(r, cfg.ZipfS, 1.0, uint64(len(cities)-1))

			for time.Now().Before(deadline) {
				var u string
				if r.Float64() < cfg.WeatherRatio {
					u = weatherURL(cfg.TargetURL, cities[zipf.Uint64()])
				} else {
					u = nearbyURL(cfg.TargetURL, r)
				}
				doRequest(client, u, &st)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	total := atomic.LoadInt64(&st.requests)
	log.Printf("done: requests=%d rps=%.1f ok=%d client_err=%d server_err=%d transport_err=%d",
		total,
		float64(total)/cfg.Duration.Seconds(),
		atomic.LoadInt64(&st.status2x),
		atomic.LoadInt64(&st.status4x),
		atomic.LoadInt64(&st.status5x),
		atomic.LoadInt64(&st.errors))
}

func weatherURL(base, city string) string {
	return fmt.Sprintf("%s/weather?city=%s", base, url.QueryEscape(city))
}

func nearbyURL(base string, r *rand.Rand) string {
	c := centers[r.Intn(len(centers))]
	// offsets of a few hundred meters keep queries inside a handful of
	// quantization cells
	lat := c[0] + (r.Float64()-0.5)*0.004
	lon := c[1] + (r.Float64()-0.5)*0.004
	return fmt.Sprintf("%s/poi/nearby?lat=%.6f&lon=%.6f&radius_km=5&limit=20", base, lat, lon)
}

func doRequest(client *http.Client, u string, st *stats) {
	atomic.AddInt64(&st.requests, 1)
	resp, err := client.Get(u)
	if err != nil {
		atomic.AddInt64(&st.errors, 1)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		atomic.AddInt64(&st.status2x, 1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		atomic.AddInt64(&st.status4x, 1)
	default:
		atomic.AddInt64(&st.status5x, 1)
	}
}
