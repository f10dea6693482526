package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr         string
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration

	WeatherTTL       time.Duration
	WeatherJitterMax time.Duration
	StaleTTL         time.Duration

	LockTTL  time.Duration
	LockPoll time.Duration

	GeoCacheTTL  time.Duration
	GeoJitterMax time.Duration
	GeoQuantStep float64

	GeocoderURL     string
	ForecastURL     string
	UpstreamTimeout time.Duration
	UpstreamBackoff time.Duration

	Events EventsCfg
}

func FromEnv() Config {
	quant := getfloat("GEO_QUERY_QUANT", 0.0005)
	if quant <= 0 {
		quant = 0.0005
	}

	return Config{
		Addr:     getenv("ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:     getint("REDIS_POOL_SIZE", 200),
		RedisMinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 4),
		RedisDialTimeout:  getduration("REDIS_DIAL_TIMEOUT", time.Second),
		RedisReadTimeout:  getduration("REDIS_READ_TIMEOUT", 1500*time.Millisecond),
		RedisWriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 1500*time.Millisecond),

		WeatherTTL:       getduration("WEATHER_TTL", 300*time.Second),
		WeatherJitterMax: getduration("WEATHER_JITTER_MAX", 30*time.Second),
		StaleTTL:         getduration("STALE_TTL", 24*time.Hour),

		LockTTL:  getduration("LOCK_TTL", 5*time.Second),
		LockPoll: getduration("LOCK_POLL", 20*time.Millisecond),

		GeoCacheTTL:  getduration("GEO_CACHE_TTL", 120*time.Second),
		GeoJitterMax: getduration("GEO_JITTER_MAX", 20*time.Second),
		GeoQuantStep: quant,

		GeocoderURL:     getenv("GEOCODER_URL", "https://geocoding-api.open-meteo.com/v1/search"),
		ForecastURL:     getenv("FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 2*time.Second),
		UpstreamBackoff: getduration("UPSTREAM_RETRY_BACKOFF", 100*time.Millisecond),

		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "poi-writes"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
