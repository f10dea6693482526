package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/cacheaside"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/config"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/counters"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/events"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/geo"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/logger"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/observability"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/redisstore"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/router"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/server"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/weather"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redisstore.New(ctx, cfg.RedisAddr,
		redisstore.WithPoolSize(cfg.RedisPoolSize),
		redisstore.WithMinIdleConns(cfg.RedisMinIdleConns),
		redisstore.WithDialTimeout(cfg.RedisDialTimeout),
		redisstore.WithReadTimeout(cfg.RedisReadTimeout),
		redisstore.WithWriteTimeout(cfg.RedisWriteTimeout),
	)
	if err != nil {
		appLog.Error("redis client setup failed", "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctrs := counters.New(store)

	engine := cacheaside.New(store, ctrs, appLog,
		cacheaside.WithLockTTL(cfg.LockTTL),
		cacheaside.WithPollInterval(cfg.LockPoll),
		cacheaside.WithHitMissCounters(counters.WeatherHits, counters.WeatherMisses),
	)
	stale := cacheaside.NewStale(store, cfg.StaleTTL, appLog)

	provider := weather.NewOpenMeteo(weather.ProviderConfig{
		GeocoderURL:  cfg.GeocoderURL,
		ForecastURL:  cfg.ForecastURL,
		Timeout:      cfg.UpstreamTimeout,
		RetryBackoff: cfg.UpstreamBackoff,
	}, appLog)

	weatherSvc := weather.NewService(engine, stale, ctrs, provider, weather.ServiceConfig{
		TTL:       cfg.WeatherTTL,
		JitterMax: cfg.WeatherJitterMax,
	}, appLog)

	var pub *events.Publisher
	if cfg.Events.Enabled {
		pub, err = events.NewPublisher(strings.Split(cfg.Events.Brokers, ","), cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("events publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
	}

	geoSvc := geo.NewService(store, ctrs, pub, geo.Config{
		CacheTTL:  cfg.GeoCacheTTL,
		JitterMax: cfg.GeoJitterMax,
		QuantStep: cfg.GeoQuantStep,
	}, appLog)

	h := &router.Handlers{
		Log:     appLog,
		Weather: weatherSvc,
		Geo:     geoSvc,
		Ctrs:    ctrs,
	}

	if err := server.Run(ctx, cfg, appLog, h, store); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
