// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/redis-proximity-cache/internal/config"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/health"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/middleware"
	"github.com/mohammed-shakir/redis-proximity-cache/internal/router"
)

// NewMux builds the route tree. Split out from Run so tests can drive it
// through httptest.
func NewMux(h *router.Handlers, store health.Pinger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(h.Log))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(store))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/weather", router.Observed("/weather", h.GetWeather))
	r.Get("/stats", router.Observed("/stats", h.Stats))

	r.Route("/poi", func(r chi.Router) {
		r.Post("/", router.Observed("/poi", h.UpsertPOI))
		r.Get("/nearby", router.Observed("/poi/nearby", h.Nearby))
		r.Get("/{id}", router.Observed("/poi/{id}", h.GetPOI))
		r.Delete("/{id}", router.Observed("/poi/{id}", h.DeletePOI))
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h *router.Handlers, store health.Pinger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewMux(h, store),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
