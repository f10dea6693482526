// Package health provides the liveness and readiness handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness reports whether the backing store answers a ping.
func Readiness(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status  string `json:"status"`
			RedisOK bool   `json:"redis_ok"`
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := resp{Status: "ready", RedisOK: true}
		if p == nil || p.Ping(ctx) != nil {
			out = resp{Status: "not_ready", RedisOK: false}
		}

		w.Header().Set("Content-Type", "application/json")
		if !out.RedisOK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
