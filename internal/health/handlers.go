// Package health exposes the liveness and readiness probes. Readiness covers
// the two dependencies webhook processing cannot run without: the Postgres
// order store and the Redis deferral queue.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/the-events-calendar/commerce-gateway/internal/common"
)

// Checker probes the backing stores. Implementations live where the pool and
// client are wired, typically in the binary's composition root.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler serves the probe endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live answers as long as the process can serve HTTP. It deliberately touches
// no dependencies so a flapping store never restarts the pod.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes both stores and reports per-dependency state. Any failing
// probe turns the whole response 503 so the balancer stops routing webhooks
// here until the store recovers.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	report := map[string]string{
		"db":    probe(ctx, h.Checker.PingDB, h.dbTimeout()),
		"redis": probe(ctx, h.Checker.PingRedis, h.redisTimeout()),
	}
	code := http.StatusOK
	for _, state := range report {
		if state != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	common.JSON(w, code, report)
}

func probe(ctx context.Context, ping func(context.Context, time.Duration) error, timeout time.Duration) string {
	if err := ping(ctx, timeout); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
