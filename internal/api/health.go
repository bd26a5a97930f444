package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/log"
)

// readinessTimeout bounds the database ping on /readyz.
const readinessTimeout = 2 * time.Second

// health serves GET /healthz, the liveness probe.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness serves GET /readyz. With a pool configured it pings the
// database and reports pool stats; without one it only reports up.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			logger.Warn("readiness ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			}, logger)
			return
		}

		stats := pool.Stat()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"pool": map[string]int64{
				"total_conns":    int64(stats.TotalConns()),
				"idle_conns":     int64(stats.IdleConns()),
				"acquired_conns": int64(stats.AcquiredConns()),
				"max_conns":      int64(stats.MaxConns()),
			},
		}, logger)
	}
}
