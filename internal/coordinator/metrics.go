package coordinator

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/loadbench/mb/internal/conn"
	"github.com/loadbench/mb/internal/stats"
)

// serveMetrics runs the /metrics HTTP endpoint for the duration of the
// run, sampling instances into exp every watchdog-scale tick.
func serveMetrics(log zerolog.Logger, addr string, exp *stats.Exporter, instances []*conn.Instance, deadline time.Time) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	defer srv.Close()

	last := stats.NewObserved()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if time.Now().After(deadline) {
			return
		}
		exp.Observe(stats.Sum(instances, 0), last)
	}
}
