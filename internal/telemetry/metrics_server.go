package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics starts a bare /metrics HTTP server against the default
// Prometheus registry, mirroring the teacher's ServerConfig.MetricsPort
// field (declared, never wired up in cmd/server/main.go). Runs until
// ctx is cancelled; errors from a closed listener are swallowed since
// the caller doesn't block on this server's lifetime.
func ServeMetrics(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
