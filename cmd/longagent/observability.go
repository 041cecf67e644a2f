package main

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/kkelly-oss/kkcode/pkg/observability"
)

// startMetricsServer starts a background HTTP server exposing the
// Prometheus metrics endpoint, when metrics are enabled. It returns nil
// if the listener could not be bound, logging the failure instead of
// failing the session — metrics export is never load-bearing for a run.
func startMetricsServer(obs *observability.Manager) net.Listener {
	ln, err := net.Listen("tcp", obs.MetricsAddr())
	if err != nil {
		slog.Warn("observability: failed to start metrics server", "addr", obs.MetricsAddr(), "error", err)
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(obs.MetricsEndpoint(), obs.MetricsHandler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("observability: metrics server stopped", "error", err)
		}
	}()

	slog.Info("observability: metrics server listening", "addr", ln.Addr().String(), "path", obs.MetricsEndpoint())
	return ln
}
