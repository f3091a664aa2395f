package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adrianmcphee/planbase"
)

// metricsServer exposes a command's Prometheus registry and latest health
// report while a --watch loop runs.
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// newMetricsHandler serves /metrics from registry and /health from the
// report returned by health. /health answers 503 until a healthy report exists.
func newMetricsHandler(registry *prometheus.Registry, health func() *planbase.HealthReport) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := health()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case report == nil:
			report = &planbase.HealthReport{Issues: []string{"no health check has run yet"}}
			w.WriteHeader(http.StatusServiceUnavailable)
		case !report.IsHealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}

func startMetricsServer(addr string, handler http.Handler, logger planbase.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return &metricsServer{srv: srv, ln: ln}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (m *metricsServer) Addr() string { return m.ln.Addr().String() }

func (m *metricsServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.srv.Shutdown(ctx)
}

// serveMetrics starts the metrics server when --metrics-addr is set. The
// returned stop func is always safe to call.
func (a *app) serveMetrics(addr string, health func() *planbase.HealthReport) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	srv, err := startMetricsServer(addr, newMetricsHandler(a.registry, health), a.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot serve metrics", err)
	}
	return func() {
		if err := srv.Shutdown(); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}, nil
}
