package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianmcphee/planbase"
)

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := planbase.NewPrometheusMetrics(registry)
	metrics.Increment(planbase.MetricImportRecords, "entity", "tasks")

	var report *planbase.HealthReport
	handler := newMetricsHandler(registry, func() *planbase.HealthReport { return report })

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `planbase_import_records{entity="tasks"} 1`)
	})

	t.Run("health before first check", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("healthy", func(t *testing.T) {
		report = &planbase.HealthReport{IsHealthy: true, Issues: []string{}}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		var got planbase.HealthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.IsHealthy)
	})

	t.Run("unhealthy", func(t *testing.T) {
		report = &planbase.HealthReport{Issues: []string{"schema state is failed"}}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "schema state is failed")
	})
}

func TestMetricsServerLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	planbase.NewPrometheusMetrics(registry)
	healthy := &planbase.HealthReport{IsHealthy: true}

	srv, err := startMetricsServer("127.0.0.1:0", newMetricsHandler(registry, func() *planbase.HealthReport { return healthy }), &planbase.NoOpLogger{})
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown())
	_, err = http.Get("http://" + srv.Addr() + "/health")
	assert.Error(t, err)
}
