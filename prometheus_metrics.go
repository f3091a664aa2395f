package planbase

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// A nil registry gets a fresh private registry so tests and multiple stores
// never collide on metric registration.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers the metrics emitted by the store, the
// query monitor and the migrator
func (p *PrometheusMetrics) registerDefaultMetrics() {
	factory := promauto.With(p.registry)

	p.counters[MetricSlowQueries] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planbase",
			Subsystem: "query",
			Name:      "slow_total",
			Help:      "Reads slower than the slow query threshold",
		},
		[]string{"operation", "table"},
	)

	p.counters[MetricIndexHits] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planbase",
			Subsystem: "index",
			Name:      "hits_total",
			Help:      "Lookups served by a declared index",
		},
		[]string{"table", "index"},
	)

	p.counters[MetricIndexMisses] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planbase",
			Subsystem: "index",
			Name:      "misses_total",
			Help:      "Lookups that fell back to a collection scan",
		},
		[]string{"table"},
	)

	p.counters[MetricMigrationSteps] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planbase",
			Subsystem: "migration",
			Name:      "steps_total",
			Help:      "Migration steps applied",
		},
		[]string{"step"},
	)

	p.histograms[MetricQueryDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "planbase",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Monitored read duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "table"},
	)

	p.histograms[MetricQueryResults] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "planbase",
			Subsystem: "query",
			Name:      "results",
			Help:      "Rows returned per monitored read",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"table"},
	)

	p.gauges[MetricSchemaVersion] = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "planbase",
			Subsystem: "schema",
			Name:      "version",
			Help:      "Schema version the store is currently at",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "planbase",
				Name:      metricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "planbase",
				Name:      metricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "planbase",
				Name:      metricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// metricName turns "planbase.get.success" into "get_success".
func metricName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			c = '_'
		}
		out = append(out, c)
	}
	s := string(out)
	const prefix = "planbase_"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		s = s[len(prefix):]
	}
	return s
}
