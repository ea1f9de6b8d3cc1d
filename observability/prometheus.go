package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ MetricFactory = (*PrometheusFactory)(nil)

// PrometheusFactory is a MetricFactory backed by a Prometheus registry.
// Dotted metric names become underscore separated. Asking twice for the
// same name returns the same collector.
type PrometheusFactory struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// NewPrometheusFactory creates a factory with its own registry.
func NewPrometheusFactory() *PrometheusFactory {
	return &PrometheusFactory{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Registry returns the underlying registry.
func (f *PrometheusFactory) Registry() *prometheus.Registry { return f.registry }

// Handler serves the registry in the Prometheus exposition format.
func (f *PrometheusFactory) Handler() http.Handler {
	return promhttp.HandlerFor(f.registry, promhttp.HandlerOpts{})
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	name = promName(name)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: "Count of " + strings.ReplaceAll(name, "_", " ") + ".",
	})
	f.registry.MustRegister(c)
	f.counters[name] = c
	return c
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	name = promName(name)

	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Distribution of " + strings.ReplaceAll(name, "_", " ") + ".",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	f.registry.MustRegister(h)
	f.histograms[name] = h
	return h
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
