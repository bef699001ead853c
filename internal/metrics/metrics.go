// Package metrics provides the Prometheus-backed metrics registry of the
// rollup sequencer; mempool admission is the subsystem that registers
// metrics in it. It wraps prometheus/client_golang behind a small
// Namespace-scoped Registry so each subsystem only has to name its metric,
// not wire up collectors by hand.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics registry.
type Config struct {
	// Namespace is prepended to every metric name (e.g. "zknode_mempool_tx_admitted_total").
	Namespace string
	// Path is the HTTP path the registry is served on.
	Path string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Namespace: "zknode", Path: "/metrics"}
}

// Registry owns the Prometheus collectors for one process. All constructor
// methods are safe to call from multiple subsystems during startup; they
// are not safe to call concurrently with Handler().
type Registry struct {
	config   Config
	registry *prometheus.Registry
}

// NewRegistry creates a Registry backed by a fresh prometheus.Registry.
func NewRegistry(config Config) *Registry {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	return &Registry{config: config, registry: prometheus.NewRegistry()}
}

// Counter registers a new monotonic counter with the given name and help
// text. Registering the same name twice panics (MustRegister).
func (r *Registry) Counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: r.config.Namespace,
		Name:      name,
		Help:      help,
	})
	r.registry.MustRegister(c)
	return c
}

// CounterVec registers a counter vector partitioned by the given labels.
func (r *Registry) CounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.config.Namespace,
		Name:      name,
		Help:      help,
	}, labels)
	r.registry.MustRegister(c)
	return c
}

// Gauge registers a gauge with the given name and help text.
func (r *Registry) Gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Name:      name,
		Help:      help,
	})
	r.registry.MustRegister(g)
	return g
}

// Histogram registers a histogram with the given name, help text and buckets.
func (r *Registry) Histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.config.Namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	r.registry.MustRegister(h)
	return h
}

// Handler returns the http.Handler serving the registry's metrics in
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Path returns the HTTP path metrics are intended to be served on.
func (r *Registry) Path() string { return r.config.Path }
