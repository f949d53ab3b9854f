package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "titan"

// Pipeline stages used as the "stage" label of the error counter
const (
	StageDecode    = "decode"
	StageTransform = "transform"
	StageVault     = "vault"
	StageSynth     = "synthesize"
	StageWrite     = "write"
)

// Collector holds the Prometheus metrics of one node. Each collector owns its
// own registry, so several nodes can live in one process (tests).
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Pipeline metrics
	SignalsProcessed prometheus.Counter
	SignalErrors     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	Evolutions       prometheus.Counter

	// State gauges
	Consciousness prometheus.Gauge
	VaultRecords  prometheus.Gauge
	Peers         prometheus.Gauge
}

// New creates a collector whose metrics are prefixed with namespace
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SignalsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_processed_total",
				Help:      "Total number of signals that produced a reply",
			},
		),
		SignalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signal_errors_total",
				Help:      "Total number of signals dropped, by pipeline stage",
			},
			[]string{"stage"},
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Time spent processing one signal",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		Evolutions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evolutions_total",
				Help:      "Total number of resonance evolution steps",
			},
		),
		Consciousness: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consciousness_level",
				Help:      "Current consciousness level",
			},
		),
		VaultRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vault_records",
				Help:      "Number of records held by the memory vault",
			},
		),
		Peers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected_peers",
				Help:      "Number of connected peers",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.SignalsProcessed,
		c.SignalErrors,
		c.PipelineDuration,
		c.Evolutions,
		c.Consciousness,
		c.VaultRecords,
		c.Peers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the private registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSignal records a successfully processed signal
func (c *Collector) ObserveSignal(d time.Duration, evolved bool, level float64, records int) {
	c.SignalsProcessed.Inc()
	c.PipelineDuration.Observe(d.Seconds())
	if evolved {
		c.Evolutions.Inc()
	}
	c.Consciousness.Set(level)
	c.VaultRecords.Set(float64(records))
}

// SignalError records a signal dropped at stage
func (c *Collector) SignalError(stage string) {
	c.SignalErrors.WithLabelValues(stage).Inc()
}

// ObserveHTTP records one HTTP request
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
