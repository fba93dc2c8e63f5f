// Package metrics exposes scan engine counters to Prometheus. Every method
// on a nil *Collector is a no-op so callers never need to guard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "strobe"

// Collector holds the engine's metrics.
type Collector struct {
	probesSent   *prometheus.CounterVec   // {technique}
	portStates   *prometheus.CounterVec   // {technique,state}
	retries      *prometheus.CounterVec   // {technique}
	fallbacks    *prometheus.CounterVec   // {from,to}
	errors       *prometheus.CounterVec   // {kind}
	scans        *prometheus.CounterVec   // {outcome}
	scanDuration *prometheus.HistogramVec // {technique}
	rtt          prometheus.Histogram
	batchSize    prometheus.Gauge
	breakerState prometheus.Gauge
	scansRunning prometheus.Gauge
}

func NewCollector() *Collector {
	return &Collector{
		probesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_sent_total",
			Help:      "Probes written to the wire, by technique.",
		}, []string{"technique"}),
		portStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_states_total",
			Help:      "Classified ports, by technique and state.",
		}, []string{"technique", "state"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_retries_total",
			Help:      "Probe retries after a recoverable error.",
		}, []string{"technique"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "technique_fallbacks_total",
			Help:      "Ports re-probed with a fallback technique.",
		}, []string{"from", "to"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Probe errors, by kind.",
		}, []string{"kind"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans, by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of scans.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"technique"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Round-trip time of answered probes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		batchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Current adaptive batch size.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		scansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_running",
			Help:      "Scans currently in progress.",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.probesSent.Describe(ch)
	c.portStates.Describe(ch)
	c.retries.Describe(ch)
	c.fallbacks.Describe(ch)
	c.errors.Describe(ch)
	c.scans.Describe(ch)
	c.scanDuration.Describe(ch)
	c.rtt.Describe(ch)
	c.batchSize.Describe(ch)
	c.breakerState.Describe(ch)
	c.scansRunning.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.probesSent.Collect(ch)
	c.portStates.Collect(ch)
	c.retries.Collect(ch)
	c.fallbacks.Collect(ch)
	c.errors.Collect(ch)
	c.scans.Collect(ch)
	c.scanDuration.Collect(ch)
	c.rtt.Collect(ch)
	c.batchSize.Collect(ch)
	c.breakerState.Collect(ch)
	c.scansRunning.Collect(ch)
}

func (c *Collector) ProbeSent(technique string) {
	if c == nil {
		return
	}
	c.probesSent.WithLabelValues(technique).Inc()
}

func (c *Collector) PortState(technique, state string) {
	if c == nil {
		return
	}
	c.portStates.WithLabelValues(technique, state).Inc()
}

func (c *Collector) Retry(technique string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(technique).Inc()
}

func (c *Collector) Fallback(from, to string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(from, to).Inc()
}

func (c *Collector) Error(kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(kind).Inc()
}

func (c *Collector) RTT(d time.Duration) {
	if c == nil {
		return
	}
	c.rtt.Observe(d.Seconds())
}

func (c *Collector) BatchSize(n int) {
	if c == nil {
		return
	}
	c.batchSize.Set(float64(n))
}

func (c *Collector) BreakerState(state int) {
	if c == nil {
		return
	}
	c.breakerState.Set(float64(state))
}

// ScanStarted marks a scan as running and returns the func that records its
// completion.
func (c *Collector) ScanStarted(technique string) func(err error) {
	if c == nil {
		return func(error) {}
	}
	start := time.Now()
	c.scansRunning.Inc()
	return func(err error) {
		c.scansRunning.Dec()
		c.scanDuration.WithLabelValues(technique).Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.scans.WithLabelValues(outcome).Inc()
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and build
// info collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if c != nil {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewBuildInfoCollector())
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		MaxRequestsInFlight: 8,
		Timeout:             30 * time.Second,
	})
}
