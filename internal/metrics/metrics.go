// Package metrics exposes Prometheus metrics for the sync core.
// All recording methods are safe to call on a nil *Collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for one daemon instance.
type Collector struct {
	registry *prometheus.Registry

	// Sync metrics
	Sweeps        *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	Entries       *prometheus.CounterVec
	QueuePending  prometheus.Gauge
	QueueFailed   prometheus.Gauge
	Conflicts     prometheus.Counter
	Online        prometheus.Gauge

	// Remote metrics
	RemoteRequests *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec
	BreakerState   prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_sweeps_total",
			Help:      "Sync sweeps by outcome (completed, skipped)",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_sweep_duration_seconds",
			Help:      "Duration of completed sync sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
		Entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_entries_total",
			Help:      "Queue entries processed by entity, operation and result",
		}, []string{"entity", "operation", "result"}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_pending",
			Help:      "Pending queue entries",
		}),
		QueueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_failed",
			Help:      "Failed queue entries awaiting manual retry",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_merge_conflicts_total",
			Help:      "Local pending records dropped in favor of the server version",
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the remote service is reachable",
		}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote service requests by operation and status code",
		}, []string{"operation", "status"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote service request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Local API requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Local API request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.Sweeps, c.SweepDuration, c.Entries,
		c.QueuePending, c.QueueFailed, c.Conflicts, c.Online,
		c.RemoteRequests, c.RemoteDuration, c.BreakerState,
		c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordSweep records a finished sweep.
func (c *Collector) RecordSweep(skipped bool, d time.Duration) {
	if c == nil {
		return
	}
	if skipped {
		c.Sweeps.WithLabelValues("skipped").Inc()
		return
	}
	c.Sweeps.WithLabelValues("completed").Inc()
	c.SweepDuration.Observe(d.Seconds())
}

// RecordEntry records the outcome of one queue entry (synced, retry, failed, blocked).
func (c *Collector) RecordEntry(entity, operation, result string) {
	if c == nil {
		return
	}
	c.Entries.WithLabelValues(entity, operation, result).Inc()
}

// SetQueue updates the queue gauges.
func (c *Collector) SetQueue(pending, failed int) {
	if c == nil {
		return
	}
	c.QueuePending.Set(float64(pending))
	c.QueueFailed.Set(float64(failed))
}

// RecordConflicts adds n merge conflicts.
func (c *Collector) RecordConflicts(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Conflicts.Add(float64(n))
}

// SetOnline updates the connectivity gauge.
func (c *Collector) SetOnline(online bool) {
	if c == nil {
		return
	}
	if online {
		c.Online.Set(1)
	} else {
		c.Online.Set(0)
	}
}

// RecordRemote records one remote request. status is 0 for transport errors.
func (c *Collector) RecordRemote(operation string, status int, d time.Duration) {
	if c == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.RemoteRequests.WithLabelValues(operation, code).Inc()
	c.RemoteDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetBreakerState records the breaker state as a number.
func (c *Collector) SetBreakerState(state int) {
	if c == nil {
		return
	}
	c.BreakerState.Set(float64(state))
}

// RecordHTTP records one local API request.
func (c *Collector) RecordHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
