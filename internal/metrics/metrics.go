// Package metrics provides Prometheus counters/histograms/gauges for
// HTTP traffic, broker calls, running instances, backtests and the
// Event Bus's own published/dropped tallies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the engine exposes at
// GET /metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	BrokerCallsTotal   *prometheus.CounterVec
	BrokerCallDuration *prometheus.HistogramVec

	InstancesRunning prometheus.Gauge
	BacktestsRunTotal prometheus.Counter

	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers every series under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pi5_engine"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served by the Control API.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		BrokerCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_calls_total",
				Help:      "Total number of Broker Adapter calls, by operation and result.",
			},
			[]string{"operation", "result"},
		),
		BrokerCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "broker_call_duration_seconds",
				Help:      "Broker Adapter call duration in seconds, by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		InstancesRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_running",
				Help:      "Number of instances currently in the RUNNING state.",
			},
		),
		BacktestsRunTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtests_run_total",
				Help:      "Total number of backtest runs started.",
			},
		),
		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of Event Bus publishes, by event type.",
			},
			[]string{"type"},
		),
		EventsDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of Event Bus publishes dropped due to a full subscriber buffer, by event type.",
			},
			[]string{"type"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per contract: 0=closed, 1=half-open, 2=open.",
			},
			[]string{"contract_id"},
		),
	}
}

// SyncEventBus copies the Event Bus's internal published/dropped
// tallies into the Prometheus series (spec §4.12: "event-bus
// published/dropped counters mirrored from the Event Bus's internal
// tally"). Counters only move forward, so this adds the delta since the
// last call per type.
func (m *Metrics) SyncEventBus(published, dropped map[string]int64, lastPublished, lastDropped map[string]int64) {
	for t, n := range published {
		if delta := n - lastPublished[t]; delta > 0 {
			m.EventsPublishedTotal.WithLabelValues(t).Add(float64(delta))
		}
	}
	for t, n := range dropped {
		if delta := n - lastDropped[t]; delta > 0 {
			m.EventsDroppedTotal.WithLabelValues(t).Add(float64(delta))
		}
	}
}
