package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the dashboard service.
type Metrics struct {
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	refreshInFlight prometheus.Gauge
	chatTurnsTotal  *prometheus.CounterVec
	relayHealthy    prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics creates the dashboard metrics collector. Collectors register
// once per process; repeated calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			queriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_agent_queries_total",
					Help: "Total number of agent queries by category and outcome",
				},
				[]string{"category", "status"},
			),
			queryDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pulse_agent_query_duration_seconds",
					Help:    "Agent query duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"category"},
			),
			cyclesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_refresh_cycles_total",
					Help: "Total number of refresh cycles by trigger and outcome",
				},
				[]string{"trigger", "outcome"},
			),
			cycleDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pulse_refresh_cycle_duration_seconds",
					Help:    "Refresh cycle duration in seconds",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
			),
			refreshInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "pulse_refresh_in_flight",
					Help: "Whether a refresh cycle is currently running (1 or 0)",
				},
			),
			chatTurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_chat_turns_total",
					Help: "Total number of chat turns by outcome",
				},
				[]string{"outcome"},
			),
			relayHealthy: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "pulse_relay_healthy",
					Help: "Relay health status (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})
	return metricsInst
}

// RecordQuery records one category fetch.
func (m *Metrics) RecordQuery(category, status string, duration time.Duration) {
	if m == nil {
		return
	}

	categoryLabel := category
	if categoryLabel == "" {
		categoryLabel = "unknown"
	}
	statusLabel := status
	if statusLabel == "" {
		statusLabel = "unknown"
	}

	m.queriesTotal.WithLabelValues(categoryLabel, statusLabel).Inc()
	m.queryDuration.WithLabelValues(categoryLabel).Observe(duration.Seconds())
}

// RecordCycle records a completed refresh cycle.
func (m *Metrics) RecordCycle(trigger, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	triggerLabel := trigger
	if triggerLabel == "" {
		triggerLabel = "unknown"
	}
	outcomeLabel := outcome
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}

	m.cyclesTotal.WithLabelValues(triggerLabel, outcomeLabel).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// SetRefreshInFlight updates the in-flight refresh gauge.
func (m *Metrics) SetRefreshInFlight(inFlight bool) {
	if m == nil {
		return
	}
	if inFlight {
		m.refreshInFlight.Set(1)
	} else {
		m.refreshInFlight.Set(0)
	}
}

// RecordChatTurn records a completed chat turn.
func (m *Metrics) RecordChatTurn(outcome string) {
	if m == nil {
		return
	}
	outcomeLabel := outcome
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}
	m.chatTurnsTotal.WithLabelValues(outcomeLabel).Inc()
}

// UpdateRelayHealth updates the relay health gauge.
func (m *Metrics) UpdateRelayHealth(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.relayHealthy.Set(1)
	} else {
		m.relayHealthy.Set(0)
	}
}

// RelayMetrics collects Prometheus metrics for the forwarding relay.
type RelayMetrics struct {
	requestsTotal   *prometheus.CounterVec
	forwardDuration prometheus.Histogram
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
}

var (
	relayOnce sync.Once
	relayInst *RelayMetrics
)

// NewRelayMetrics creates the relay metrics collector.
func NewRelayMetrics() *RelayMetrics {
	relayOnce.Do(func() {
		relayInst = &RelayMetrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pulse_relay_requests_total",
					Help: "Total relay requests by kind and status code",
				},
				[]string{"kind", "status"},
			),
			forwardDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "pulse_relay_forward_duration_seconds",
					Help:    "Forward round-trip duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
			),
			bytesIn: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pulse_relay_bytes_in_total",
					Help: "Total request body bytes accepted for forwarding",
				},
			),
			bytesOut: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pulse_relay_bytes_out_total",
					Help: "Total response bytes written back to clients",
				},
			),
		}
	})
	return relayInst
}

// RecordForward records a forward attempt with its response status.
func (m *RelayMetrics) RecordForward(status int, duration time.Duration, bytesIn, bytesOut int64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues("forward", strconv.Itoa(status)).Inc()
	m.forwardDuration.Observe(duration.Seconds())
	if bytesIn > 0 {
		m.bytesIn.Add(float64(bytesIn))
	}
	if bytesOut > 0 {
		m.bytesOut.Add(float64(bytesOut))
	}
}

// RecordPreflight records an answered CORS pre-flight.
func (m *RelayMetrics) RecordPreflight() {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues("preflight", "200").Inc()
}

// RecordRejected records a request outside the relay contract.
func (m *RelayMetrics) RecordRejected(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues("rejected", strconv.Itoa(status)).Inc()
}
