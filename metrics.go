package sentry_client

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rr_sentry_client"
)

// metricsCollector implements prometheus.Collector interface
type metricsCollector struct {
	// Atomic counters for thread-safe metric updates
	sentEvents        atomic.Uint64 // 2xx responses
	failedEvents      atomic.Uint64 // network errors and non-2xx responses
	rateLimitedEvents atomic.Uint64 // 429s, rate limit headers and locally suppressed sends
	droppedEvents     atomic.Uint64 // detached sends dropped before dispatch
	retries           atomic.Uint64
	queueLength       func() int

	// Prometheus metric descriptors
	sentEventsDesc        *prometheus.Desc
	failedEventsDesc      *prometheus.Desc
	rateLimitedEventsDesc *prometheus.Desc
	droppedEventsDesc     *prometheus.Desc
	retriesDesc           *prometheus.Desc
	queueLengthDesc       *prometheus.Desc

	// Vector metric for captured events by level
	eventsByLevel *prometheus.CounterVec
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		sentEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sent_events_total"),
			"Total number of events accepted by Sentry",
			nil, nil),

		failedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failed_events_total"),
			"Total number of events that failed to send",
			nil, nil),

		rateLimitedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rate_limited_events_total"),
			"Total number of rate limited events",
			nil, nil),

		droppedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dropped_events_total"),
			"Total number of detached events dropped before sending",
			nil, nil),

		retriesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retries_total"),
			"Total number of delivery retries",
			nil, nil),

		queueLengthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_length"),
			"Number of detached events waiting for a worker",
			nil, nil),

		eventsByLevel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "captured_events_total"),
				Help: "Total number of captured events by level",
			},
			[]string{"level"}),
	}
}

// RecordOutcome increments the counter matching outcome. An accepted event
// counts as sent even when the response also carried rate limits.
func (mc *metricsCollector) RecordOutcome(outcome DeliveryOutcome) {
	switch {
	case outcome.Success:
		mc.sentEvents.Add(1)
	case outcome.RateLimited:
		mc.rateLimitedEvents.Add(1)
	default:
		mc.failedEvents.Add(1)
	}
}

// IncDroppedEvents increments dropped events counter
func (mc *metricsCollector) IncDroppedEvents() {
	mc.droppedEvents.Add(1)
}

// IncRetries increments the retry counter
func (mc *metricsCollector) IncRetries() {
	mc.retries.Add(1)
}

// IncEventsByLevel increments the captured counter for level
func (mc *metricsCollector) IncEventsByLevel(level Severity) {
	mc.eventsByLevel.WithLabelValues(string(level)).Inc()
}

// Snapshot returns the counters as TransportMetrics
func (mc *metricsCollector) Snapshot() TransportMetrics {
	m := TransportMetrics{
		EventsSent:      int64(mc.sentEvents.Load()),
		EventsFailed:    int64(mc.failedEvents.Load()),
		EventsRateLimit: int64(mc.rateLimitedEvents.Load()),
		EventsDropped:   int64(mc.droppedEvents.Load()),
		TotalRetries:    int64(mc.retries.Load()),
	}
	if mc.queueLength != nil {
		m.QueueLength = mc.queueLength()
	}
	return m
}

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.sentEventsDesc
	ch <- mc.failedEventsDesc
	ch <- mc.rateLimitedEventsDesc
	ch <- mc.droppedEventsDesc
	ch <- mc.retriesDesc
	ch <- mc.queueLengthDesc

	mc.eventsByLevel.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := mc.Snapshot()

	ch <- prometheus.MustNewConstMetric(mc.sentEventsDesc, prometheus.CounterValue, float64(s.EventsSent))
	ch <- prometheus.MustNewConstMetric(mc.failedEventsDesc, prometheus.CounterValue, float64(s.EventsFailed))
	ch <- prometheus.MustNewConstMetric(mc.rateLimitedEventsDesc, prometheus.CounterValue, float64(s.EventsRateLimit))
	ch <- prometheus.MustNewConstMetric(mc.droppedEventsDesc, prometheus.CounterValue, float64(s.EventsDropped))
	ch <- prometheus.MustNewConstMetric(mc.retriesDesc, prometheus.CounterValue, float64(s.TotalRetries))
	ch <- prometheus.MustNewConstMetric(mc.queueLengthDesc, prometheus.GaugeValue, float64(s.QueueLength))

	mc.eventsByLevel.Collect(ch)
}
