// Package metrics exposes the Prometheus collectors for the messaging
// core, registered at package init the way the teacher's pkg/metrics
// registers warren's collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joynr_cc_messages_routed_total",
			Help: "Total messages routed, by hop kind (local, uds, mqtt, other, queued)",
		},
		[]string{"hop"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joynr_cc_messages_dropped_total",
			Help: "Total messages dropped, by reason (ttl-expired, queue-overflow)",
		},
		[]string{"reason"},
	)

	SendQueueEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "joynr_cc_send_queue_evictions_total",
			Help: "Total send-queue entries failed due to queue-size overflow",
		},
	)

	PublicationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "joynr_cc_publication_latency_seconds",
			Help:    "Time from attribute change / broadcast fire to publication emit",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "joynr_cc_active_subscriptions",
			Help: "Number of subscriptions currently ACTIVE, by kind",
		},
		[]string{"kind"},
	)

	TimerWheelDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "joynr_cc_timer_wheel_depth",
			Help: "Number of entries currently scheduled in the timer wheel",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesRouted,
		MessagesDropped,
		SendQueueEvictions,
		PublicationLatency,
		ActiveSubscriptions,
		TimerWheelDepth,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram in seconds.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
