package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks the number of outbound API calls (by endpoint group and result).
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_sdk_api_requests_total",
			Help: "Total number of API requests made (by endpoint and result).",
		},
		[]string{"endpoint", "result"},
	)

	// Measures duration of API requests.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "public_sdk_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint"},
	)

	// Counts scheduler ticks per manager.
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_sdk_poll_ticks_total",
			Help: "Total number of poll scheduler ticks (by manager and result).",
		},
		[]string{"manager", "result"}, // result = "ok" | "error" | "idle"
	)

	// Counts dispatched subscriber events.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_sdk_dispatches_total",
			Help: "Total number of subscriber callback dispatches.",
		},
		[]string{"manager", "kind"}, // kind = "sync" | "async"
	)

	// Counts callback failures; these never affect scheduling.
	CallbackErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_sdk_callback_errors_total",
			Help: "Total number of subscriber callbacks that panicked or errored.",
		},
		[]string{"manager"},
	)

	// Gauges currently active subscriptions per manager.
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "public_sdk_active_subscriptions",
			Help: "Number of subscriptions currently in ACTIVE state.",
		},
		[]string{"manager"},
	)

	// Tracks NATS event forwarding by subject and result.
	EventPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_sdk_event_publish_total",
			Help: "Total number of events forwarded to NATS.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	// Gauges the last successful poll time (seconds since epoch).
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "public_sdk_last_poll_timestamp",
			Help: "Timestamp (unix seconds) of the last successful poll.",
		},
		[]string{"manager"},
	)
)

// ObserveDuration records the time since start on the given histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncAPIRequest(endpoint, result string) {
	APIRequestsTotal.WithLabelValues(endpoint, result).Inc()
}

func IncPollTick(manager, result string) {
	PollTicksTotal.WithLabelValues(manager, result).Inc()
}

func IncDispatch(manager, kind string) {
	DispatchesTotal.WithLabelValues(manager, kind).Inc()
}

func IncCallbackError(manager string) {
	CallbackErrorsTotal.WithLabelValues(manager).Inc()
}

func SetActiveSubscriptions(manager string, n int) {
	ActiveSubscriptions.WithLabelValues(manager).Set(float64(n))
}

func IncEventPublish(subject, result string) {
	EventPublishTotal.WithLabelValues(subject, result).Inc()
}

func SetLastPoll(manager string, t time.Time) {
	LastPollTimestamp.WithLabelValues(manager).Set(float64(t.Unix()))
}
