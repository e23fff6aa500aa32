package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var HttpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notepush_http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "notepush_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint", "method"},
)

var HttpRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notepush_http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

var DeliveryAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notepush_delivery_attempts_total",
		Help: "Total number of push delivery attempts by result",
	},
	[]string{"provider", "result"},
)

var DeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "notepush_delivery_duration_seconds",
		Help:    "Time taken by a single call to the push provider",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider"},
)

var DeliveryRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notepush_delivery_retries_total",
		Help: "Total number of delivery retries after a transient failure",
	},
	[]string{"provider"},
)

var DeliveryDroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notepush_delivery_dropped_total",
		Help: "Deliveries given up after the attempt ceiling",
	},
	[]string{"provider"},
)

var TokensInvalidatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notepush_tokens_invalidated_total",
		Help: "Delivery tokens invalidated after a permanent failure",
	},
)

var RemindersFiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notepush_reminders_fired_total",
		Help: "Reminder slots dispatched",
	},
)

var RemindersSkippedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notepush_reminders_skipped_total",
		Help: "Due reminder slots that were not dispatched",
	},
	[]string{"reason"},
)

var RemindersExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "notepush_reminders_expired_total",
		Help: "Reminder policies retired after their end time",
	},
)

var RemindersArmed = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "notepush_reminders_armed",
		Help: "Reminder policies with a pending fire time",
	},
)

var NoteEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notepush_note_events_total",
		Help: "Note store events consumed by type and status",
	},
	[]string{"type", "status"},
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. It's safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HttpRequestsTotal,
			HttpRequestDuration,
			HttpRateLimitRejectionsTotal,
			DeliveryAttemptsTotal,
			DeliveryDuration,
			DeliveryRetriesTotal,
			DeliveryDroppedTotal,
			TokensInvalidatedTotal,
			RemindersFiredTotal,
			RemindersSkippedTotal,
			RemindersExpiredTotal,
			RemindersArmed,
			NoteEventsTotal,
		)
	})
}
