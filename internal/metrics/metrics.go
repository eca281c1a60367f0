package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whn_events_raised_total",
			Help: "Threshold/quota events raised by the monitor, by event type",
		},
		[]string{"event"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whn_delivery_attempts_total",
			Help: "Delivery attempt outcomes",
		},
		[]string{"outcome"}, // success|retrying|failed
	)

	DeliveryAttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whn_delivery_attempt_duration_seconds",
			Help:    "Wall time of a single outbound delivery attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whn_scan_cycles_total",
			Help: "Completed due-delivery scan cycles",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsRaisedTotal,
		DeliveryAttemptsTotal,
		DeliveryAttemptDuration,
		ScanCyclesTotal,
	)
}
