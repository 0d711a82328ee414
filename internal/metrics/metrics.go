package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep deletion classes.
const (
	ClassExpired = "expired"
	ClassLegacy  = "legacy"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Message metrics
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trekchat_messages_appended_total",
			Help: "Total messages confirmed by the store",
		},
	)

	AppendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekchat_append_failures_total",
			Help: "Total failed append attempts",
		},
		[]string{"code"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trekchat_active_subscriptions",
			Help: "Open room stream subscriptions",
		},
	)

	// Sweep metrics
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trekchat_sweep_deleted_total",
			Help: "Messages deleted by the expiry sweeper",
		},
		[]string{"class"},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trekchat_sweep_failures_total",
			Help: "Room sweeps that ended with an error",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trekchat_sweep_duration_seconds",
			Help:    "Duration of a single room sweep",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)
)
