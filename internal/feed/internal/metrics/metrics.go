package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Source
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_events_received_total",
		Help: "The total number of change events received from the change stream",
	}, []string{"pipeline", "operation"})

	SourceRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_source_restarts_total",
		Help: "The total number of change stream restarts",
	}, []string{"pipeline", "action"})

	GapsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_gaps_detected_total",
		Help: "The total number of gaps detected",
	}, []string{"pipeline"})

	// Checkpoints
	CheckpointsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_checkpoints_saved_total",
		Help: "The total number of checkpoints saved",
	}, []string{"pipeline"})

	CheckpointErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_checkpoint_errors_total",
		Help: "The total number of checkpoint errors",
	}, []string{"pipeline"})

	// Projection
	EventsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_events_skipped_total",
		Help: "The total number of events skipped by an operator or the sink",
	}, []string{"pipeline", "stage"})

	EventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_events_applied_total",
		Help: "The total number of events projected into the feed cache",
	}, []string{"pipeline", "operation"})

	EventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_events_failed_total",
		Help: "The total number of events dropped after an error",
	}, []string{"pipeline", "stage"})

	ApplyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postfeed_apply_latency_seconds",
		Help:    "The latency of processing one event through the chain and sink",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"pipeline"})

	// Notifications
	NotificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_notifications_published_total",
		Help: "The total number of feed notifications published",
	}, []string{"pipeline"})

	NotificationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_notification_errors_total",
		Help: "The total number of feed notification publish errors",
	}, []string{"pipeline"})
)

func init() {
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(SourceRestarts)
	prometheus.MustRegister(GapsDetected)
	prometheus.MustRegister(CheckpointsSaved)
	prometheus.MustRegister(CheckpointErrors)
	prometheus.MustRegister(EventsSkipped)
	prometheus.MustRegister(EventsApplied)
	prometheus.MustRegister(EventsFailed)
	prometheus.MustRegister(ApplyLatency)
	prometheus.MustRegister(NotificationsPublished)
	prometheus.MustRegister(NotificationErrors)
}
