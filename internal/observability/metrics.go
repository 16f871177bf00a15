// Package observability provides the pipeline's Prometheus metrics.
//
// Adapted field-for-field from the teacher's
// internal/platform/observability/metrics.go: same sync.Once
// singleton and promauto constructors, re-scoped from ASGARD's HTTP/
// WebSocket/satellite/DTN concerns to this pipeline's stages.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the pipeline emits.
type Metrics struct {
	// Tracker (§4.1)
	FramesProcessed   prometheus.Counter
	DetectionsPerFrame prometheus.Histogram
	ActiveTracks      prometheus.Gauge
	TracksCreated     prometheus.Counter
	TracksDeleted     *prometheus.CounterVec
	AssociationLatency prometheus.Histogram

	// Behavior (§4.2)
	BehaviorFlagsRaised *prometheus.CounterVec
	ThreatScore         prometheus.Histogram

	// Trajectory / event predictor / timeline (§4.3-4.5)
	TrajectoryLatency  prometheus.Histogram
	EventsPredicted    *prometheus.CounterVec
	EventsDiscarded    prometheus.Counter
	ActiveTimelines    prometheus.Gauge
	InterventionsFound prometheus.Counter
	TimelineLatency    prometheus.Histogram

	// IPC publisher (§4.6)
	PublishLatency *prometheus.HistogramVec
	PublishErrors  *prometheus.CounterVec
	CommandsHandled *prometheus.CounterVec

	// Swarm (§6)
	SwarmMessagesPublished *prometheus.CounterVec
	SwarmMessagesReceived  *prometheus.CounterVec
	SwarmConnectionStatus  prometheus.Gauge

	// Pipeline errors (§7)
	PipelineErrors *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance, creating it once.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = initializeMetrics()
	})
	return globalMetrics
}

func initializeMetrics() *Metrics {
	m := &Metrics{}

	m.FramesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "tracker",
			Name:      "frames_processed_total",
			Help:      "Total detection frames processed",
		},
	)

	m.DetectionsPerFrame = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Subsystem: "tracker",
			Name:      "detections_per_frame",
			Help:      "Number of detections in each processed frame",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		},
	)

	m.ActiveTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentry",
			Subsystem: "tracker",
			Name:      "active_tracks",
			Help:      "Number of currently confirmed tracks",
		},
	)

	m.TracksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "tracker",
			Name:      "tracks_created_total",
			Help:      "Total tracks created",
		},
	)

	m.TracksDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "tracker",
			Name:      "tracks_deleted_total",
			Help:      "Total tracks deleted, by reason",
		},
		[]string{"reason"},
	)

	m.AssociationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Subsystem: "tracker",
			Name:      "association_latency_seconds",
			Help:      "Detection-to-track association latency",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	m.BehaviorFlagsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "behavior",
			Name:      "flags_raised_total",
			Help:      "Total behavior flags raised, by flag name",
		},
		[]string{"flag"},
	)

	m.ThreatScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Subsystem: "behavior",
			Name:      "threat_score",
			Help:      "Distribution of per-track threat scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	m.TrajectoryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Subsystem: "trajectory",
			Name:      "predict_latency_seconds",
			Help:      "Per-track trajectory prediction latency",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	m.EventsPredicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "events",
			Name:      "predicted_total",
			Help:      "Total predicted events retained, by type and severity",
		},
		[]string{"type", "severity"},
	)

	m.EventsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "events",
			Name:      "discarded_total",
			Help:      "Total candidate events discarded below event_threshold",
		},
	)

	m.ActiveTimelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentry",
			Subsystem: "timeline",
			Name:      "active_timelines",
			Help:      "Number of timelines in the current Active set",
		},
	)

	m.InterventionsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "timeline",
			Name:      "interventions_found_total",
			Help:      "Total intervention points retained across updates",
		},
	)

	m.TimelineLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Subsystem: "timeline",
			Name:      "update_latency_seconds",
			Help:      "Full timeline engine update latency",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	m.PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Subsystem: "ipc",
			Name:      "publish_latency_seconds",
			Help:      "Shared-memory publish latency, by region",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005},
		},
		[]string{"region"},
	)

	m.PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "ipc",
			Name:      "publish_errors_total",
			Help:      "Total publish failures, by region",
		},
		[]string{"region"},
	)

	m.CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "ipc",
			Name:      "commands_handled_total",
			Help:      "Total commands handled over the command/ack channel",
		},
		[]string{"command"},
	)

	m.SwarmMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "swarm",
			Name:      "messages_published_total",
			Help:      "Total NATS messages published, by subject",
		},
		[]string{"subject"},
	)

	m.SwarmMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "swarm",
			Name:      "messages_received_total",
			Help:      "Total NATS messages received, by subject",
		},
		[]string{"subject"},
	)

	m.SwarmConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentry",
			Subsystem: "swarm",
			Name:      "connection_status",
			Help:      "NATS connection status (1 = connected, 0 = disconnected)",
		},
	)

	m.PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Total pipeline errors, by kind (§7 never-fail-a-frame counters)",
		},
		[]string{"kind"},
	)

	return m
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records one retained predicted event.
func RecordEvent(eventType, severity string) {
	GetMetrics().EventsPredicted.WithLabelValues(eventType, severity).Inc()
}

// RecordTrackDeleted records a track leaving the confirmed set.
func RecordTrackDeleted(reason string) {
	GetMetrics().TracksDeleted.WithLabelValues(reason).Inc()
}

// RecordPublish records one region publish's latency.
func RecordPublish(region string, d time.Duration) {
	GetMetrics().PublishLatency.WithLabelValues(region).Observe(d.Seconds())
}

// RecordPublishError records a failed region publish.
func RecordPublishError(region string) {
	GetMetrics().PublishErrors.WithLabelValues(region).Inc()
}

// RecordCommand records a handled command/ack channel command.
func RecordCommand(command string) {
	GetMetrics().CommandsHandled.WithLabelValues(command).Inc()
}

// RecordSwarmConnectionStatus updates the NATS connection gauge.
func RecordSwarmConnectionStatus(connected bool) {
	if connected {
		GetMetrics().SwarmConnectionStatus.Set(1)
	} else {
		GetMetrics().SwarmConnectionStatus.Set(0)
	}
}

// RecordPipelineError records one pipeline error by kind.
func RecordPipelineError(kind string) {
	GetMetrics().PipelineErrors.WithLabelValues(kind).Inc()
}
